// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for an event")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return Event{}
}

func TestHubDeliversToAllSubscribers(t *testing.T) {
	hub := testHub()

	chA, cancelA := hub.Subscribe(4)
	defer cancelA()
	chB, cancelB := hub.Subscribe(4)
	defer cancelB()

	hub.Publish(Event{Type: TypeBatchCommitted, RootID: "root-1", BatchID: "batch-1"})

	for _, ch := range []<-chan Event{chA, chB} {
		evt := receive(t, ch)
		if evt.Type != TypeBatchCommitted || evt.RootID != "root-1" {
			t.Errorf("event = %+v, want batch.committed for root-1", evt)
		}
		if evt.Time.IsZero() {
			t.Error("publish should stamp a zero time")
		}
	}
}

func TestHubCancelStopsDelivery(t *testing.T) {
	hub := testHub()

	ch, cancel := hub.Subscribe(4)
	cancel()

	if _, ok := <-ch; ok {
		t.Error("cancelled channel should be closed")
	}
	if hub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d after cancel, want 0", hub.SubscriberCount())
	}

	// Publishing after cancel must not panic on the closed channel.
	hub.Publish(Event{Type: TypeBatchStaged})

	// Repeat cancel is a no-op.
	cancel()
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := testHub()

	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(Event{Type: TypeBatchStaged, BatchID: "batch-1"})
	hub.Publish(Event{Type: TypeBatchCommitted, BatchID: "batch-1"})

	if hub.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", hub.Dropped())
	}
	evt := receive(t, ch)
	if evt.Type != TypeBatchStaged {
		t.Errorf("surviving event = %s, want the first published", evt.Type)
	}
}

func TestHubKeepsExplicitTime(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hub.Publish(Event{Type: TypeStubRejected, Time: stamp})

	if evt := receive(t, ch); !evt.Time.Equal(stamp) {
		t.Errorf("event time = %v, want %v", evt.Time, stamp)
	}
}
