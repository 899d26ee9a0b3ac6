// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events fans engine events out to in-process subscribers. The
// websocket feed, the CLI walk view, and tests all subscribe here; the
// engine only ever publishes.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Type names one kind of engine event.
type Type string

const (
	TypeBatchStaged          Type = "batch.staged"
	TypeBatchCommitted       Type = "batch.committed"
	TypeBatchFailed          Type = "batch.failed"
	TypeStubRejected         Type = "stub.rejected"
	TypeReconnectCommitted   Type = "reconnection.committed"
	TypeReconnectDiscarded   Type = "reconnection.discarded"
	TypeLocationQuarantined  Type = "location.quarantined"
	TypeLocationCrystallized Type = "location.crystallized"
)

// Event is one observable step of the engine's work. Payload keys are
// event-specific; consumers treat them as informational.
type Event struct {
	Type    Type           `json:"type"`
	Time    time.Time      `json:"time"`
	RootID  string         `json:"root_id,omitempty"`
	BatchID string         `json:"batch_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Hub is the in-process event fan-out.
//
// Publish never blocks: a subscriber whose buffer is full loses that event
// and the hub counts the drop. A stalled websocket client must not be able
// to stall expansion.
//
// # Thread Safety
//
// Safe for concurrent use.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	nextID  int
	subs    map[int]*subscriber
	dropped atomic.Int64
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[int]*subscriber),
	}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. Cancel closes the channel; the caller must stop reading after
// calling it. A buffer of zero gets a small default.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber that has room for it. A
// zero Time is stamped with the current time.
func (h *Hub) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
			h.logger.Debug("Event dropped for slow subscriber", "type", string(evt.Type))
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many events were lost to full subscriber buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
