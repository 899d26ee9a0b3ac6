// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// flakyStore fails the first failCount calls with failErr, then delegates
// to an in-memory store.
type flakyStore struct {
	*MemoryStore
	failCount int
	failErr   error
	calls     int
}

func (f *flakyStore) GetLocation(ctx context.Context, id string) (world.Location, error) {
	f.calls++
	if f.calls <= f.failCount {
		return world.Location{}, f.failErr
	}
	return f.MemoryStore.GetLocation(ctx, id)
}

func newFlaky(t *testing.T, failCount int, failErr error) *flakyStore {
	t.Helper()
	mem := NewMemoryStore()
	if err := mem.UpsertLocation(context.Background(), testLocation("a", world.TerrainCave)); err != nil {
		t.Fatal(err)
	}
	return &flakyStore{MemoryStore: mem, failCount: failCount, failErr: failErr}
}

func TestWithRetryRecoversFromTransient(t *testing.T) {
	flaky := newFlaky(t, 2, fmt.Errorf("store offline: %w", world.ErrTransient))
	store, err := WithRetry(flaky, RetryConfig{MaxRetries: 3, Backoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}

	loc, err := store.GetLocation(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetLocation after transient failures: %v", err)
	}
	if loc.ID != "a" {
		t.Errorf("got location %q, want a", loc.ID)
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3 (two failures, one success)", flaky.calls)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	flaky := newFlaky(t, 10, fmt.Errorf("store offline: %w", world.ErrTransient))
	store, err := WithRetry(flaky, RetryConfig{MaxRetries: 2, Backoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.GetLocation(context.Background(), "a")
	if err == nil {
		t.Fatal("expected failure after retry budget exhausted")
	}
	if !errors.Is(err, world.ErrTransient) {
		t.Errorf("error should still wrap ErrTransient, got %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", flaky.calls)
	}
}

func TestWithRetryDoesNotRetryTerminalErrors(t *testing.T) {
	flaky := newFlaky(t, 10, world.ErrNotFound)
	store, err := WithRetry(flaky, RetryConfig{MaxRetries: 5, Backoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.GetLocation(context.Background(), "a")
	if !errors.Is(err, world.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if flaky.calls != 1 {
		t.Errorf("calls = %d, want 1 (terminal errors never retry)", flaky.calls)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	flaky := newFlaky(t, 10, fmt.Errorf("store offline: %w", world.ErrTransient))
	store, err := WithRetry(flaky, RetryConfig{MaxRetries: 5, Backoff: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = store.GetLocation(ctx, "a")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v; the backoff wait ignored ctx", elapsed)
	}
}

func TestWithRetryRejectsBadConfig(t *testing.T) {
	if _, err := WithRetry(nil, DefaultRetryConfig(), nil); err == nil {
		t.Error("nil inner store accepted")
	}
	if _, err := WithRetry(NewMemoryStore(), RetryConfig{MaxRetries: -1, Backoff: time.Second}, nil); err == nil {
		t.Error("negative MaxRetries accepted")
	}
	if _, err := WithRetry(NewMemoryStore(), RetryConfig{MaxRetries: 1, Backoff: 0}, nil); err == nil {
		t.Error("zero backoff accepted")
	}
}
