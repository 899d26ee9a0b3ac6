// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reconnect

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Worker default sizing.
const (
	DefaultQueueSize   = 64
	DefaultWorkerCount = 2
)

// Worker runs reconnection searches in the background. The expansion
// orchestrator schedules a search for every location it commits; searches
// are best-effort, so a full queue drops the request rather than slowing a
// commit down. A dropped location is not lost forever: any later expansion
// around it schedules it again.
type Worker struct {
	searcher    *Searcher
	queue       chan string
	logger      *slog.Logger
	workerCount int

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

// NewWorker builds a Worker. Zero queueSize or workerCount means the
// defaults. Start must be called before scheduled searches run.
func NewWorker(searcher *Searcher, queueSize, workerCount int, logger *slog.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		searcher:    searcher,
		queue:       make(chan string, queueSize),
		logger:      logger,
		workerCount: workerCount,
		stop:        make(chan struct{}),
	}
}

// Start launches the worker goroutines. They run until Stop is called or
// ctx is cancelled, whichever comes first.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workerCount; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case id := <-w.queue:
			if _, err := w.searcher.Search(ctx, id, 0); err != nil {
				w.logger.Warn("Background reconnection search failed",
					"location", id, "error", err)
			}
		}
	}
}

// Schedule enqueues one location for reconnection search. Never blocks; a
// full queue drops the request and counts the drop.
func (w *Worker) Schedule(locationID string) {
	select {
	case w.queue <- locationID:
	default:
		w.dropped.Add(1)
		w.logger.Debug("Reconnection queue full; dropping", "location", locationID)
	}
}

// Stop halts the workers and waits for in-flight searches to finish.
// Idempotent.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

// Dropped reports how many scheduled searches were discarded to a full
// queue.
func (w *Worker) Dropped() int64 {
	return w.dropped.Load()
}
