// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// auditBuffer sizes the audit subscription well above the hub default so a
// slow disk sheds events later than a slow websocket client would.
const auditBuffer = 256

// AuditWriter drains a hub subscription into JSON Lines, one event per
// line, in publish order. It is the durable record of what the engine did;
// the service starts one when an audit path is configured and closes it on
// shutdown.
//
// Write failures are logged and counted, never fatal: a full disk must not
// take the engine down with it.
type AuditWriter struct {
	w      io.Writer
	cancel func()
	logger *slog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex // serializes encoding with Close
	written atomic.Int64
	failed  atomic.Int64
}

// NewAuditWriter subscribes to the hub and starts draining into w. The
// caller owns w and closes it after Close returns.
func NewAuditWriter(hub *Hub, w io.Writer, logger *slog.Logger) *AuditWriter {
	if logger == nil {
		logger = slog.Default()
	}
	ch, cancel := hub.Subscribe(auditBuffer)
	a := &AuditWriter{w: w, cancel: cancel, logger: logger}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for evt := range ch {
			a.append(evt)
		}
	}()
	return a
}

func (a *AuditWriter) append(evt Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// Encode terminates each record with a newline, which is the whole of
	// the JSONL framing.
	if err := json.NewEncoder(a.w).Encode(evt); err != nil {
		a.failed.Add(1)
		a.logger.Error("Audit event write failed", "type", string(evt.Type), "error", err)
		return
	}
	a.written.Add(1)
}

// Close cancels the subscription, drains what was already buffered, and
// returns an error if any event failed to reach the writer.
func (a *AuditWriter) Close() error {
	a.cancel()
	a.wg.Wait()
	if n := a.failed.Load(); n > 0 {
		return fmt.Errorf("audit log dropped %d events on write failures", n)
	}
	return nil
}

// Written reports how many events reached the writer.
func (a *AuditWriter) Written() int64 {
	return a.written.Load()
}
