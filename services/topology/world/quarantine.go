// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package world

import (
	"fmt"
	"sync"
	"time"
)

// QuarantineEntry records why a location's commits were halted.
type QuarantineEntry struct {
	LocationID string    `json:"location_id"`
	Reason     string    `json:"reason"`
	FlaggedAt  time.Time `json:"flagged_at"`
}

// Quarantine tracks locations flagged for manual repair after an integrity
// violation. Commit paths consult it before writing exits: a flagged
// location refuses all further commits until an operator clears it. The
// engine never auto-corrects integrity defects, since silent correction
// could mask a systemic bug.
//
// Thread Safety: safe for concurrent use.
type Quarantine struct {
	mu      sync.RWMutex
	entries map[string]QuarantineEntry
}

// NewQuarantine returns an empty registry.
func NewQuarantine() *Quarantine {
	return &Quarantine{entries: make(map[string]QuarantineEntry)}
}

// Flag halts further commits for the location. Re-flagging keeps the
// earliest entry; the first defect report is the one an operator wants.
func (q *Quarantine) Flag(locationID, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.entries[locationID]; exists {
		return
	}
	q.entries[locationID] = QuarantineEntry{
		LocationID: locationID,
		Reason:     reason,
		FlaggedAt:  time.Now().UTC(),
	}
}

// Check returns ErrQuarantined if the location is flagged.
func (q *Quarantine) Check(locationID string) error {
	q.mu.RLock()
	entry, flagged := q.entries[locationID]
	q.mu.RUnlock()
	if flagged {
		return fmt.Errorf("%w: %s flagged at %s: %s",
			ErrQuarantined, locationID, entry.FlaggedAt.Format(time.RFC3339), entry.Reason)
	}
	return nil
}

// Clear lifts the flag after manual repair. Returns false if the location
// was not flagged.
func (q *Quarantine) Clear(locationID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, flagged := q.entries[locationID]; !flagged {
		return false
	}
	delete(q.entries, locationID)
	return true
}

// Entries lists current flags sorted by nothing in particular; callers sort.
func (q *Quarantine) Entries() []QuarantineEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]QuarantineEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e)
	}
	return out
}
