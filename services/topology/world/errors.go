// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package world

import (
	"errors"
	"fmt"
)

// Sentinel errors for the topology engine. Callers match with errors.Is.
var (
	// ErrNotFound indicates a location or exit lookup missed.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDirection indicates a token outside the canonical direction set.
	ErrInvalidDirection = errors.New("invalid direction")

	// ErrSlotOccupied indicates an exit already exists for an (origin, direction)
	// pair. Direction slots are unique; the second writer loses.
	ErrSlotOccupied = errors.New("direction slot occupied")

	// ErrBaseImmutable indicates an attempt to rewrite a crystallized base
	// description. Only additive layers may be appended after crystallization.
	ErrBaseImmutable = errors.New("base description is immutable after crystallization")

	// ErrAlreadyCommitted indicates a second Commit on a staging handle.
	// Commit is at-most-once; a repeat call is a programming error.
	ErrAlreadyCommitted = errors.New("staging handle already committed")

	// ErrDiscarded indicates an operation on a handle that was discarded.
	ErrDiscarded = errors.New("staging handle discarded")

	// ErrTransient marks infrastructure failures (store or network hiccups)
	// that are safe to retry with bounded backoff.
	ErrTransient = errors.New("transient infrastructure failure")

	// ErrOracleTimeout marks a narrative oracle deadline expiry. The whole
	// batch fails; there is no partial credit for stubs the oracle finished.
	ErrOracleTimeout = errors.New("narrative oracle timeout")

	// ErrSafetyRejected marks content the safety classifier refused. Terminal
	// for the stub; never retried automatically.
	ErrSafetyRejected = errors.New("safety rejection")

	// ErrConsistencyRejected marks a reconnection candidate whose endpoint
	// descriptions contradict each other. Discarded and logged, never retried
	// silently.
	ErrConsistencyRejected = errors.New("consistency rejection")

	// ErrIntegrity marks a violated structural invariant, e.g. an exit
	// observed without its reciprocal. Fatal for the affected location:
	// further commits halt pending manual repair. Never auto-corrected.
	ErrIntegrity = errors.New("integrity violation")

	// ErrQuarantined indicates a write was refused because the location is
	// flagged for manual repair after an integrity violation.
	ErrQuarantined = errors.New("location quarantined pending repair")
)

// Retryable reports whether err is worth retrying with backoff. Oracle
// timeouts count: the batch failed atomically, so re-running the trigger is
// safe.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrOracleTimeout)
}

// IntegrityError carries the defect site for an ErrIntegrity, so repair
// tooling can find the affected vertex without parsing log lines.
type IntegrityError struct {
	LocationID string
	Direction  Direction
	Reason     string
}

func (e *IntegrityError) Error() string {
	if e.Direction != "" {
		return fmt.Sprintf("integrity violation at %s (%s): %s", e.LocationID, e.Direction, e.Reason)
	}
	return fmt.Sprintf("integrity violation at %s: %s", e.LocationID, e.Reason)
}

// Is lets errors.Is(err, ErrIntegrity) match wrapped IntegrityErrors.
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }
