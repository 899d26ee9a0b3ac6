// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package staging holds validated batches out of sight until the
// orchestrator decides their fate. Staged locations live only in handle
// memory, so no read path can observe them before Commit writes them into
// the graph store. Commit is at-most-once per handle: a second call on a
// committed handle fails with world.ErrAlreadyCommitted rather than
// silently doing nothing.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

type handleState int

const (
	statePending handleState = iota
	stateCommitted
	stateDiscarded
)

// Handle is the orchestrator's claim ticket on one staged batch. The staged
// copy is private to the handle; accessors return clones.
type Handle struct {
	id       string
	stagedAt time.Time

	mu    sync.Mutex
	state handleState
	batch *world.GenerationBatch
}

// ID returns the handle's identifier.
func (h *Handle) ID() string { return h.id }

// StagedAt returns when the batch entered staging.
func (h *Handle) StagedAt() time.Time { return h.stagedAt }

// BatchID returns the staged batch's identifier.
func (h *Handle) BatchID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batch.ID
}

// Root returns a clone of the staged batch's root location.
func (h *Handle) Root() world.Location {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batch.Root.Clone()
}

// Stubs returns clones of the staged stubs. Only the orchestrator holds the
// handle, so this is the sole window onto pre-commit state.
func (h *Handle) Stubs() []world.Stub {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneStubs(h.batch.Stubs)
}

// Area stages batches and applies commit decisions. All graph writes for
// expansion flow through Commit, which takes the per-location locks before
// touching exit slots.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent Commit calls on the same handle
// serialize; the loser observes the handle already committed.
type Area struct {
	store      storage.GraphStore
	locks      *world.KeyedLocks
	quarantine *world.Quarantine
	logger     *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewArea builds a staging area over the given store. The lock registry is
// shared with every other commit path so slot writes never race.
func NewArea(store storage.GraphStore, locks *world.KeyedLocks, quarantine *world.Quarantine, logger *slog.Logger) (*Area, error) {
	if store == nil {
		return nil, errors.New("staging: nil graph store")
	}
	if locks == nil {
		locks = world.NewKeyedLocks()
	}
	if quarantine == nil {
		quarantine = world.NewQuarantine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Area{
		store:      store,
		locks:      locks,
		quarantine: quarantine,
		logger:     logger,
		handles:    make(map[string]*Handle),
	}, nil
}

// Stage copies the batch into staging and promotes its stubs to pending.
//
// Description:
//
//	The staged copy is deep: the caller can keep mutating its batch without
//	reaching staged state. Every stub must still be in the stub state;
//	staging is the one place the stub -> pending transition happens, so a
//	batch that skipped the gate chain or was staged twice is rejected here.
//
// Outputs:
//
//	*Handle - Claim ticket for Commit or Discard.
//	error - Nil batch, empty batch, or a stub in the wrong lifecycle state.
func (a *Area) Stage(batch *world.GenerationBatch) (*Handle, error) {
	if batch == nil {
		return nil, errors.New("stage: nil batch")
	}
	if len(batch.Stubs) == 0 {
		return nil, fmt.Errorf("stage batch %s: no accepted stubs", batch.ID)
	}

	staged := *batch
	staged.Root = batch.Root.Clone()
	staged.Stubs = cloneStubs(batch.Stubs)
	for i := range staged.Stubs {
		if err := staged.Stubs[i].Location.Advance(world.StatePending); err != nil {
			return nil, fmt.Errorf("stage batch %s: %w", batch.ID, err)
		}
	}

	h := &Handle{
		id:       uuid.NewString(),
		stagedAt: time.Now().UTC(),
		batch:    &staged,
	}

	a.mu.Lock()
	a.handles[h.id] = h
	a.mu.Unlock()

	a.logger.Debug("Batch staged",
		"handleID", h.id,
		"batchID", staged.ID,
		"root", staged.Root.ID,
		"stubs", len(staged.Stubs))
	return h, nil
}

// Commit crystallizes the staged stubs and writes them, with their exit
// pairs, into the graph store.
//
// Description:
//
//	Locations are written before exits so no edge ever dangles. Each stub
//	produces one slot exit from the root plus its reciprocal; the pair is
//	written back to back to keep the window without a reciprocal as small
//	as possible. Cancellation is honored up to the start of the write
//	phase; once writing begins the commit runs to completion regardless of
//	the caller's context. A transient store failure leaves the handle
//	pending, and
//	because upserts are idempotent the caller may simply call Commit again.
//	A terminal failure after the forward edge of a pair landed is an
//	integrity violation: the origin is quarantined and the error reports
//	the defect site.
//
// Outputs:
//
//	[]world.Location - The crystallized locations, in stub order.
//	[]world.Exit - The committed exits, forward then reciprocal per stub.
//	error - world.ErrAlreadyCommitted, world.ErrDiscarded,
//	        world.ErrQuarantined, store failures, or cancellation.
func (a *Area) Commit(ctx context.Context, h *Handle) ([]world.Location, []world.Exit, error) {
	if h == nil {
		return nil, nil, errors.New("commit: nil handle")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case stateCommitted:
		return nil, nil, fmt.Errorf("commit handle %s: %w", h.id, world.ErrAlreadyCommitted)
	case stateDiscarded:
		return nil, nil, fmt.Errorf("commit handle %s: %w", h.id, world.ErrDiscarded)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	batch := h.batch
	if err := a.quarantine.Check(batch.Root.ID); err != nil {
		return nil, nil, fmt.Errorf("commit handle %s: %w", h.id, err)
	}

	keys := make([]string, 0, len(batch.Stubs)+1)
	keys = append(keys, batch.Root.ID)
	for i := range batch.Stubs {
		keys = append(keys, batch.Stubs[i].Location.ID)
	}
	unlock := a.locks.LockMany(keys...)
	defer unlock()

	// The lock wait may have outlived the caller.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// Past this point the commit is irrevocable. The write phase runs
	// insulated from caller cancellation so a client disconnect landing
	// between a pair's writes cannot masquerade as an integrity defect;
	// quarantine is reserved for genuine store failures.
	writeCtx := context.WithoutCancel(ctx)

	locations := make([]world.Location, 0, len(batch.Stubs))
	exits := make([]world.Exit, 0, len(batch.Stubs)*2)

	for i := range batch.Stubs {
		stub := &batch.Stubs[i]
		loc := stub.Location.Clone()
		if err := loc.Advance(world.StateCrystallized); err != nil {
			return nil, nil, fmt.Errorf("commit handle %s: %w", h.id, err)
		}
		forward := world.Exit{
			Origin:      batch.Root.ID,
			Destination: loc.ID,
			Direction:   stub.Slot,
			Duration:    stub.Duration,
			Hook:        stub.Hook,
		}
		if err := forward.Validate(); err != nil {
			return nil, nil, fmt.Errorf("commit handle %s: %w", h.id, err)
		}
		locations = append(locations, loc)
		exits = append(exits, forward, forward.Reciprocal())
	}

	for _, loc := range locations {
		if err := a.store.UpsertLocation(writeCtx, loc); err != nil {
			return nil, nil, fmt.Errorf("commit handle %s: location %s: %w", h.id, loc.ID, err)
		}
	}
	for i := 0; i < len(exits); i += 2 {
		forward, reciprocal := exits[i], exits[i+1]
		if err := a.store.UpsertExit(writeCtx, forward); err != nil {
			return nil, nil, fmt.Errorf("commit handle %s: exit %s: %w", h.id, forward.SlotKey(), err)
		}
		if err := a.store.UpsertExit(writeCtx, reciprocal); err != nil {
			if world.Retryable(err) {
				return nil, nil, fmt.Errorf("commit handle %s: exit %s: %w", h.id, reciprocal.SlotKey(), err)
			}
			// The forward edge landed without its twin and the failure is
			// terminal. Halt further commits at the origin until an
			// operator repairs the pair.
			a.quarantine.Flag(forward.Origin, fmt.Sprintf(
				"exit %s committed without reciprocal: %v", forward.SlotKey(), err))
			return nil, nil, fmt.Errorf("commit handle %s: %w", h.id, &world.IntegrityError{
				LocationID: forward.Origin,
				Direction:  forward.Direction,
				Reason:     fmt.Sprintf("reciprocal write failed: %v", err),
			})
		}
	}

	h.state = stateCommitted
	h.batch.Stubs = nil

	a.mu.Lock()
	delete(a.handles, h.id)
	a.mu.Unlock()

	a.logger.Info("Batch committed",
		"handleID", h.id,
		"batchID", batch.ID,
		"root", batch.Root.ID,
		"locations", len(locations),
		"exits", len(exits))
	return locations, exits, nil
}

// Discard drops a staged batch without writing anything.
//
// Discarding twice is a no-op; discarding a committed handle fails with
// world.ErrAlreadyCommitted because the writes cannot be taken back here.
func (a *Area) Discard(h *Handle) error {
	if h == nil {
		return errors.New("discard: nil handle")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case stateCommitted:
		return fmt.Errorf("discard handle %s: %w", h.id, world.ErrAlreadyCommitted)
	case stateDiscarded:
		return nil
	}

	h.state = stateDiscarded
	h.batch.Stubs = nil

	a.mu.Lock()
	delete(a.handles, h.id)
	a.mu.Unlock()

	a.logger.Debug("Batch discarded", "handleID", h.id)
	return nil
}

// PendingCount reports how many batches are staged and undecided.
func (a *Area) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

func cloneStubs(stubs []world.Stub) []world.Stub {
	out := make([]world.Stub, len(stubs))
	for i := range stubs {
		out[i] = stubs[i]
		out[i].Location = stubs[i].Location.Clone()
		if len(stubs[i].Proposals) > 0 {
			out[i].Proposals = make([]world.ExitProposal, len(stubs[i].Proposals))
			copy(out[i].Proposals, stubs[i].Proposals)
		}
	}
	return out
}
