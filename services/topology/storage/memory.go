// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// MemoryStore is the in-memory GraphStore. It backs tests, the one-shot CLI
// commands, and disposable worlds; durable deployments use the badger store.
//
// Thread Safety: safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	locations map[string]world.Location
	// exits keys by origin ID, then direction.
	exits map[string]map[world.Direction]world.Exit
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[string]world.Location),
		exits:     make(map[string]map[world.Direction]world.Exit),
	}
}

// UpsertLocation stores a deep copy, so later caller mutations cannot reach
// the stored state.
func (m *MemoryStore) UpsertLocation(ctx context.Context, loc world.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.ID] = loc.Clone()
	return nil
}

func (m *MemoryStore) UpsertExit(ctx context.Context, exit world.Exit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := exit.Validate(); err != nil {
		return fmt.Errorf("upsert exit: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	slots, ok := m.exits[exit.Origin]
	if !ok {
		slots = make(map[world.Direction]world.Exit)
		m.exits[exit.Origin] = slots
	}
	if existing, occupied := slots[exit.Direction]; occupied && existing.Destination != exit.Destination {
		return fmt.Errorf("exit %s (%s) already leads to %s: %w",
			exit.Origin, exit.Direction, existing.Destination, world.ErrSlotOccupied)
	}
	slots[exit.Direction] = exit
	return nil
}

func (m *MemoryStore) GetLocation(ctx context.Context, id string) (world.Location, error) {
	if err := ctx.Err(); err != nil {
		return world.Location{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[id]
	if !ok {
		return world.Location{}, fmt.Errorf("location %s: %w", id, world.ErrNotFound)
	}
	return loc.Clone(), nil
}

// ExitsFrom returns outgoing exits in canonical direction order, so
// traversals and tests see a stable sequence.
func (m *MemoryStore) ExitsFrom(ctx context.Context, id string) ([]world.Exit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := m.exits[id]
	if len(slots) == 0 {
		return nil, nil
	}
	out := make([]world.Exit, 0, len(slots))
	for _, d := range world.Directions {
		if e, ok := slots[d]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Neighbors(ctx context.Context, id string, maxHops int) ([]world.Location, []world.Exit, error) {
	return CollectNeighbors(ctx, m, id, maxHops)
}

// ForEachLocation visits every stored location in ID order. Used by the
// snapshot exporter; not part of the GraphStore contract.
func (m *MemoryStore) ForEachLocation(ctx context.Context, fn func(world.Location) error) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.locations))
	for id := range m.locations {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.RLock()
		loc, ok := m.locations[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn(loc.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// ForEachExit visits every stored exit grouped by origin, origins in ID
// order and slots in canonical direction order.
func (m *MemoryStore) ForEachExit(ctx context.Context, fn func(world.Exit) error) error {
	m.mu.RLock()
	origins := make([]string, 0, len(m.exits))
	for id := range m.exits {
		origins = append(origins, id)
	}
	m.mu.RUnlock()
	sort.Strings(origins)

	for _, origin := range origins {
		if err := ctx.Err(); err != nil {
			return err
		}
		exits, err := m.ExitsFrom(ctx, origin)
		if err != nil {
			return err
		}
		for _, e := range exits {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len reports stored location and exit counts. Handy in tests and health
// detail.
func (m *MemoryStore) Len() (locations, exits int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	locations = len(m.locations)
	for _, slots := range m.exits {
		exits += len(slots)
	}
	return locations, exits
}
