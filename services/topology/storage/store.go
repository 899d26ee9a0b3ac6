// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the graph store contract consumed by the topology
// engine and provides the in-memory reference implementation. The durable
// badger-backed store lives in the badger subpackage.
package storage

import (
	"context"
	"fmt"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// GraphStore is the engine's only gateway to durable world state.
//
// Upserts are idempotent: locations key by ID, exits by (origin, direction).
// Re-upserting an exit whose slot already points at the same destination
// updates cost and hook in place. An upsert that would repoint an occupied
// slot at a different destination fails with world.ErrSlotOccupied; slot
// conflicts are resolved by the caller's locking, never by overwrite.
type GraphStore interface {
	UpsertLocation(ctx context.Context, loc world.Location) error
	UpsertExit(ctx context.Context, exit world.Exit) error
	GetLocation(ctx context.Context, id string) (world.Location, error)
	// ExitsFrom returns the outgoing exits of one location in direction order.
	ExitsFrom(ctx context.Context, id string) ([]world.Exit, error)
	// Neighbors returns every location reachable within maxHops of id
	// (excluding id itself) and every outgoing exit of the visited set, in
	// breadth-first order.
	Neighbors(ctx context.Context, id string, maxHops int) ([]world.Location, []world.Exit, error)
}

// GraphReader is the read slice of GraphStore that the shared traversal
// needs.
type GraphReader interface {
	GetLocation(ctx context.Context, id string) (world.Location, error)
	ExitsFrom(ctx context.Context, id string) ([]world.Exit, error)
}

// CollectNeighbors is the breadth-first traversal behind Neighbors, shared
// by every store implementation so they cannot drift apart on semantics.
func CollectNeighbors(ctx context.Context, r GraphReader, id string, maxHops int) ([]world.Location, []world.Exit, error) {
	if maxHops < 0 {
		return nil, nil, fmt.Errorf("maxHops must be non-negative, got %d", maxHops)
	}
	if _, err := r.GetLocation(ctx, id); err != nil {
		return nil, nil, err
	}

	type queueItem struct {
		id   string
		hops int
	}
	visited := map[string]bool{id: true}
	queue := []queueItem{{id, 0}}

	var locations []world.Location
	var exits []world.Exit

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("neighbor traversal cancelled: %w", err)
		}

		item := queue[0]
		queue = queue[1:]

		outgoing, err := r.ExitsFrom(ctx, item.id)
		if err != nil {
			return nil, nil, fmt.Errorf("exits from %s: %w", item.id, err)
		}
		exits = append(exits, outgoing...)

		if item.hops >= maxHops {
			continue
		}
		for _, e := range outgoing {
			if visited[e.Destination] {
				continue
			}
			visited[e.Destination] = true

			loc, err := r.GetLocation(ctx, e.Destination)
			if err != nil {
				// A dangling edge is an integrity defect; surface it rather
				// than skipping quietly.
				return nil, nil, fmt.Errorf("exit %s (%s) leads to missing location: %w",
					e.SlotKey(), e.Direction, err)
			}
			locations = append(locations, loc)
			queue = append(queue, queueItem{e.Destination, item.hops + 1})
		}
	}

	return locations, exits, nil
}
