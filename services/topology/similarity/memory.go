// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is the in-process Index: a linear cosine scan over stored
// vectors. Fine up to tens of thousands of locations; beyond that use the
// Weaviate index.
//
// Thread Safety: safe for concurrent use.
type MemoryIndex struct {
	mu       sync.RWMutex
	embedder Embedder
	vectors  map[string][]float32
}

// NewMemoryIndex returns an empty index over the given embedder.
func NewMemoryIndex(embedder Embedder) (*MemoryIndex, error) {
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	return &MemoryIndex{
		embedder: embedder,
		vectors:  make(map[string][]float32),
	}, nil
}

// Add implements Index. Re-adding a location replaces its vector.
func (m *MemoryIndex) Add(ctx context.Context, locationID, text string) error {
	if locationID == "" {
		return errors.New("location ID must not be empty")
	}
	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed %s: %w", locationID, err)
	}
	m.mu.Lock()
	m.vectors[locationID] = vector
	m.mu.Unlock()
	return nil
}

// Nearest implements Index. Results come back in descending score order.
func (m *MemoryIndex) Nearest(ctx context.Context, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	query, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.vectors))
	for id, v := range m.vectors {
		matches = append(matches, Match{LocationID: id, Score: Cosine(query, v)})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].LocationID < matches[j].LocationID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Remove implements Index. Removing an absent ID is a no-op.
func (m *MemoryIndex) Remove(ctx context.Context, locationID string) error {
	m.mu.Lock()
	delete(m.vectors, locationID)
	m.mu.Unlock()
	return nil
}

// Len reports how many locations are indexed.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}
