// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/worldloom/services/topology/similarity"
)

type memoryEntry struct {
	chunk  Chunk
	vector []float32
}

// MemoryStore is the linear-scan lore index for tests and deployments that
// run without Weaviate. Scores are cosine similarity mapped onto the same
// [0,1] certainty scale the Weaviate store reports.
//
// Thread Safety: safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range chunks {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if idx, ok := m.find(c.Source, c.Fragment); ok {
			m.entries[idx] = memoryEntry{chunk: c, vector: vec}
			continue
		}
		m.entries = append(m.entries, memoryEntry{chunk: c, vector: vec})
	}
	return nil
}

// find must be called with the lock held.
func (m *MemoryStore) find(source string, fragment int) (int, bool) {
	for i, e := range m.entries {
		if e.chunk.Source == source && e.chunk.Fragment == fragment {
			return i, true
		}
	}
	return 0, false
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, vector []float32, limit int) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	scored := make([]Chunk, 0, len(m.entries))
	for _, e := range m.entries {
		c := e.chunk
		c.Score = (1 + similarity.Cosine(vector, e.vector)) / 2
		scored = append(scored, c)
	}
	m.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// DeleteSource implements Store.
func (m *MemoryStore) DeleteSource(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.chunk.Source != source {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

// Sources implements Store.
func (m *MemoryStore) Sources(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	seen := make(map[string]bool)
	for _, e := range m.entries {
		seen[e.chunk.Source] = true
	}
	m.mu.RUnlock()

	sources := make([]string, 0, len(seen))
	for s := range seen {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources, nil
}

// Len reports the stored fragment count.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
