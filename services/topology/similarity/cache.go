// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package similarity

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
)

// vectorCache is an LRU for embeddings keyed by text hash. Embeddings are
// deterministic so entries never expire; only capacity evicts.
//
// Thread Safety: safe for concurrent use.
type vectorCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int

	hits   atomic.Int64
	misses atomic.Int64
}

type vectorEntry struct {
	key    string
	vector []float32
}

func newVectorCache(maxSize int) *vectorCache {
	return &vectorCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *vectorCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.hits.Add(1)

	entry := elem.Value.(*vectorEntry)
	out := make([]float32, len(entry.vector))
	copy(out, entry.vector)
	return out, true
}

func (c *vectorCache) set(key string, vector []float32) {
	if len(vector) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[key]; exists {
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*vectorEntry).key)
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)
	elem := c.lru.PushFront(&vectorEntry{key: key, vector: stored})
	c.entries[key] = elem
}

// stats reports hit and miss counts, for the metrics sink.
func (c *vectorCache) stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
