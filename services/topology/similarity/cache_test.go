// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package similarity

import (
	"reflect"
	"testing"
)

func TestVectorCacheHitMiss(t *testing.T) {
	cache := newVectorCache(4)
	key := cacheKey("some description")

	if _, ok := cache.get(key); ok {
		t.Fatal("empty cache should miss")
	}

	cache.set(key, []float32{1, 2, 3})

	got, ok := cache.get(key)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if !reflect.DeepEqual(got, []float32{1, 2, 3}) {
		t.Errorf("got %v, want [1 2 3]", got)
	}

	hits, misses := cache.stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = (%d hits, %d misses), want (1, 1)", hits, misses)
	}
}

func TestVectorCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := newVectorCache(2)
	keyA := cacheKey("a")
	keyB := cacheKey("b")
	keyC := cacheKey("c")

	cache.set(keyA, []float32{1})
	cache.set(keyB, []float32{2})

	// Touch A so B becomes the eviction candidate.
	if _, ok := cache.get(keyA); !ok {
		t.Fatal("expected hit for a")
	}

	cache.set(keyC, []float32{3})

	if _, ok := cache.get(keyB); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := cache.get(keyA); !ok {
		t.Error("a should have survived")
	}
	if _, ok := cache.get(keyC); !ok {
		t.Error("c should be present")
	}
}

func TestVectorCacheCopiesVectors(t *testing.T) {
	cache := newVectorCache(2)
	key := cacheKey("shared")

	original := []float32{1, 2, 3}
	cache.set(key, original)

	// Mutating the caller's slice must not reach the cached copy.
	original[0] = 99
	got, ok := cache.get(key)
	if !ok {
		t.Fatal("expected hit")
	}
	if got[0] != 1 {
		t.Errorf("cached vector mutated via caller slice: %v", got)
	}

	// Mutating a returned slice must not reach the cached copy either.
	got[1] = 99
	again, _ := cache.get(key)
	if again[1] != 2 {
		t.Errorf("cached vector mutated via returned slice: %v", again)
	}
}

func TestVectorCacheExistingKeyPromotes(t *testing.T) {
	cache := newVectorCache(2)
	keyA := cacheKey("a")
	keyB := cacheKey("b")
	keyC := cacheKey("c")

	cache.set(keyA, []float32{1})
	cache.set(keyB, []float32{2})

	// Re-setting A promotes it; the vector is immutable per key so the
	// stored value stays.
	cache.set(keyA, []float32{42})

	cache.set(keyC, []float32{3})

	if _, ok := cache.get(keyB); ok {
		t.Error("b should have been evicted after a was promoted")
	}
	got, ok := cache.get(keyA)
	if !ok {
		t.Fatal("a should have survived")
	}
	if got[0] != 1 {
		t.Errorf("re-set replaced the stored vector: %v", got)
	}
}

func TestVectorCacheSkipsEmptyVectors(t *testing.T) {
	cache := newVectorCache(2)
	key := cacheKey("empty")

	cache.set(key, nil)
	if _, ok := cache.get(key); ok {
		t.Error("empty vectors should not be cached")
	}
}

func TestCacheKeyStable(t *testing.T) {
	if cacheKey("same text") != cacheKey("same text") {
		t.Error("identical text should map to the same key")
	}
	if cacheKey("one text") == cacheKey("another text") {
		t.Error("distinct texts should map to distinct keys")
	}
}
