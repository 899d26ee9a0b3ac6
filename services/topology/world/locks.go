// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package world

import (
	"sort"
	"sync"
)

// KeyedLocks serializes work per string key. The expansion orchestrator
// keys it by root location ID to serialize concurrent triggers on the same
// root, and the commit paths key it by location ID before writing exit
// edges. Entries are reference-counted and removed when the last holder
// releases, so the map does not grow with the world.
//
// # Thread Safety
//
// Safe for concurrent use.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocks returns an empty lock registry.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*keyedLock)}
}

// Lock blocks until the key's lock is held and returns the release
// function. The release function must be called exactly once.
func (k *KeyedLocks) Lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockMany acquires every key in sorted order, so two callers holding
// overlapping sets cannot deadlock, and returns one release function for
// the whole set. Duplicate keys are collapsed.
func (k *KeyedLocks) LockMany(keys ...string) (unlock func()) {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			unique = append(unique, key)
		}
	}
	sort.Strings(unique)

	releases := make([]func(), 0, len(unique))
	for _, key := range unique {
		releases = append(releases, k.Lock(key))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}
