// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package world

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedLocksSerializesOneKey(t *testing.T) {
	locks := NewKeyedLocks()

	const workers = 8
	const rounds = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				unlock := locks.Lock("root-1")
				v := counter
				counter = v + 1
				unlock()
			}
		}()
	}
	wg.Wait()

	if counter != workers*rounds {
		t.Errorf("counter = %d, want %d; lock did not serialize", counter, workers*rounds)
	}
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	locks := NewKeyedLocks()

	unlockA := locks.Lock("a")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on an unrelated key blocked")
	}
}

func TestLockManyOverlappingOrders(t *testing.T) {
	locks := NewKeyedLocks()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		forward := i%2 == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				var unlock func()
				if forward {
					unlock = locks.LockMany("a", "b", "c")
				} else {
					unlock = locks.LockMany("c", "b", "a")
				}
				unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("overlapping LockMany calls deadlocked")
	}
}

func TestLockManyCollapsesDuplicates(t *testing.T) {
	locks := NewKeyedLocks()
	unlock := locks.LockMany("a", "a", "a")
	unlock()

	unlock = locks.Lock("a")
	unlock()
}

func TestKeyedLocksReleasesEntries(t *testing.T) {
	locks := NewKeyedLocks()

	unlock := locks.LockMany("a", "b")
	unlock()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("registry holds %d entries after release, want 0", len(locks.locks))
	}
}
