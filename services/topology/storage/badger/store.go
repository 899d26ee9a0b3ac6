// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// Key layout:
//
//	loc:<id>                 -> JSON world.Location
//	exit:<origin>|<direction> -> JSON world.Exit
//
// Location and exit validation rejects IDs containing '|', so the first
// '|' after the exit prefix always terminates the origin.
const (
	locKeyPrefix  = "loc:"
	exitKeyPrefix = "exit:"
)

func locKey(id string) []byte {
	return []byte(locKeyPrefix + id)
}

func exitKey(origin string, d world.Direction) []byte {
	return []byte(exitKeyPrefix + origin + "|" + string(d))
}

func exitScanPrefix(origin string) []byte {
	return []byte(exitKeyPrefix + origin + "|")
}

// Store is the durable GraphStore over BadgerDB. It carries the same
// contract as the in-memory store: idempotent location upserts, exclusive
// (origin, direction) slots, canonical direction ordering on reads.
//
// Thread Safety: safe for concurrent use. Conflicting transactions surface
// as retryable errors rather than blocking.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// NewStore wraps an open database. The caller keeps ownership of db and
// must close it after the store is no longer used.
func NewStore(db *DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// mapTxnErr converts badger transaction conflicts into the shared
// retryable error class so the retry decorator can re-run the write.
func mapTxnErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("transaction conflict: %w", world.ErrTransient)
	}
	return err
}

func (s *Store) UpsertLocation(ctx context.Context, loc world.Location) error {
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location %s: %w", loc.ID, err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(locKey(loc.ID), data)
	})
	return mapTxnErr(err)
}

// UpsertExit writes an exit, holding the slot exclusivity check and the
// write in one transaction so two writers racing for a slot cannot both
// win: the loser gets either ErrSlotOccupied or a retryable conflict.
func (s *Store) UpsertExit(ctx context.Context, exit world.Exit) error {
	if err := exit.Validate(); err != nil {
		return fmt.Errorf("upsert exit: %w", err)
	}
	data, err := json.Marshal(exit)
	if err != nil {
		return fmt.Errorf("encode exit %s: %w", exit.SlotKey(), err)
	}

	key := exitKey(exit.Origin, exit.Direction)
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			var existing world.Exit
			if decErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); decErr != nil {
				return fmt.Errorf("decode exit %s: %w", exit.SlotKey(), decErr)
			}
			if existing.Destination != exit.Destination {
				return fmt.Errorf("exit %s (%s) already leads to %s: %w",
					exit.Origin, exit.Direction, existing.Destination, world.ErrSlotOccupied)
			}
		}
		return txn.Set(key, data)
	})
	return mapTxnErr(err)
}

func (s *Store) GetLocation(ctx context.Context, id string) (world.Location, error) {
	var loc world.Location
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(locKey(id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("location %s: %w", id, world.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &loc)
		})
	})
	if err != nil {
		return world.Location{}, err
	}
	return loc, nil
}

// ExitsFrom returns outgoing exits in canonical direction order. A missing
// or exit-less location yields an empty result, matching the in-memory
// store.
func (s *Store) ExitsFrom(ctx context.Context, id string) ([]world.Exit, error) {
	byDir := make(map[world.Direction]world.Exit)
	prefix := exitScanPrefix(id)

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var exit world.Exit
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &exit)
			}); err != nil {
				return fmt.Errorf("decode exit under %s: %w", id, err)
			}
			byDir[exit.Direction] = exit
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(byDir) == 0 {
		return nil, nil
	}

	out := make([]world.Exit, 0, len(byDir))
	for _, d := range world.Directions {
		if e, ok := byDir[d]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Neighbors(ctx context.Context, id string, maxHops int) ([]world.Location, []world.Exit, error) {
	return storage.CollectNeighbors(ctx, s, id, maxHops)
}

// ForEachLocation visits every stored location in ID order (badger
// iterates keys in byte order). Used by the snapshot exporter; not part
// of the GraphStore contract.
func (s *Store) ForEachLocation(ctx context.Context, fn func(world.Location) error) error {
	prefix := []byte(locKeyPrefix)
	return s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var loc world.Location
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &loc)
			}); err != nil {
				return fmt.Errorf("decode location %s: %w", it.Item().Key(), err)
			}
			if err := fn(loc); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEachExit visits every stored exit grouped by origin, origins in ID
// order and slots in canonical direction order. Key order already groups
// by origin; each group is buffered and reordered before the callback.
func (s *Store) ForEachExit(ctx context.Context, fn func(world.Exit) error) error {
	prefix := []byte(exitKeyPrefix)

	var (
		origin string
		group  = make(map[world.Direction]world.Exit)
	)
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		for _, d := range world.Directions {
			if e, ok := group[d]; ok {
				if err := fn(e); err != nil {
					return err
				}
			}
		}
		group = make(map[world.Direction]world.Exit)
		return nil
	}

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, exitKeyPrefix)
			keyOrigin, _, found := strings.Cut(rest, "|")
			if !found {
				return fmt.Errorf("malformed exit key %q", key)
			}
			if keyOrigin != origin {
				if err := flush(); err != nil {
					return err
				}
				origin = keyOrigin
			}

			var exit world.Exit
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &exit)
			}); err != nil {
				return fmt.Errorf("decode exit %q: %w", key, err)
			}
			group[exit.Direction] = exit
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// Len reports stored location and exit counts with a key-only scan.
func (s *Store) Len(ctx context.Context) (locations, exits int, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		locPrefix := []byte(locKeyPrefix)
		for it.Seek(locPrefix); it.ValidForPrefix(locPrefix); it.Next() {
			locations++
		}

		exitPrefix := []byte(exitKeyPrefix)
		for it.Seek(exitPrefix); it.ValidForPrefix(exitPrefix); it.Next() {
			exits++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return locations, exits, nil
}
