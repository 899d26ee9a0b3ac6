// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// RetryConfig bounds the transient-failure retry loop around a store.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

// DefaultRetryConfig matches the engine's tolerance for store hiccups:
// three quick re-attempts, then the failure surfaces to the batch.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, Backoff: 50 * time.Millisecond}
}

// Validate rejects configurations that would disable or unbound the loop.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be non-negative, got %d", c.MaxRetries)
	}
	if c.Backoff <= 0 {
		return fmt.Errorf("Backoff must be positive, got %v", c.Backoff)
	}
	return nil
}

// retryStore decorates a GraphStore with bounded exponential backoff on
// world.ErrTransient. Everything else (not-found, slot conflicts, integrity
// errors, context cancellation) passes straight through on the first try.
type retryStore struct {
	inner  GraphStore
	config RetryConfig
	logger *slog.Logger
}

// WithRetry wraps a store in the transient-failure retry loop.
func WithRetry(inner GraphStore, config RetryConfig, logger *slog.Logger) (GraphStore, error) {
	if inner == nil {
		return nil, errors.New("inner store must not be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryStore{inner: inner, config: config, logger: logger}, nil
}

func (r *retryStore) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.config.Backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			r.logger.Debug("retrying store operation",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.String("error", lastErr.Error()))
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, world.ErrTransient) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, r.config.MaxRetries+1, lastErr)
}

func (r *retryStore) UpsertLocation(ctx context.Context, loc world.Location) error {
	return r.do(ctx, "upsert_location", func() error {
		return r.inner.UpsertLocation(ctx, loc)
	})
}

func (r *retryStore) UpsertExit(ctx context.Context, exit world.Exit) error {
	return r.do(ctx, "upsert_exit", func() error {
		return r.inner.UpsertExit(ctx, exit)
	})
}

func (r *retryStore) GetLocation(ctx context.Context, id string) (world.Location, error) {
	var loc world.Location
	err := r.do(ctx, "get_location", func() error {
		var err error
		loc, err = r.inner.GetLocation(ctx, id)
		return err
	})
	return loc, err
}

func (r *retryStore) ExitsFrom(ctx context.Context, id string) ([]world.Exit, error) {
	var exits []world.Exit
	err := r.do(ctx, "exits_from", func() error {
		var err error
		exits, err = r.inner.ExitsFrom(ctx, id)
		return err
	})
	return exits, err
}

func (r *retryStore) Neighbors(ctx context.Context, id string, maxHops int) ([]world.Location, []world.Exit, error) {
	var (
		locs  []world.Location
		exits []world.Exit
	)
	err := r.do(ctx, "neighbors", func() error {
		var err error
		locs, exits, err = r.inner.Neighbors(ctx, id, maxHops)
		return err
	})
	return locs, exits, err
}
