// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

func auditFixture(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.UpsertLocation(ctx, testLocation(id, world.TerrainForest)))
	}
	return store
}

func TestVerifyReciprocityCleanGraph(t *testing.T) {
	ctx := context.Background()
	store := auditFixture(t)
	out := world.Exit{Origin: "a", Destination: "b", Direction: world.North, Duration: 3}
	require.NoError(t, store.UpsertExit(ctx, out))
	require.NoError(t, store.UpsertExit(ctx, out.Reciprocal()))

	violations, err := VerifyReciprocity(ctx, store, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestVerifyReciprocityMissingTwin(t *testing.T) {
	ctx := context.Background()
	store := auditFixture(t)
	require.NoError(t, store.UpsertExit(ctx, world.Exit{
		Origin: "a", Destination: "b", Direction: world.North, Duration: 3,
	}))

	violations, err := VerifyReciprocity(ctx, store, []string{"a"})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "a|north", violations[0].Exit.SlotKey())
	assert.Contains(t, violations[0].Reason, "no reciprocal exit at b|south")
}

func TestVerifyReciprocityMispointedTwin(t *testing.T) {
	ctx := context.Background()
	store := auditFixture(t)
	require.NoError(t, store.UpsertExit(ctx, world.Exit{
		Origin: "a", Destination: "b", Direction: world.North, Duration: 3,
	}))
	// b's south slot answers, but to the wrong place.
	require.NoError(t, store.UpsertExit(ctx, world.Exit{
		Origin: "b", Destination: "c", Direction: world.South, Duration: 3,
	}))

	violations, err := VerifyReciprocity(ctx, store, []string{"a"})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Reason, "points at c")
}

func TestVerifyReciprocityDurationMismatch(t *testing.T) {
	ctx := context.Background()
	store := auditFixture(t)
	require.NoError(t, store.UpsertExit(ctx, world.Exit{
		Origin: "a", Destination: "b", Direction: world.North, Duration: 2,
	}))
	require.NoError(t, store.UpsertExit(ctx, world.Exit{
		Origin: "b", Destination: "a", Direction: world.South, Duration: 5,
	}))

	violations, err := VerifyReciprocity(ctx, store, []string{"a", "b"})
	require.NoError(t, err)
	// Each half of the pair reports the other's price.
	require.Len(t, violations, 2)
	assert.Contains(t, violations[0].Reason, "reciprocal duration 5 differs from 2")
	assert.Contains(t, violations[1].Reason, "reciprocal duration 2 differs from 5")
}

func TestVerifyReciprocityDanglingDestination(t *testing.T) {
	ctx := context.Background()
	store := auditFixture(t)
	require.NoError(t, store.UpsertExit(ctx, world.Exit{
		Origin: "a", Destination: "ghost", Direction: world.East, Duration: 1,
	}))

	violations, err := VerifyReciprocity(ctx, store, []string{"a"})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Reason, "destination ghost does not exist")
	assert.Equal(t, "a|east: destination ghost does not exist", violations[0].String())
}

func TestVerifyReciprocityUnknownID(t *testing.T) {
	store := auditFixture(t)
	_, err := VerifyReciprocity(context.Background(), store, []string{"nowhere"})
	require.Error(t, err)
	assert.ErrorIs(t, err, world.ErrNotFound)
}
