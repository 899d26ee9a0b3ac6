// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package oracle is the boundary to the narrative generation backend.
//
// The engine never talks to an AI API directly; everything goes through the
// NarrativeOracle interface so expansion and reconnection can run against
// the OpenAI-backed client in production and a deterministic mock in tests.
package oracle

import (
	"context"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// SlotRequest names one compass slot on the root that needs a stub drafted.
type SlotRequest struct {
	// Direction of the exit leaving the root toward the new stub.
	Direction world.Direction `json:"direction"`

	// Hook is an optional narrative cue lifted from the root's description
	// ("a worn trail climbs north"). Empty when the slot was planned rather
	// than cued.
	Hook string `json:"hook,omitempty"`
}

// BatchRequest asks the oracle to draft stub descriptions for a set of slots
// around one root location. The whole batch shares a single deadline; a
// batch that misses it fails as a unit.
type BatchRequest struct {
	RootID          string
	RootDescription string
	RootTerrain     world.Terrain
	Slots           []SlotRequest

	// Lore holds retrieved corpus snippets that anchor the drafts in the
	// world's established fiction. May be empty.
	Lore []string
}

// StubDraft is one generated stub: the prose, a terrain classification, and
// an optional onward hook.
type StubDraft struct {
	Slot        world.Direction `json:"slot"`
	Terrain     string          `json:"terrain"`
	Description string          `json:"description"`
	Hook        string          `json:"hook,omitempty"`
}

// BatchResponse carries the drafts for one BatchRequest. Drafts arrive in
// slot order; a missing slot means the oracle declined it.
type BatchResponse struct {
	Drafts []StubDraft
}

// Verdict is the oracle's judgement on whether two locations can plausibly
// be adjacent.
type Verdict string

const (
	VerdictConsistent    Verdict = "consistent"
	VerdictContradictory Verdict = "contradictory"
	VerdictAmbiguous     Verdict = "ambiguous"
)

// ConsistencyQuery asks whether a direct exit From -> To along Direction
// holds up narratively.
type ConsistencyQuery struct {
	From      world.Location
	To        world.Location
	Direction world.Direction
	Duration  int64
}

// ConsistencyResult is the oracle's verdict plus its stated reason. Callers
// treat VerdictAmbiguous the same as VerdictContradictory; only an explicit
// consistent verdict lets a reconnection proceed.
type ConsistencyResult struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
}

// NarrativeOracle generates stub drafts and judges adjacency consistency.
//
// Implementations must honor ctx cancellation and report timeouts as
// world.ErrOracleTimeout so callers can distinguish a slow backend from a
// broken one.
type NarrativeOracle interface {
	GenerateBatch(ctx context.Context, req BatchRequest) (BatchResponse, error)
	JudgeConsistency(ctx context.Context, q ConsistencyQuery) (ConsistencyResult, error)
}
