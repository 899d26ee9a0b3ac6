// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package oracle

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// MockOracle is a deterministic NarrativeOracle for tests and offline runs.
//
// Thread Safety: safe for concurrent use.
type MockOracle struct {
	// Err, when set, fails every call.
	Err error

	// Terrain used for default drafts. Empty means the root's terrain.
	Terrain world.Terrain

	// Verdict returned by JudgeConsistency when JudgeFunc is nil.
	// Empty defaults to VerdictConsistent.
	Verdict Verdict

	// GenerateFunc overrides default draft generation.
	GenerateFunc func(req BatchRequest) (BatchResponse, error)

	// JudgeFunc overrides the default verdict.
	JudgeFunc func(q ConsistencyQuery) (ConsistencyResult, error)

	generateCalls atomic.Int64
	judgeCalls    atomic.Int64
}

// NewMockOracle returns a mock that drafts plausible stubs for every slot
// and judges every adjacency consistent.
func NewMockOracle() *MockOracle {
	return &MockOracle{}
}

// GenerateBatch implements NarrativeOracle.
func (m *MockOracle) GenerateBatch(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	m.generateCalls.Add(1)
	if m.Err != nil {
		return BatchResponse{}, m.Err
	}
	if err := ctx.Err(); err != nil {
		return BatchResponse{}, err
	}
	if m.GenerateFunc != nil {
		return m.GenerateFunc(req)
	}

	terrain := m.Terrain
	if terrain == "" {
		terrain = req.RootTerrain
	}

	resp := BatchResponse{Drafts: make([]StubDraft, 0, len(req.Slots))}
	for _, s := range req.Slots {
		resp.Drafts = append(resp.Drafts, StubDraft{
			Slot:        s.Direction,
			Terrain:     string(terrain),
			Description: fmt.Sprintf("You stand in %s land stretching %s of %s.", terrain, s.Direction, req.RootID),
			Hook:        s.Hook,
		})
	}
	return resp, nil
}

// JudgeConsistency implements NarrativeOracle.
func (m *MockOracle) JudgeConsistency(ctx context.Context, q ConsistencyQuery) (ConsistencyResult, error) {
	m.judgeCalls.Add(1)
	if m.Err != nil {
		return ConsistencyResult{}, m.Err
	}
	if err := ctx.Err(); err != nil {
		return ConsistencyResult{}, err
	}
	if m.JudgeFunc != nil {
		return m.JudgeFunc(q)
	}
	verdict := m.Verdict
	if verdict == "" {
		verdict = VerdictConsistent
	}
	return ConsistencyResult{Verdict: verdict, Reason: "mock verdict"}, nil
}

// GenerateCalls reports how many batches were requested.
func (m *MockOracle) GenerateCalls() int64 { return m.generateCalls.Load() }

// JudgeCalls reports how many judgements were requested.
func (m *MockOracle) JudgeCalls() int64 { return m.judgeCalls.Load() }
