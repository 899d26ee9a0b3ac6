// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

func TestMockOracleDefaultDrafts(t *testing.T) {
	mock := NewMockOracle()
	req := BatchRequest{
		RootID:      "root-1",
		RootTerrain: world.TerrainForest,
		Slots: []SlotRequest{
			{Direction: world.North},
			{Direction: world.Southwest},
		},
	}

	resp, err := mock.GenerateBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Drafts) != 2 {
		t.Fatalf("expected a draft per slot, got %d", len(resp.Drafts))
	}
	for i, d := range resp.Drafts {
		if d.Slot != req.Slots[i].Direction {
			t.Errorf("draft %d slot = %q, want %q", i, d.Slot, req.Slots[i].Direction)
		}
		if d.Terrain != string(world.TerrainForest) {
			t.Errorf("draft %d should inherit root terrain, got %q", i, d.Terrain)
		}
		if d.Description == "" {
			t.Errorf("draft %d has empty description", i)
		}
	}
	if mock.GenerateCalls() != 1 {
		t.Errorf("expected 1 recorded call, got %d", mock.GenerateCalls())
	}
}

func TestMockOracleInjection(t *testing.T) {
	wantErr := errors.New("backend down")
	mock := &MockOracle{Err: wantErr}
	if _, err := mock.GenerateBatch(context.Background(), BatchRequest{}); !errors.Is(err, wantErr) {
		t.Errorf("expected injected error, got %v", err)
	}

	mock = &MockOracle{
		JudgeFunc: func(q ConsistencyQuery) (ConsistencyResult, error) {
			return ConsistencyResult{Verdict: VerdictContradictory, Reason: q.From.ID}, nil
		},
	}
	got, err := mock.JudgeConsistency(context.Background(), ConsistencyQuery{From: world.Location{ID: "a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Verdict != VerdictContradictory || got.Reason != "a" {
		t.Errorf("injected judge not used: %+v", got)
	}
}
