// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"sync/atomic"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// MockInferencer returns scripted proposals for tests.
type MockInferencer struct {
	// InferFunc overrides the default behavior when set.
	InferFunc func(description string, terrain world.Terrain, arrival world.Direction) Result

	calls atomic.Int64
}

// NewMockInferencer returns a mock whose default result is just the forced
// return path, which keeps orchestrator tests predictable.
func NewMockInferencer() *MockInferencer {
	return &MockInferencer{}
}

// InferExits implements Inferencer.
func (m *MockInferencer) InferExits(description string, terrain world.Terrain, arrival world.Direction) Result {
	m.calls.Add(1)
	if m.InferFunc != nil {
		return m.InferFunc(description, terrain, arrival)
	}
	var result Result
	if arrival != "" && arrival.Valid() {
		result.Proposals = append(result.Proposals, world.ExitProposal{
			Direction:  arrival,
			Confidence: confidenceForced,
			Reason:     "return path",
			Forced:     true,
		})
	}
	return result
}

// Calls reports how many inferences were requested.
func (m *MockInferencer) Calls() int64 {
	return m.calls.Load()
}
