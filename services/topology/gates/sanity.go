// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gates

import (
	"context"
	"fmt"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// GuidanceLookup answers terrain guidance queries. *world.GuidanceStore
// satisfies it.
type GuidanceLookup interface {
	Lookup(t world.Terrain) world.Guidance
}

// ExitSanityGate checks a stub's proposal set: directions must be unique
// and the return path to the batch root must be present. A proposal count
// outside the terrain guidance range is only a warning.
type ExitSanityGate struct {
	guidance GuidanceLookup
}

// NewExitSanityGate builds an ExitSanityGate. A nil guidance lookup disables
// the range warning.
func NewExitSanityGate(guidance GuidanceLookup) *ExitSanityGate {
	return &ExitSanityGate{guidance: guidance}
}

// Name implements Gate.
func (g *ExitSanityGate) Name() string { return "exit-sanity" }

// CheckRoot implements Gate.
func (g *ExitSanityGate) CheckRoot(ctx context.Context, batch *world.GenerationBatch) error {
	return nil
}

// CheckStub implements Gate.
func (g *ExitSanityGate) CheckStub(ctx context.Context, batch *world.GenerationBatch, i int) (Verdict, error) {
	stub := &batch.Stubs[i]

	seen := make(map[world.Direction]bool, len(stub.Proposals))
	for _, p := range stub.Proposals {
		if seen[p.Direction] {
			return Reject(fmt.Sprintf("duplicate proposal for direction %s", p.Direction)), nil
		}
		seen[p.Direction] = true
	}

	returnDir := stub.ReturnDirection()
	if !seen[returnDir] {
		return Reject(fmt.Sprintf("missing return path %s to the batch root", returnDir)), nil
	}

	var warnings []string
	if g.guidance != nil {
		r := g.guidance.Lookup(stub.Location.Terrain)
		count := len(stub.Proposals)
		if count < r.MinExits || count > r.MaxExits {
			warnings = append(warnings, fmt.Sprintf(
				"stub %s (%s): %d proposed exits outside guidance range [%d,%d]",
				stub.Location.ID, stub.Location.Terrain, count, r.MinExits, r.MaxExits))
		}
	}

	return Accept(warnings...), nil
}
