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

	"github.com/AleutianAI/worldloom/services/topology/safety"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// SafetyGate screens stub text through the content classifier. A rejection
// here is terminal for the stub; the batch never retries it.
type SafetyGate struct {
	classifier safety.Classifier
}

// NewSafetyGate builds a SafetyGate.
func NewSafetyGate(classifier safety.Classifier) *SafetyGate {
	return &SafetyGate{classifier: classifier}
}

// Name implements Gate.
func (g *SafetyGate) Name() string { return "safety" }

// CheckRoot implements Gate. The root's text was screened when it was
// committed; re-screening it here would let a rule-table update retroactively
// brick expansion of existing locations.
func (g *SafetyGate) CheckRoot(ctx context.Context, batch *world.GenerationBatch) error {
	return nil
}

// CheckStub implements Gate.
func (g *SafetyGate) CheckStub(ctx context.Context, batch *world.GenerationBatch, i int) (Verdict, error) {
	stub := &batch.Stubs[i]

	text := stub.Location.Base
	if stub.Hook != "" {
		text += "\n" + stub.Hook
	}

	res, err := g.classifier.Classify(ctx, text)
	if err != nil {
		return Verdict{}, fmt.Errorf("classify stub %s: %w", stub.Location.ID, err)
	}
	if !res.Allowed {
		return Reject(fmt.Sprintf("disallowed content: %s (%s)", res.Category, res.Match)), nil
	}
	return Accept(), nil
}
