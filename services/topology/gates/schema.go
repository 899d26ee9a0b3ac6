// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// SchemaGate checks that a batch and its stubs are structurally well-formed
// before any content-aware gate spends time on them. Oracle output is
// untrusted input; nothing downstream may assume fields are present.
type SchemaGate struct{}

// NewSchemaGate builds a SchemaGate.
func NewSchemaGate() *SchemaGate { return &SchemaGate{} }

// Name implements Gate.
func (g *SchemaGate) Name() string { return "schema" }

// CheckRoot implements Gate.
func (g *SchemaGate) CheckRoot(ctx context.Context, batch *world.GenerationBatch) error {
	if batch == nil {
		return errors.New("nil batch")
	}
	if batch.ID == "" {
		return errors.New("batch has no ID")
	}
	if err := batch.Root.Validate(); err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if !batch.Root.Crystallized() {
		return fmt.Errorf("root %s is %s; only crystallized locations expand", batch.Root.ID, batch.Root.State)
	}
	if batch.ArrivalDirection != "" && !batch.ArrivalDirection.Valid() {
		return fmt.Errorf("arrival direction %q: %w", string(batch.ArrivalDirection), world.ErrInvalidDirection)
	}
	if batch.Depth < 1 {
		return fmt.Errorf("expansion depth %d must be at least 1", batch.Depth)
	}
	return nil
}

// CheckStub implements Gate.
func (g *SchemaGate) CheckStub(ctx context.Context, batch *world.GenerationBatch, i int) (Verdict, error) {
	stub := &batch.Stubs[i]

	if err := stub.Location.Validate(); err != nil {
		return Reject(err.Error()), nil
	}
	if stub.Location.State != world.StateStub {
		return Reject(fmt.Sprintf("location %s is already %s", stub.Location.ID, stub.Location.State)), nil
	}
	if strings.TrimSpace(stub.Location.Base) == "" {
		return Reject(fmt.Sprintf("stub %s has no description", stub.Location.ID)), nil
	}
	if !stub.Slot.Valid() {
		return Reject(fmt.Sprintf("slot direction %q is not canonical", string(stub.Slot))), nil
	}
	if stub.Duration <= 0 {
		return Reject(fmt.Sprintf("slot travel duration %d must be positive", stub.Duration)), nil
	}
	for _, p := range stub.Proposals {
		if !p.Direction.Valid() {
			return Reject(fmt.Sprintf("proposal direction %q is not canonical", string(p.Direction))), nil
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return Reject(fmt.Sprintf("proposal %s confidence %v outside [0,1]", p.Direction, p.Confidence)), nil
		}
	}

	// One stub per direction slot. The later arrival loses so the outcome
	// does not depend on map iteration anywhere upstream.
	for j := 0; j < i; j++ {
		if batch.Stubs[j].Slot == stub.Slot {
			return Reject(fmt.Sprintf("slot %s is already taken by %s", stub.Slot, batch.Stubs[j].Location.ID)), nil
		}
	}

	return Accept(), nil
}
