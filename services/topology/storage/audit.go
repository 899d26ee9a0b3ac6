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

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// Violation is one breach of the reciprocal-pair invariant found by an
// audit: an exit whose twin is missing, mispointed, or priced differently.
type Violation struct {
	Exit   world.Exit `json:"exit"`
	Reason string     `json:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Exit.SlotKey(), v.Reason)
}

// VerifyReciprocity audits every exit leaving the given locations.
//
// # Description
//
// For each outgoing exit origin -> destination it requires that the
// destination exists and holds an exit in the opposite direction pointing
// back at the origin with the same travel duration. Breaches come back as
// violations; the error return is reserved for store failures (including an
// audited ID that does not exist), so a clean graph yields (nil, nil).
//
// Commit paths write both halves of a pair under per-location locks, so a
// healthy store never produces violations. The audit exists for the health
// endpoint, the CLI, and tests, where a nonempty result means a bug or a
// hand-edited store.
func VerifyReciprocity(ctx context.Context, r GraphReader, ids []string) ([]Violation, error) {
	var violations []Violation
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := r.GetLocation(ctx, id); err != nil {
			return nil, fmt.Errorf("audit %s: %w", id, err)
		}
		outgoing, err := r.ExitsFrom(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("audit %s: exits: %w", id, err)
		}

		for _, exit := range outgoing {
			if _, err := r.GetLocation(ctx, exit.Destination); err != nil {
				if errors.Is(err, world.ErrNotFound) {
					violations = append(violations, Violation{
						Exit:   exit,
						Reason: fmt.Sprintf("destination %s does not exist", exit.Destination),
					})
					continue
				}
				return nil, fmt.Errorf("audit %s: destination %s: %w", id, exit.Destination, err)
			}

			back, err := r.ExitsFrom(ctx, exit.Destination)
			if err != nil {
				return nil, fmt.Errorf("audit %s: exits of %s: %w", id, exit.Destination, err)
			}
			twin, ok := findSlot(back, exit.Direction.Opposite())
			switch {
			case !ok:
				violations = append(violations, Violation{
					Exit:   exit,
					Reason: fmt.Sprintf("no reciprocal exit at %s|%s", exit.Destination, exit.Direction.Opposite()),
				})
			case twin.Destination != exit.Origin:
				violations = append(violations, Violation{
					Exit:   exit,
					Reason: fmt.Sprintf("reciprocal at %s|%s points at %s", exit.Destination, twin.Direction, twin.Destination),
				})
			case twin.Duration != exit.Duration:
				violations = append(violations, Violation{
					Exit:   exit,
					Reason: fmt.Sprintf("reciprocal duration %d differs from %d", twin.Duration, exit.Duration),
				})
			}
		}
	}
	return violations, nil
}

func findSlot(exits []world.Exit, dir world.Direction) (world.Exit, bool) {
	for _, e := range exits {
		if e.Direction == dir {
			return e, true
		}
	}
	return world.Exit{}, false
}
