// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gates screens generation batches before anything touches the graph.
//
// The chain runs in a fixed order: schema, safety, exit sanity, duplication.
// Cheap deterministic checks come first so the embedding-backed duplication
// screen only ever sees stubs the rest of the chain already cleared.
// A gate rejection removes that stub and the rest of the batch continues,
// except when the rejection concerns the batch root, which fails the whole
// batch. Warnings are advisory and never block. Infra errors (a classifier
// outage, an embedding timeout) abort validation as errors rather than being
// recorded as rejections, so the caller can tell "this content is bad" from
// "I could not check this content".
package gates

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/worldloom/services/topology/safety"
	"github.com/AleutianAI/worldloom/services/topology/similarity"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// Defaults for the duplication screen.
const (
	DefaultSimilarityThreshold = 0.9
	DefaultNeighborHops        = 2
)

// Verdict is one gate's decision about one stub.
type Verdict struct {
	OK       bool
	Reason   string
	Warnings []string
}

// Accept builds a passing verdict, optionally with advisory warnings.
func Accept(warnings ...string) Verdict {
	return Verdict{OK: true, Warnings: warnings}
}

// Reject builds a failing verdict.
func Reject(reason string) Verdict {
	return Verdict{Reason: reason}
}

// Gate checks one aspect of a batch. CheckStub receives the index of the
// stub under review so gates that compare stubs against each other can limit
// themselves to earlier survivors and keep rejection deterministic.
type Gate interface {
	Name() string

	// CheckRoot validates batch-level concerns. A non-nil error fails the
	// whole batch.
	CheckRoot(ctx context.Context, batch *world.GenerationBatch) error

	// CheckStub reviews batch.Stubs[i]. A failing verdict rejects the stub;
	// a non-nil error aborts validation entirely.
	CheckStub(ctx context.Context, batch *world.GenerationBatch, i int) (Verdict, error)
}

// Rejection records why a stub was removed from a batch.
type Rejection struct {
	LocationID string
	Slot       world.Direction
	Gate       string
	Reason     string
}

// Result is the chain's verdict on a batch.
type Result struct {
	Accepted []world.Stub
	Rejected []Rejection
	Warnings []string
}

// Chain runs gates in order over a batch.
type Chain struct {
	gates  []Gate
	logger *slog.Logger
}

// NewChain assembles a chain from explicit gates, in the order given.
func NewChain(logger *slog.Logger, gates ...Gate) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{gates: gates, logger: logger}
}

// Config tunes the default chain.
type Config struct {
	// SimilarityThreshold rejects stubs whose description scores at or above
	// it against a nearby location. Zero means DefaultSimilarityThreshold.
	SimilarityThreshold float64

	// NeighborHops bounds how far from the root the duplication screen
	// looks. Zero means DefaultNeighborHops.
	NeighborHops int
}

// DefaultChain wires the four standard gates in their canonical order.
func DefaultChain(
	cfg Config,
	classifier safety.Classifier,
	embedder similarity.Embedder,
	neighbors NeighborReader,
	guidance GuidanceLookup,
	logger *slog.Logger,
) *Chain {
	return NewChain(logger,
		NewSchemaGate(),
		NewSafetyGate(classifier),
		NewExitSanityGate(guidance),
		NewDuplicationGate(embedder, neighbors, cfg.SimilarityThreshold, cfg.NeighborHops, logger),
	)
}

// Validate runs every gate over the batch and reports what survived.
//
// Description:
//
//	Gates run in order; each gate reviews all stubs still standing, then the
//	chain prunes before the next gate runs, so expensive checks never see
//	stubs a cheaper gate already rejected. The input batch is not mutated.
//
// Outputs:
//
//	Result - Surviving stubs, per-stub rejections, and advisory warnings.
//	error - Root rejection or an infra failure; either way the whole batch
//	        is unusable.
func (c *Chain) Validate(ctx context.Context, batch *world.GenerationBatch) (Result, error) {
	ctx, span := otel.Tracer("gates").Start(ctx, "gates.Validate",
		trace.WithAttributes(
			attribute.String("batch.id", batch.ID),
			attribute.Int("batch.stubs", len(batch.Stubs)),
		))
	defer span.End()

	var result Result

	working := *batch
	working.Stubs = make([]world.Stub, len(batch.Stubs))
	copy(working.Stubs, batch.Stubs)

	for _, gate := range c.gates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		if err := gate.CheckRoot(ctx, &working); err != nil {
			return Result{}, fmt.Errorf("gate %s rejected batch %s at the root: %w", gate.Name(), batch.ID, err)
		}

		// Verdicts are collected for the whole pass before pruning, so a
		// gate comparing stubs against each other sees a stable slice.
		drop := make([]bool, len(working.Stubs))
		for i := range working.Stubs {
			verdict, err := gate.CheckStub(ctx, &working, i)
			if err != nil {
				return Result{}, fmt.Errorf("gate %s: %w", gate.Name(), err)
			}
			result.Warnings = append(result.Warnings, verdict.Warnings...)
			if verdict.OK {
				continue
			}
			drop[i] = true
			stub := working.Stubs[i]
			result.Rejected = append(result.Rejected, Rejection{
				LocationID: stub.Location.ID,
				Slot:       stub.Slot,
				Gate:       gate.Name(),
				Reason:     verdict.Reason,
			})
			c.logger.Info("Stub rejected",
				"batchID", batch.ID,
				"gate", gate.Name(),
				"slot", string(stub.Slot),
				"reason", verdict.Reason)
		}

		kept := working.Stubs[:0]
		for i, stub := range working.Stubs {
			if !drop[i] {
				kept = append(kept, stub)
			}
		}
		working.Stubs = kept

		if len(working.Stubs) == 0 {
			break
		}
	}

	result.Accepted = working.Stubs
	span.SetAttributes(
		attribute.Int("batch.accepted", len(result.Accepted)),
		attribute.Int("batch.rejected", len(result.Rejected)),
		attribute.Int("batch.warnings", len(result.Warnings)),
	)
	return result, nil
}
