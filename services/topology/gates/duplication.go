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
	"log/slog"

	"github.com/AleutianAI/worldloom/services/topology/similarity"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// NeighborReader is the slice of the graph store the duplication screen
// needs: the committed locations within a few hops of the batch root.
type NeighborReader interface {
	Neighbors(ctx context.Context, id string, maxHops int) ([]world.Location, []world.Exit, error)
}

// DuplicationGate rejects stubs whose description embeds too close to a
// nearby location. The comparison set is bounded (the root, its committed
// neighbors within a hop limit, and earlier stubs in the same batch), never
// the whole world: two forests a continent apart may legitimately read
// alike.
type DuplicationGate struct {
	embedder  similarity.Embedder
	neighbors NeighborReader
	threshold float64
	hops      int
	logger    *slog.Logger
}

// NewDuplicationGate builds a DuplicationGate. Zero threshold or hops fall
// back to the package defaults.
func NewDuplicationGate(embedder similarity.Embedder, neighbors NeighborReader, threshold float64, hops int, logger *slog.Logger) *DuplicationGate {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if hops <= 0 {
		hops = DefaultNeighborHops
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicationGate{
		embedder:  embedder,
		neighbors: neighbors,
		threshold: threshold,
		hops:      hops,
		logger:    logger,
	}
}

// Name implements Gate.
func (g *DuplicationGate) Name() string { return "duplication" }

// CheckRoot implements Gate.
func (g *DuplicationGate) CheckRoot(ctx context.Context, batch *world.GenerationBatch) error {
	return nil
}

// CheckStub implements Gate. The corpus texts repeat across stubs of the
// same batch; the embedder's cache is what keeps that affordable.
func (g *DuplicationGate) CheckStub(ctx context.Context, batch *world.GenerationBatch, i int) (Verdict, error) {
	stub := &batch.Stubs[i]

	stubVector, err := g.embedder.Embed(ctx, stub.Location.Base)
	if err != nil {
		return Verdict{}, fmt.Errorf("embed stub %s: %w", stub.Location.ID, err)
	}

	texts := []string{batch.Root.FullDescription()}
	labels := []string{batch.Root.ID}

	locations, _, err := g.neighbors.Neighbors(ctx, batch.Root.ID, g.hops)
	if err != nil {
		return Verdict{}, fmt.Errorf("collect neighbors of %s: %w", batch.Root.ID, err)
	}
	for _, loc := range locations {
		texts = append(texts, loc.FullDescription())
		labels = append(labels, loc.ID)
	}

	// Earlier stubs only: when the oracle drafts twins, the first one in
	// slot order survives and the echo is the duplicate.
	for j := 0; j < i; j++ {
		texts = append(texts, batch.Stubs[j].Location.Base)
		labels = append(labels, batch.Stubs[j].Location.ID)
	}

	vectors, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Verdict{}, fmt.Errorf("embed comparison corpus: %w", err)
	}

	for k, vector := range vectors {
		score := similarity.Cosine(stubVector, vector)
		if score >= g.threshold {
			g.logger.Debug("Near-duplicate stub",
				"stub", stub.Location.ID,
				"against", labels[k],
				"score", score)
			return Reject(fmt.Sprintf("near-duplicate of %s (similarity %.3f)", labels[k], score)), nil
		}
	}

	return Accept(), nil
}
