// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package similarity detects near-duplicate location descriptions.
//
// The duplication screen embeds each draft and compares it against the
// committed corpus; a cosine score at or above the configured threshold
// marks the draft as a duplicate. Two index implementations exist: an
// in-memory linear scan for lightweight deployments and a Weaviate-backed
// index for large worlds.
package similarity

import (
	"context"
	"math"
)

// Embedder turns prose into a vector. Implementations must be deterministic
// for identical input within one process lifetime, or the duplicate screen
// becomes flappy.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is one candidate duplicate.
type Match struct {
	LocationID string
	Score      float64
}

// Index holds embedded descriptions keyed by location ID and answers
// nearest-neighbor queries over them.
//
// Thread Safety: implementations must be safe for concurrent use.
type Index interface {
	Add(ctx context.Context, locationID, text string) error
	Nearest(ctx context.Context, text string, limit int) ([]Match, error)
	Remove(ctx context.Context, locationID string) error
}

// Cosine computes cosine similarity between two vectors. Mismatched lengths
// and zero vectors score 0 rather than erroring; a degenerate embedding
// should read as "similar to nothing", not abort a gate chain.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
