// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package similarity

import (
	"context"
	"crypto/sha256"
	"sync/atomic"
)

// MockEmbedder produces deterministic vectors without network access.
//
// By default each text hashes to a fixed pseudo-random vector, so identical
// text always embeds identically. Tests that need controlled geometry (for
// example, two texts that must score above the duplicate threshold) should
// set VectorFunc.
type MockEmbedder struct {
	// Dim is the vector length. Zero means 32.
	Dim int

	// Err, when set, is returned from every call.
	Err error

	// VectorFunc overrides the hash derivation when set.
	VectorFunc func(text string) []float32

	embedCalls atomic.Int64
}

// NewMockEmbedder returns a mock with default dimensions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Dim: 32}
}

// Embed implements Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.VectorFunc != nil {
		return m.VectorFunc(text), nil
	}
	return deriveVector(text, m.dim()), nil
}

// EmbedBatch implements Embedder. Each text counts as one call.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// EmbedCalls reports how many embeddings were requested.
func (m *MockEmbedder) EmbedCalls() int64 {
	return m.embedCalls.Load()
}

func (m *MockEmbedder) dim() int {
	if m.Dim > 0 {
		return m.Dim
	}
	return 32
}

// deriveVector expands a text hash into a vector of the requested length.
// Identical text always yields the identical vector.
func deriveVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	block := sha256.Sum256([]byte(text))
	buf := block[:]
	for i := range vector {
		if i > 0 && i%len(block) == 0 {
			block = sha256.Sum256(buf)
			buf = block[:]
		}
		vector[i] = float32(int8(buf[i%len(block)])) / 128
	}
	return vector
}
