// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lore manages the setting's canon corpus: documents are split into
// fragments, embedded, and stored so generation prompts can be grounded in
// the nearest canon instead of whatever the oracle hallucinates.
package lore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/worldloom/services/topology/similarity"
)

const (
	// chunkSize keeps fragments prompt-sized; lore lines ride along inside
	// generation requests, so big chunks crowd out the root description.
	chunkSize    = 600
	chunkOverlap = chunkSize / 10

	// DefaultRetrieveLimit caps a query that asks for no particular k.
	DefaultRetrieveLimit = 3
)

// ErrNotConfigured marks lore operations on a service running without a
// lore index.
var ErrNotConfigured = errors.New("lore index not configured")

// Chunk is one stored fragment of a canon document.
type Chunk struct {
	Source   string  `json:"source"`
	Fragment int     `json:"fragment"`
	Content  string  `json:"content"`
	// Score is only set on retrieval: certainty in [0,1], higher is nearer.
	Score float64 `json:"score,omitempty"`
}

// Store persists lore fragments and answers nearest-fragment queries.
// WeaviateStore is the durable implementation; MemoryStore backs tests and
// lightweight deployments.
type Store interface {
	// Put writes chunks with their vectors. Re-putting a (source, fragment)
	// pair overwrites rather than duplicates.
	Put(ctx context.Context, chunks []Chunk, vectors [][]float32) error
	// Query returns up to limit chunks nearest the vector, best first.
	Query(ctx context.Context, vector []float32, limit int) ([]Chunk, error)
	// DeleteSource removes every fragment of one document.
	DeleteSource(ctx context.Context, source string) error
	// Sources lists the distinct documents currently indexed.
	Sources(ctx context.Context) ([]string, error)
}

var (
	proseSeparators = []string{"\n\n", "\n", ". ", " ", ""}

	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n\n", "\n", " ", "",
	}
)

// splitterFor picks separators by document name. Canon arrives as markdown
// or plain prose; there is no code to chunk here.
func splitterFor(source string) textsplitter.TextSplitter {
	seps := proseSeparators
	if strings.HasSuffix(strings.ToLower(source), ".md") {
		seps = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(seps),
	)
}

// Ingestor turns whole documents into embedded fragments.
type Ingestor struct {
	store    Store
	embedder similarity.Embedder
	logger   *slog.Logger
}

func NewIngestor(store Store, embedder similarity.Embedder, logger *slog.Logger) (*Ingestor, error) {
	if store == nil {
		return nil, errors.New("lore store must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, embedder: embedder, logger: logger}, nil
}

// Ingest splits, embeds, and stores one document, returning how many
// fragments were written. Earlier fragments of the same source are cleared
// first, so a re-ingested document never leaves a stale tail behind.
func (in *Ingestor) Ingest(ctx context.Context, source, content string) (int, error) {
	if strings.TrimSpace(source) == "" {
		return 0, errors.New("source name must not be empty")
	}

	split, err := splitterFor(source).SplitText(content)
	if err != nil {
		return 0, fmt.Errorf("split %s: %w", source, err)
	}
	chunks := split[:0]
	for _, text := range split {
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, text)
		}
	}
	if len(chunks) == 0 {
		in.logger.Warn("Document produced no fragments", "source", source)
		return 0, nil
	}

	vectors, err := in.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", source, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embed %s: got %d vectors for %d fragments", source, len(vectors), len(chunks))
	}

	if err := in.store.DeleteSource(ctx, source); err != nil {
		return 0, fmt.Errorf("clear earlier fragments of %s: %w", source, err)
	}

	out := make([]Chunk, len(chunks))
	for i, text := range chunks {
		out[i] = Chunk{Source: source, Fragment: i + 1, Content: text}
	}
	if err := in.store.Put(ctx, out, vectors); err != nil {
		return 0, fmt.Errorf("store %s: %w", source, err)
	}

	in.logger.Info("Document ingested", "source", source, "fragments", len(out))
	return len(out), nil
}

// Retriever answers nearest-fragment queries and feeds the expansion
// orchestrator's prompt grounding.
type Retriever struct {
	store    Store
	embedder similarity.Embedder
	logger   *slog.Logger
}

func NewRetriever(store Store, embedder similarity.Embedder, logger *slog.Logger) (*Retriever, error) {
	if store == nil {
		return nil, errors.New("lore store must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, embedder: embedder, logger: logger}, nil
}

// Retrieve returns the limit nearest fragments to the query text.
func (r *Retriever) Retrieve(ctx context.Context, text string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}
	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	chunks, err := r.store.Query(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("query lore: %w", err)
	}
	return chunks, nil
}

// Snippets returns just the fragment texts, best match first. This is the
// shape the expansion orchestrator attaches to oracle prompts.
func (r *Retriever) Snippets(ctx context.Context, text string, limit int) ([]string, error) {
	chunks, err := r.Retrieve(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	snippets := make([]string, 0, len(chunks))
	for _, c := range chunks {
		snippets = append(snippets, c.Content)
	}
	return snippets, nil
}
