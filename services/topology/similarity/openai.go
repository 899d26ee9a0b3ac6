// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/worldloom/services/topology/oracle"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// EmbedderConfig tunes the OpenAI embedding client.
type EmbedderConfig struct {
	// Model names the embedding model. Empty falls back to
	// OPENAI_EMBED_MODEL, then text-embedding-3-small.
	Model string

	// Deadline bounds one embedding call.
	Deadline time.Duration

	// CacheSize is the LRU capacity for computed vectors. 0 disables
	// caching.
	CacheSize int
}

// DefaultEmbedderConfig returns production defaults.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		Deadline:  10 * time.Second,
		CacheSize: 4096,
	}
}

// Validate rejects unusable configurations.
func (c EmbedderConfig) Validate() error {
	if c.Deadline <= 0 {
		return errors.New("deadline must be positive")
	}
	if c.CacheSize < 0 {
		return errors.New("cache size must not be negative")
	}
	return nil
}

// OpenAIEmbedder embeds text through the OpenAI embeddings API, with an LRU
// vector cache and request coalescing so concurrent gates embedding the
// same draft cost one API call.
//
// Thread Safety: safe for concurrent use after construction.
type OpenAIEmbedder struct {
	client   *openai.Client
	key      *memguard.LockedBuffer
	config   EmbedderConfig
	cache    *vectorCache
	inflight singleflight.Group
	logger   *slog.Logger
}

// NewOpenAIEmbedder builds the embedding client, sharing the oracle's key
// custody scheme.
func NewOpenAIEmbedder(cfg EmbedderConfig, logger *slog.Logger) (*OpenAIEmbedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_EMBED_MODEL")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	key, err := oracle.LoadAPIKey()
	if err != nil {
		return nil, err
	}

	e := &OpenAIEmbedder{
		client: openai.NewClient(key.String()),
		key:    key,
		config: cfg,
		logger: logger,
	}
	if cfg.CacheSize > 0 {
		e.cache = newVectorCache(cfg.CacheSize)
	}
	logger.Info("embedding client initialized", slog.String("model", cfg.Model))
	return e, nil
}

// Close destroys the key buffer.
func (e *OpenAIEmbedder) Close() {
	if e.key != nil {
		e.key.Destroy()
	}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if e.cache != nil {
		if v, ok := e.cache.get(key); ok {
			return v, nil
		}
	}

	result, err, _ := e.inflight.Do(key, func() (interface{}, error) {
		vectors, err := e.embedRemote(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	})
	if err != nil {
		return nil, err
	}

	vector := result.([]float32)
	if e.cache != nil {
		e.cache.set(key, vector)
	}
	return vector, nil
}

// EmbedBatch implements Embedder. Cached texts are served locally and only
// the misses go to the API, in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var (
		missing     []string
		missingIdxs []int
	)
	for i, t := range texts {
		if e.cache != nil {
			if v, ok := e.cache.get(cacheKey(t)); ok {
				out[i] = v
				continue
			}
		}
		missing = append(missing, t)
		missingIdxs = append(missingIdxs, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := e.embedRemote(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, idx := range missingIdxs {
		out[idx] = vectors[j]
		if e.cache != nil {
			e.cache.set(cacheKey(missing[j]), vectors[j])
		}
	}
	return out, nil
}

// CacheStats reports vector cache hits and misses.
func (e *OpenAIEmbedder) CacheStats() (hits, misses int64) {
	if e.cache == nil {
		return 0, 0
	}
	return e.cache.stats()
}

func (e *OpenAIEmbedder) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Deadline)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("embedding backend missed the %s deadline: %w", e.config.Deadline, world.ErrOracleTimeout)
		}
		return nil, oracle.ClassifyAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d: %w",
			len(texts), len(resp.Data), world.ErrTransient)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
