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
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/worldloom/services/topology/datatypes"
)

// WeaviateIndex stores location vectors in the Location class and answers
// nearest-neighbor queries through GraphQL. Use this over MemoryIndex when the
// world outgrows a linear scan or must survive process restarts.
//
// Thread Safety: safe for concurrent use; the underlying client is.
type WeaviateIndex struct {
	client   *weaviate.Client
	embedder Embedder
	logger   *slog.Logger
}

// NewWeaviateIndex wraps an existing client. The caller owns the client and
// should have run datatypes.EnsureWeaviateSchema before first use.
func NewWeaviateIndex(client *weaviate.Client, embedder Embedder, logger *slog.Logger) (*WeaviateIndex, error) {
	if client == nil {
		return nil, errors.New("weaviate client must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateIndex{client: client, embedder: embedder, logger: logger}, nil
}

// locationUUID derives a stable Weaviate object ID from the location ID, so
// re-adding a location overwrites its previous vector instead of accumulating
// duplicates.
func locationUUID(locationID string) strfmt.UUID {
	hash := sha256.Sum256([]byte(locationID))
	objUUID, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(objUUID.String())
}

// Add implements Index.
func (w *WeaviateIndex) Add(ctx context.Context, locationID, text string) error {
	if locationID == "" {
		return errors.New("location ID must not be empty")
	}
	vector, err := w.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed %s: %w", locationID, err)
	}

	props := datatypes.LocationProperties{LocationID: locationID, Content: text}
	object := &models.Object{
		Class:      datatypes.LocationClassName,
		ID:         locationUUID(locationID),
		Vector:     vector,
		Properties: props.ToMap(),
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(object).Do(ctx)
	if err != nil {
		return fmt.Errorf("index %s: %w", locationID, err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("index %s: %s", locationID, item.Result.Errors.Error[0].Message)
		}
		return fmt.Errorf("index %s: batch item not accepted", locationID)
	}

	w.logger.Debug("Indexed location vector", "locationID", locationID)
	return nil
}

// Nearest implements Index. Weaviate returns hits in descending certainty
// order, which is preserved here.
func (w *WeaviateIndex) Nearest(ctx context.Context, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	vector, err := w.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// Certainty is requested instead of distance: it is always in [0,1]
	// regardless of the configured metric.
	fields := []graphql.Field{
		{Name: "location_id"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.LocationClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LocationQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	matches := make([]Match, 0, len(parsed.Get.Location))
	for _, hit := range parsed.Get.Location {
		if hit.LocationID == "" {
			continue
		}
		matches = append(matches, Match{
			LocationID: hit.LocationID,
			Score:      certaintyToCosine(hit.Additional.Certainty),
		})
	}
	return matches, nil
}

// Remove implements Index.
func (w *WeaviateIndex) Remove(ctx context.Context, locationID string) error {
	err := w.client.Data().Deleter().
		WithClassName(datatypes.LocationClassName).
		WithID(string(locationUUID(locationID))).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("deindex %s: %w", locationID, err)
	}
	return nil
}

// certaintyToCosine maps Weaviate's certainty back onto the cosine scale the
// rest of this package scores with. Under the cosine metric,
// certainty = (1 + cosine) / 2.
func certaintyToCosine(certainty *float32) float64 {
	if certainty == nil {
		return 0
	}
	return 2*float64(*certainty) - 1
}
