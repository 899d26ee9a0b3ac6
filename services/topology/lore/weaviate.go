// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/worldloom/services/topology/datatypes"
)

// WeaviateStore keeps lore fragments in the LoreFragment class. The caller
// owns the client and should have run datatypes.EnsureWeaviateSchema before
// first use.
//
// Thread Safety: safe for concurrent use; the underlying client is.
type WeaviateStore struct {
	client *weaviate.Client
	logger *slog.Logger
}

func NewWeaviateStore(client *weaviate.Client, logger *slog.Logger) (*WeaviateStore, error) {
	if client == nil {
		return nil, errors.New("weaviate client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateStore{client: client, logger: logger}, nil
}

// fragmentUUID derives a stable object ID from (source, fragment), so
// re-putting a fragment overwrites its earlier vector.
func fragmentUUID(source string, fragment int) strfmt.UUID {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, fragment)))
	objUUID, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(objUUID.String())
}

// Put implements Store.
func (w *WeaviateStore) Put(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	if len(chunks) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		props := datatypes.LoreFragmentProperties{
			Source:     c.Source,
			Fragment:   c.Fragment,
			Content:    c.Content,
			IngestedAt: now,
		}
		objects[i] = &models.Object{
			Class:      datatypes.LoreFragmentClassName,
			ID:         fragmentUUID(c.Source, c.Fragment),
			Vector:     vectors[i],
			Properties: props.ToMap(),
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("store fragments: %w", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("store fragment: %s", item.Result.Errors.Error[0].Message)
		}
		return errors.New("store fragment: batch item not accepted")
	}

	w.logger.Debug("Stored lore fragments", "count", len(objects))
	return nil
}

// Query implements Store. Weaviate returns hits in descending certainty
// order, which is preserved here.
func (w *WeaviateStore) Query(ctx context.Context, vector []float32, limit int) ([]Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "source"},
		{Name: "fragment"},
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.LoreFragmentClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("lore search failed: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("lore search error: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LoreQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lore results: %w", err)
	}

	chunks := make([]Chunk, 0, len(parsed.Get.LoreFragment))
	for _, hit := range parsed.Get.LoreFragment {
		if hit.Content == "" {
			continue
		}
		chunk := Chunk{Source: hit.Source, Content: hit.Content}
		if hit.Fragment != nil {
			chunk.Fragment = *hit.Fragment
		}
		if hit.Additional.Certainty != nil {
			chunk.Score = float64(*hit.Additional.Certainty)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// DeleteSource implements Store.
func (w *WeaviateStore) DeleteSource(ctx context.Context, source string) error {
	where := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueString(source)

	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.LoreFragmentClassName).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete fragments of %s: %w", source, err)
	}
	return nil
}

// Sources implements Store via a group-by aggregate.
func (w *WeaviateStore) Sources(ctx context.Context) ([]string, error) {
	agg, err := w.client.GraphQL().Aggregate().
		WithClassName(datatypes.LoreFragmentClassName).
		WithGroupBy("source").
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate lore sources: %w", err)
	}
	if agg.Errors != nil && len(agg.Errors) > 0 {
		return nil, fmt.Errorf("aggregate lore sources: %s", agg.Errors[0].Message)
	}

	sources := groupedValues(agg.Data, datatypes.LoreFragmentClassName)
	sort.Strings(sources)
	return sources, nil
}

// groupedValues digs the groupedBy values out of an aggregate response. The
// response arrives as untyped nesting, so every step is checked.
func groupedValues(data map[string]models.JSONObject, class string) []string {
	aggMap, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return nil
	}
	groups, ok := aggMap[class].([]interface{})
	if !ok {
		return nil
	}

	var values []string
	for _, groupItem := range groups {
		groupMap, ok := groupItem.(map[string]interface{})
		if !ok {
			continue
		}
		groupedBy, ok := groupMap["groupedBy"].(map[string]interface{})
		if !ok {
			continue
		}
		if value, ok := groupedBy["value"].(string); ok {
			values = append(values, value)
		}
	}
	return values
}
