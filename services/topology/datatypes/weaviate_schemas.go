// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names used by the topology service.
const (
	// LocationClassName holds one object per crystallized location, vectorized
	// by its full description. The duplication screen queries this class.
	LocationClassName = "Location"

	// LoreFragmentClassName holds chunked canon documents used to ground
	// generation prompts.
	LoreFragmentClassName = "LoreFragment"
)

// GetLocationSchema returns the schema for the Location class.
//
// # Description
//
// Location stores the embedded description of every committed location so new
// drafts can be screened for near-duplicates. Vectors are supplied by the
// engine's own embedder, so the class vectorizer is "none".
//
// # Properties
//
//   - location_id: The engine's location identifier (not the Weaviate UUID).
//   - content: The full description that was embedded.
//
// # Example
//
//	schema := GetLocationSchema()
//	client.Schema().ClassCreator().WithClass(schema).Do(ctx)
func GetLocationSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       LocationClassName,
		Description: "A world location indexed by its narrative description.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "location_id",
				DataType:        []string{"text"},
				Description:     "Engine identifier of the location.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The full description text that was embedded.",
				Tokenization: "word",
			},
		},
	}
}

// GetLoreFragmentSchema returns the schema for the LoreFragment class.
//
// # Description
//
// LoreFragment stores chunks of the setting's canon documents. The lore
// retriever pulls the nearest fragments for a generation anchor and feeds
// them into the prompt as grounding context.
//
// # Properties
//
//   - source: Name of the document the fragment came from.
//   - fragment: Ordinal of the chunk within its source document.
//   - content: The chunk text.
//   - ingested_at: Unix milliseconds when the fragment was ingested.
func GetLoreFragmentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       LoreFragmentClassName,
		Description: "A chunk of setting canon used to ground generation prompts.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Document the fragment came from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "fragment",
				DataType:        []string{"int"},
				Description:     "Ordinal of the chunk within its source.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the fragment was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing topology classes. Idempotent; safe
// to call on every startup.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetLocationSchema,
		GetLoreFragmentSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()

		// The client returns an error when the class does not exist yet.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err == nil {
			slog.Debug("Schema already exists", "class", class.Class)
			continue
		}

		slog.Info("Schema not found, creating it", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("creating schema for class %s: %w", class.Class, err)
		}
	}
	return nil
}
