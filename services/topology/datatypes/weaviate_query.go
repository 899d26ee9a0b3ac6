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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert Weaviate's
// dynamic response (map[string]models.JSONObject) into a strongly-typed Go
// struct. The target type T must have json tags matching the response shape.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName(LocationClassName).Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[LocationQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, hit := range parsed.Get.Location {
//	    fmt.Println(hit.LocationID)
//	}
//
// # Limitations
//
//   - Type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// LocationQueryResponse represents the response from querying the Location class.
type LocationQueryResponse struct {
	Get struct {
		Location []LocationResult `json:"Location"`
	} `json:"Get"`
}

// LocationResult is a single Location hit from a query.
type LocationResult struct {
	LocationID string `json:"location_id"`
	Content    string `json:"content"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
		Distance  *float32 `json:"distance"`
	} `json:"_additional"`
}

// LoreQueryResponse represents the response from querying the LoreFragment class.
type LoreQueryResponse struct {
	Get struct {
		LoreFragment []LoreFragmentResult `json:"LoreFragment"`
	} `json:"Get"`
}

// LoreFragmentResult is a single LoreFragment hit from a query.
type LoreFragmentResult struct {
	Source     string `json:"source"`
	Fragment   *int   `json:"fragment"`
	Content    string `json:"content"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// LocationProperties is the property set for creating a Location object.
type LocationProperties struct {
	LocationID string `json:"location_id"`
	Content    string `json:"content"`
}

// ToMap converts LocationProperties to the map format Weaviate's client expects.
func (p *LocationProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"location_id": p.LocationID,
		"content":     p.Content,
	}
}

// LoreFragmentProperties is the property set for creating a LoreFragment object.
type LoreFragmentProperties struct {
	Source     string `json:"source"`
	Fragment   int    `json:"fragment"`
	Content    string `json:"content"`
	IngestedAt int64  `json:"ingested_at"`
}

// ToMap converts LoreFragmentProperties to the map format Weaviate's client expects.
func (p *LoreFragmentProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"source":      p.Source,
		"fragment":    p.Fragment,
		"content":     p.Content,
		"ingested_at": p.IngestedAt,
	}
}
