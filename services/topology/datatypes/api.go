// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

const (
	// MaxLayerBytes caps one additive description layer. Byte length, not
	// rune count, so oversized payloads are refused regardless of encoding.
	MaxLayerBytes = 8 * 1024

	// MaxLoreDocumentBytes caps one ingested canon document.
	MaxLoreDocumentBytes = 1 << 20

	// MaxRequestDepth caps eager expansion depth per request; the
	// orchestrator clamps further to its own configured maximum.
	MaxRequestDepth = 8
)

// apiValidate is the shared validator for request DTOs, initialized with the
// custom checks below.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()
	_ = apiValidate.RegisterValidation("direction", validateDirection)
	_ = apiValidate.RegisterValidation("layerbytes", validateLayerBytes)
	_ = apiValidate.RegisterValidation("lorebytes", validateLoreBytes)
}

// validateDirection accepts the empty string or a canonical compass
// direction.
func validateDirection(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || world.Direction(value).Valid()
}

func validateLayerBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxLayerBytes
}

func validateLoreBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxLoreDocumentBytes
}

// ExpandRequest is the POST /v1/expand body.
type ExpandRequest struct {
	RootID           string `json:"root_id" validate:"required"`
	ArrivalDirection string `json:"arrival_direction,omitempty" validate:"direction"`
	Depth            int    `json:"depth,omitempty" validate:"gte=0,lte=8"`
	NeighborTarget   int    `json:"neighbor_target,omitempty" validate:"gte=0,lte=20"`
}

// Validate runs the struct tags. Call after binding the JSON body.
func (r *ExpandRequest) Validate() error {
	return apiValidate.Struct(r)
}

// LayerRequest is the POST /v1/locations/:id/layers body.
type LayerRequest struct {
	Text   string `json:"text" validate:"required,layerbytes"`
	Source string `json:"source,omitempty" validate:"max=128"`
}

func (r *LayerRequest) Validate() error {
	return apiValidate.Struct(r)
}

// ReconnectRequest is the optional POST /v1/reconnect/:id body.
type ReconnectRequest struct {
	// MaxHops bounds the search frontier. Zero takes the searcher default.
	MaxHops int `json:"max_hops,omitempty" validate:"gte=0,lte=8"`
}

func (r *ReconnectRequest) Validate() error {
	return apiValidate.Struct(r)
}

// LoreIngestRequest is the POST /v1/lore body.
type LoreIngestRequest struct {
	Source  string `json:"source" validate:"required,max=256"`
	Content string `json:"content" validate:"required,lorebytes"`
}

func (r *LoreIngestRequest) Validate() error {
	return apiValidate.Struct(r)
}

// LocationResponse is the GET /v1/locations/:id payload: committed state
// only, never anything staged.
type LocationResponse struct {
	Location world.Location `json:"location"`
	Exits    []world.Exit   `json:"exits"`
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status        string `json:"status"`
	Store         string `json:"store"`
	Oracle        string `json:"oracle"`
	StagedBatches int    `json:"staged_batches"`
	Subscribers   int    `json:"subscribers"`
	// Integrity is only present when the request asked for an audit.
	Integrity *IntegrityReport `json:"integrity,omitempty"`
}

// IntegrityReport carries the outcome of an on-demand reciprocity audit.
type IntegrityReport struct {
	Checked    int                 `json:"checked"`
	Violations []storage.Violation `json:"violations,omitempty"`
}
