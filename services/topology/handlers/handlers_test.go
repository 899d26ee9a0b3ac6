// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/worldloom/services/topology/datatypes"
	"github.com/AleutianAI/worldloom/services/topology/events"
	"github.com/AleutianAI/worldloom/services/topology/expansion"
	"github.com/AleutianAI/worldloom/services/topology/gates"
	"github.com/AleutianAI/worldloom/services/topology/inference"
	"github.com/AleutianAI/worldloom/services/topology/lore"
	"github.com/AleutianAI/worldloom/services/topology/oracle"
	"github.com/AleutianAI/worldloom/services/topology/reconnect"
	"github.com/AleutianAI/worldloom/services/topology/safety"
	"github.com/AleutianAI/worldloom/services/topology/similarity"
	"github.com/AleutianAI/worldloom/services/topology/staging"
	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// perform runs one request through the router and returns the recorder.
func perform(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// serviceRig wires a full engine over in-memory stores, the same shape the
// service main assembles.
type serviceRig struct {
	store      *storage.MemoryStore
	oracle     *oracle.MockOracle
	area       *staging.Area
	locks      *world.KeyedLocks
	hub        *events.Hub
	orch       *expansion.Orchestrator
	searcher   *reconnect.Searcher
	quarantine *world.Quarantine
}

func newServiceRig(t *testing.T) *serviceRig {
	t.Helper()
	logger := discardLogger()
	store := storage.NewMemoryStore()
	mock := oracle.NewMockOracle()
	hub := events.NewHub(logger)
	locks := world.NewKeyedLocks()
	quarantine := world.NewQuarantine()
	guidance := world.NewGuidanceStore(logger)

	area, err := staging.NewArea(store, locks, quarantine, logger)
	require.NoError(t, err)

	chain := gates.DefaultChain(
		gates.Config{},
		safety.NewPatternClassifier(logger),
		similarity.NewMockEmbedder(),
		store,
		guidance,
		logger,
	)

	orch, err := expansion.New(expansion.Config{}, expansion.Deps{
		Store:      store,
		Oracle:     mock,
		Inferencer: inference.New(inference.Config{}, logger),
		Chain:      chain,
		Area:       area,
		Guidance:   guidance,
		Hub:        hub,
		Logger:     logger,
	})
	require.NoError(t, err)

	searcher, err := reconnect.NewSearcher(reconnect.Config{}, reconnect.Deps{
		Store:      store,
		Oracle:     mock,
		Guidance:   guidance,
		Locks:      locks,
		Quarantine: quarantine,
		Hub:        hub,
		Logger:     logger,
	})
	require.NoError(t, err)

	return &serviceRig{
		store:      store,
		oracle:     mock,
		area:       area,
		locks:      locks,
		hub:        hub,
		orch:       orch,
		searcher:   searcher,
		quarantine: quarantine,
	}
}

func (r *serviceRig) seedCrystallized(t *testing.T, id string, terrain world.Terrain) {
	t.Helper()
	err := r.store.UpsertLocation(context.Background(), world.Location{
		ID:      id,
		Base:    fmt.Sprintf("Landmark %s sits amid %s country.", id, terrain),
		Terrain: terrain,
		State:   world.StateCrystallized,
	})
	require.NoError(t, err)
}

// =============================================================================
// HealthCheck
// =============================================================================

func TestHealthCheckOK(t *testing.T) {
	rig := newServiceRig(t)
	router := gin.New()
	router.GET("/health", HealthCheck(rig.store, rig.oracle, rig.area, rig.hub))

	w := perform(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Store)
	assert.Equal(t, "ok", resp.Oracle)
	assert.Nil(t, resp.Integrity)
}

func TestHealthCheckMissingOracle(t *testing.T) {
	rig := newServiceRig(t)
	router := gin.New()
	router.GET("/health", HealthCheck(rig.store, nil, rig.area, rig.hub))

	w := perform(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "not configured", resp.Oracle)
}

func TestHealthCheckVerifyFindsViolation(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedCrystallized(t, "a", world.TerrainForest)
	rig.seedCrystallized(t, "b", world.TerrainForest)
	// One-way exit: the audit must flag the missing twin.
	require.NoError(t, rig.store.UpsertExit(context.Background(), world.Exit{
		Origin: "a", Destination: "b", Direction: world.North, Duration: 3,
	}))

	router := gin.New()
	router.GET("/health", HealthCheck(rig.store, rig.oracle, rig.area, rig.hub))

	w := perform(t, router, http.MethodGet, "/health?verify=a,b", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	require.NotNil(t, resp.Integrity)
	assert.Equal(t, 2, resp.Integrity.Checked)
	require.Len(t, resp.Integrity.Violations, 1)
	assert.Contains(t, resp.Integrity.Violations[0].Reason, "no reciprocal exit")
}

func TestHealthCheckVerifyUnknownID(t *testing.T) {
	rig := newServiceRig(t)
	router := gin.New()
	router.GET("/health", HealthCheck(rig.store, rig.oracle, rig.area, rig.hub))

	w := perform(t, router, http.MethodGet, "/health?verify=ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// GetLocation / AppendLayer
// =============================================================================

func TestGetLocationReturnsExits(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedCrystallized(t, "harbor", world.TerrainCoast)
	rig.seedCrystallized(t, "market", world.TerrainUrban)
	out := world.Exit{Origin: "harbor", Destination: "market", Direction: world.North, Duration: 1}
	require.NoError(t, rig.store.UpsertExit(context.Background(), out))
	require.NoError(t, rig.store.UpsertExit(context.Background(), out.Reciprocal()))

	router := gin.New()
	router.GET("/v1/locations/:id", GetLocation(rig.store))

	w := perform(t, router, http.MethodGet, "/v1/locations/harbor", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.LocationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "harbor", resp.Location.ID)
	require.Len(t, resp.Exits, 1)
	assert.Equal(t, "market", resp.Exits[0].Destination)
}

func TestGetLocationMissing(t *testing.T) {
	rig := newServiceRig(t)
	router := gin.New()
	router.GET("/v1/locations/:id", GetLocation(rig.store))

	w := perform(t, router, http.MethodGet, "/v1/locations/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAppendLayerPersists(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedCrystallized(t, "harbor", world.TerrainCoast)

	router := gin.New()
	router.POST("/v1/locations/:id/layers", AppendLayer(rig.store, rig.locks))

	body := datatypes.LayerRequest{Text: "Gulls wheel over the breakwater.", Source: "curator"}
	w := perform(t, router, http.MethodPost, "/v1/locations/harbor/layers", body)
	require.Equal(t, http.StatusOK, w.Code)

	loc, err := rig.store.GetLocation(context.Background(), "harbor")
	require.NoError(t, err)
	require.Len(t, loc.Layers, 1)
	assert.Equal(t, "Gulls wheel over the breakwater.", loc.Layers[0].Text)
	assert.Equal(t, "curator", loc.Layers[0].Source)
	// Base text untouched.
	assert.Contains(t, loc.Base, "Landmark harbor")
}

func TestAppendLayerValidation(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedCrystallized(t, "harbor", world.TerrainCoast)

	router := gin.New()
	router.POST("/v1/locations/:id/layers", AppendLayer(rig.store, rig.locks))

	w := perform(t, router, http.MethodPost, "/v1/locations/harbor/layers", datatypes.LayerRequest{Text: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAppendLayerMissingLocation(t *testing.T) {
	rig := newServiceRig(t)
	router := gin.New()
	router.POST("/v1/locations/:id/layers", AppendLayer(rig.store, rig.locks))

	body := datatypes.LayerRequest{Text: "text"}
	w := perform(t, router, http.MethodPost, "/v1/locations/ghost/layers", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// HandleExpand
// =============================================================================

func TestHandleExpandCommits(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedCrystallized(t, "root-1", world.TerrainOpenPlain)

	router := gin.New()
	router.POST("/v1/expand", HandleExpand(rig.orch))

	body := datatypes.ExpandRequest{RootID: "root-1", ArrivalDirection: "south"}
	w := perform(t, router, http.MethodPost, "/v1/expand", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result expansion.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "committed", result.Outcome)
	assert.Len(t, result.Locations, 5)
}

func TestHandleExpandValidation(t *testing.T) {
	rig := newServiceRig(t)
	router := gin.New()
	router.POST("/v1/expand", HandleExpand(rig.orch))

	cases := []struct {
		name string
		body any
	}{
		{"missing root", datatypes.ExpandRequest{ArrivalDirection: "north"}},
		{"bad direction", datatypes.ExpandRequest{RootID: "root-1", ArrivalDirection: "up"}},
		{"depth out of range", datatypes.ExpandRequest{RootID: "root-1", Depth: 99}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := perform(t, router, http.MethodPost, "/v1/expand", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleExpandUnknownRoot(t *testing.T) {
	rig := newServiceRig(t)
	router := gin.New()
	router.POST("/v1/expand", HandleExpand(rig.orch))

	body := datatypes.ExpandRequest{RootID: "nowhere"}
	w := perform(t, router, http.MethodPost, "/v1/expand", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// HandleReconnect
// =============================================================================

func TestHandleReconnectEmptyNeighborhood(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedCrystallized(t, "lone", world.TerrainDesert)

	router := gin.New()
	router.POST("/v1/reconnect/:id", HandleReconnect(rig.searcher))

	w := perform(t, router, http.MethodPost, "/v1/reconnect/lone", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ReconnectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "lone", resp.LocationID)
	assert.Equal(t, 0, resp.Committed)
	assert.Empty(t, resp.Candidates)
}

func TestHandleReconnectUnknownLocation(t *testing.T) {
	rig := newServiceRig(t)
	router := gin.New()
	router.POST("/v1/reconnect/:id", HandleReconnect(rig.searcher))

	w := perform(t, router, http.MethodPost, "/v1/reconnect/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleReconnectBadBody(t *testing.T) {
	rig := newServiceRig(t)
	router := gin.New()
	router.POST("/v1/reconnect/:id", HandleReconnect(rig.searcher))

	w := perform(t, router, http.MethodPost, "/v1/reconnect/lone", datatypes.ReconnectRequest{MaxHops: 99})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Lore endpoints
// =============================================================================

func newLoreFixtures(t *testing.T) (*lore.Ingestor, *lore.MemoryStore) {
	t.Helper()
	store := lore.NewMemoryStore()
	ingestor, err := lore.NewIngestor(store, similarity.NewMockEmbedder(), discardLogger())
	require.NoError(t, err)
	return ingestor, store
}

func TestCreateLoreIngests(t *testing.T) {
	ingestor, store := newLoreFixtures(t)
	router := gin.New()
	router.POST("/v1/lore", CreateLore(ingestor))

	body := datatypes.LoreIngestRequest{
		Source:  "founding.md",
		Content: "The city was founded where the river forks.",
	}
	w := perform(t, router, http.MethodPost, "/v1/lore", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, store.Len())
}

func TestCreateLoreValidation(t *testing.T) {
	ingestor, _ := newLoreFixtures(t)
	router := gin.New()
	router.POST("/v1/lore", CreateLore(ingestor))

	w := perform(t, router, http.MethodPost, "/v1/lore", datatypes.LoreIngestRequest{Source: "", Content: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoreEndpointsLightweightMode(t *testing.T) {
	router := gin.New()
	router.POST("/v1/lore", CreateLore(nil))
	router.GET("/v1/lore", ListLore(nil))
	router.DELETE("/v1/lore", DeleteLore(nil))

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/lore"},
		{http.MethodGet, "/v1/lore"},
		{http.MethodDelete, "/v1/lore?source=x"},
	} {
		w := perform(t, router, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestListAndDeleteLore(t *testing.T) {
	ingestor, store := newLoreFixtures(t)
	_, err := ingestor.Ingest(context.Background(), "keep.md", "Kept canon.")
	require.NoError(t, err)
	_, err = ingestor.Ingest(context.Background(), "drop.md", "Dropped canon.")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/v1/lore", ListLore(store))
	router.DELETE("/v1/lore", DeleteLore(store))

	w := perform(t, router, http.MethodGet, "/v1/lore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Sources []string `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, []string{"drop.md", "keep.md"}, listing.Sources)

	w = perform(t, router, http.MethodDelete, "/v1/lore?source=drop.md", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = perform(t, router, http.MethodGet, "/v1/lore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, []string{"keep.md"}, listing.Sources)
}

func TestDeleteLoreRequiresSource(t *testing.T) {
	_, store := newLoreFixtures(t)
	router := gin.New()
	router.DELETE("/v1/lore", DeleteLore(store))

	w := perform(t, router, http.MethodDelete, "/v1/lore", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
