// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/worldloom/services/topology/datatypes"
	"github.com/AleutianAI/worldloom/services/topology/events"
	"github.com/AleutianAI/worldloom/services/topology/oracle"
	"github.com/AleutianAI/worldloom/services/topology/staging"
	"github.com/AleutianAI/worldloom/services/topology/storage"
)

// HealthCheck reports liveness plus store and oracle readiness.
//
// The store is probed with a cheap read; a failing store makes the whole
// response 503 since nothing works without it. An optional
// ?verify=id1,id2 query runs the reciprocity audit around those locations
// and includes the findings; violations degrade the status but keep 200,
// because the service itself is alive and the data needs a curator, not a
// restart.
func HealthCheck(store storage.GraphStore, oracleClient oracle.NarrativeOracle,
	area *staging.Area, hub *events.Hub) gin.HandlerFunc {

	return func(c *gin.Context) {
		resp := datatypes.HealthResponse{Status: "ok", Store: "ok", Oracle: "ok"}

		// ExitsFrom on an unknown ID is a no-op read that still exercises
		// the storage path end to end.
		if _, err := store.ExitsFrom(c.Request.Context(), "health-probe"); err != nil {
			resp.Status = "degraded"
			resp.Store = fmt.Sprintf("error: %v", err)
		}
		if oracleClient == nil {
			resp.Status = "degraded"
			resp.Oracle = "not configured"
		}
		if area != nil {
			resp.StagedBatches = area.PendingCount()
		}
		if hub != nil {
			resp.Subscribers = hub.SubscriberCount()
		}

		if verify := c.Query("verify"); verify != "" {
			ids := splitIDs(verify)
			violations, err := storage.VerifyReciprocity(c.Request.Context(), store, ids)
			if err != nil {
				abortWithError(c, statusFor(err), err)
				return
			}
			resp.Integrity = &datatypes.IntegrityReport{Checked: len(ids), Violations: violations}
			if len(violations) > 0 {
				resp.Status = "degraded"
			}
		}

		code := http.StatusOK
		if resp.Store != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}

func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
