// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/worldloom/services/topology/datatypes"
	"github.com/AleutianAI/worldloom/services/topology/expansion"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// HandleExpand runs one expansion trigger through the orchestrator.
//
// Gate rejections are not errors: they come back inside the result with
// outcome "rejected" or "partial". The error path is reserved for lookups,
// oracle failures, and infrastructure.
func HandleExpand(orch *expansion.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ExpandRequest
		if err := c.BindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		if err := req.Validate(); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}

		result, err := orch.Expand(c.Request.Context(), expansion.Trigger{
			RootID:           req.RootID,
			ArrivalDirection: world.Direction(req.ArrivalDirection),
			Depth:            req.Depth,
			NeighborTarget:   req.NeighborTarget,
		})
		if err != nil {
			slog.Error("Expansion request failed", "root", req.RootID, "error", err)
			abortWithError(c, statusFor(err), err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
