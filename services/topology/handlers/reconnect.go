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
	"github.com/AleutianAI/worldloom/services/topology/reconnect"
)

// ReconnectResponse reports one synchronous reconnection search.
type ReconnectResponse struct {
	LocationID string                `json:"location_id"`
	Committed  int                   `json:"committed"`
	Candidates []reconnect.Candidate `json:"candidates"`
}

// HandleReconnect runs a reconnection search around one location and
// returns every candidate with its final state and discard reason, so a
// curator can see what was proposed and why it did or did not land.
func HandleReconnect(searcher *reconnect.Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		req := datatypes.ReconnectRequest{}
		if c.Request.ContentLength > 0 {
			if err := c.BindJSON(&req); err != nil {
				abortWithError(c, http.StatusBadRequest, err)
				return
			}
			if err := req.Validate(); err != nil {
				abortWithError(c, http.StatusBadRequest, err)
				return
			}
		}

		candidates, err := searcher.Search(c.Request.Context(), id, req.MaxHops)
		if err != nil {
			slog.Error("Reconnection request failed", "location", id, "error", err)
			abortWithError(c, statusFor(err), err)
			return
		}

		resp := ReconnectResponse{LocationID: id, Candidates: candidates}
		if resp.Candidates == nil {
			resp.Candidates = []reconnect.Candidate{}
		}
		for _, cand := range candidates {
			if cand.State == reconnect.StateCommitted {
				resp.Committed++
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
