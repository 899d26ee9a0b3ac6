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
	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// GetLocation returns one committed location with its exits. Staged state
// never leaves the staging area, so there is nothing to filter here: what
// the store holds is what travelers may see.
func GetLocation(store storage.GraphStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		loc, err := store.GetLocation(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, statusFor(err), err)
			return
		}
		exits, err := store.ExitsFrom(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, statusFor(err), err)
			return
		}
		c.JSON(http.StatusOK, datatypes.LocationResponse{Location: loc, Exits: exits})
	}
}

// AppendLayer adds an additive description layer to a location. The base
// description stays frozen; layers are the only legal post-crystallization
// mutation. The read-modify-write runs under the location's lock so two
// concurrent appends cannot lose one another.
func AppendLayer(store storage.GraphStore, locks *world.KeyedLocks) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var req datatypes.LayerRequest
		if err := c.BindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		if err := req.Validate(); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}

		unlock := locks.Lock(id)
		defer unlock()

		loc, err := store.GetLocation(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, statusFor(err), err)
			return
		}
		loc.AppendLayer(req.Text, req.Source)
		if err := store.UpsertLocation(c.Request.Context(), loc); err != nil {
			slog.Error("Layer append failed", "location", id, "error", err)
			abortWithError(c, statusFor(err), err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"location_id": id,
			"layers":      len(loc.Layers),
		})
	}
}
