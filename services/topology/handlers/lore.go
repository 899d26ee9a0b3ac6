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
	"github.com/AleutianAI/worldloom/services/topology/lore"
)

// loreUnavailable answers every lore route when the service runs in
// lightweight mode without a lore index.
func loreUnavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable,
		gin.H{"error": lore.ErrNotConfigured.Error()})
}

// CreateLore ingests one canon document: split into fragments, embed, and
// store. Re-posting a source replaces its earlier fragments.
func CreateLore(ingestor *lore.Ingestor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ingestor == nil {
			loreUnavailable(c)
			return
		}

		var req datatypes.LoreIngestRequest
		if err := c.BindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		if err := req.Validate(); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}

		fragments, err := ingestor.Ingest(c.Request.Context(), req.Source, req.Content)
		if err != nil {
			slog.Error("Lore ingestion failed", "source", req.Source, "error", err)
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"source":    req.Source,
			"fragments": fragments,
		})
	}
}

// ListLore returns the distinct ingested document names.
func ListLore(store lore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			loreUnavailable(c)
			return
		}

		sources, err := store.Sources(c.Request.Context())
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		if sources == nil {
			sources = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"sources": sources})
	}
}

// DeleteLore removes every fragment of the document named by the source
// query parameter.
func DeleteLore(store lore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			loreUnavailable(c)
			return
		}

		source := c.Query("source")
		if source == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				gin.H{"error": "source query parameter is required"})
			return
		}

		if err := store.DeleteSource(c.Request.Context(), source); err != nil {
			slog.Error("Lore deletion failed", "source", source, "error", err)
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_source": source})
	}
}
