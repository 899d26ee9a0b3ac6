// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/worldloom/services/topology/events"
	"github.com/AleutianAI/worldloom/services/topology/expansion"
	"github.com/AleutianAI/worldloom/services/topology/handlers"
	"github.com/AleutianAI/worldloom/services/topology/lore"
	"github.com/AleutianAI/worldloom/services/topology/metrics"
	"github.com/AleutianAI/worldloom/services/topology/oracle"
	"github.com/AleutianAI/worldloom/services/topology/reconnect"
	"github.com/AleutianAI/worldloom/services/topology/staging"
	"github.com/AleutianAI/worldloom/services/topology/storage"
	"github.com/AleutianAI/worldloom/services/topology/world"
)

// Deps carries everything the route table hands to the handler factories.
// Ingestor and LoreStore are nil in lightweight mode; their endpoints then
// answer 503.
type Deps struct {
	Store        storage.GraphStore
	Oracle       oracle.NarrativeOracle
	Area         *staging.Area
	Locks        *world.KeyedLocks
	Hub          *events.Hub
	Orchestrator *expansion.Orchestrator
	Searcher     *reconnect.Searcher
	Ingestor     *lore.Ingestor
	LoreStore    lore.Store
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck(deps.Store, deps.Oracle, deps.Area, deps.Hub))
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/expand", handlers.HandleExpand(deps.Orchestrator))
		v1.GET("/locations/:id", handlers.GetLocation(deps.Store))
		v1.POST("/locations/:id/layers", handlers.AppendLayer(deps.Store, deps.Locks))
		v1.POST("/reconnect/:id", handlers.HandleReconnect(deps.Searcher))
		v1.GET("/events/ws", handlers.HandleEventsWebSocket(deps.Hub))

		loreRoutes := v1.Group("/lore")
		{
			loreRoutes.POST("", handlers.CreateLore(deps.Ingestor))
			loreRoutes.GET("", handlers.ListLore(deps.LoreStore))
			loreRoutes.DELETE("", handlers.DeleteLore(deps.LoreStore))
		}
	}
}
