// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers holds the gin endpoint factories for the topology
// service. Each factory takes exactly the dependencies its endpoint needs
// and returns a gin.HandlerFunc, so tests can wire fakes per endpoint and
// routes stay declarative.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/worldloom/services/topology/world"
)

// statusFor maps engine errors onto HTTP status codes. Unknown errors are
// internal; retryable infrastructure failures tell the client to come back.
func statusFor(err error) int {
	switch {
	case errors.Is(err, world.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, world.ErrInvalidDirection):
		return http.StatusBadRequest
	case errors.Is(err, world.ErrQuarantined),
		errors.Is(err, world.ErrSlotOccupied),
		errors.Is(err, world.ErrBaseImmutable):
		return http.StatusConflict
	case world.Retryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
