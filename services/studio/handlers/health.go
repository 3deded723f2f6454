// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the gin handlers for the studio API.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plotforge/gridstudio/services/generation"
	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// HealthCheck reports service liveness and backend connectivity. The
// endpoint always answers 200; a dead backend degrades the payload, it
// does not fail the check.
func HealthCheck(backend generation.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		connected := backend.Ping(ctx) == nil
		status := "ok"
		if !connected {
			status = "degraded"
		}
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:           status,
			Version:          Version,
			BackendConnected: connected,
		})
	}
}
