// Copyright (C) 2025 Plotforge (dev@plotforge.io)
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

	"github.com/plotforge/gridstudio/services/studio/catalog"
	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// ListEnums returns every backend catalog in one response.
func ListEnums(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		enums := cat.All()
		c.JSON(http.StatusOK, datatypes.AvailableEnumsResponse{
			Samplers:      enums.Samplers,
			Schedulers:    enums.Schedulers,
			Checkpoints:   enums.Checkpoints,
			VAEs:          enums.VAEs,
			Loras:         enums.Loras,
			UpscaleModels: enums.UpscaleModels,
		})
	}
}

// GetEnum returns the values of one catalog by name.
func GetEnum(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		values, ok := cat.Lookup(name)
		if !ok {
			c.JSON(http.StatusNotFound,
				datatypes.ErrorResponse{Error: "unknown enum: " + name})
			return
		}
		c.JSON(http.StatusOK, datatypes.EnumValuesResponse{
			EnumName: name,
			Values:   values,
		})
	}
}

// RefreshEnums re-fetches the catalogs from the backend.
func RefreshEnums(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request to refresh backend catalog")
		if err := cat.Refresh(c.Request.Context()); err != nil {
			slog.Error("Catalog refresh failed", "error", err)
			c.JSON(http.StatusBadGateway,
				datatypes.ErrorResponse{Error: "failed to refresh backend catalog"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
	}
}
