// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plotforge/gridstudio/services/generation"
	"github.com/plotforge/gridstudio/services/studio/catalog"
	"github.com/plotforge/gridstudio/services/studio/engine"
	"github.com/plotforge/gridstudio/services/studio/export"
	"github.com/plotforge/gridstudio/services/studio/handlers"
	"github.com/plotforge/gridstudio/services/studio/storage"
	"github.com/plotforge/gridstudio/services/studio/workflow"
)

// Deps carries everything the route handlers need.
type Deps struct {
	Store     storage.Store
	Orch      *engine.Orchestrator
	Catalog   *catalog.Catalog
	Generator *workflow.Generator
	Backend   generation.Client
	Exporter  export.Exporter

	// OutputsDir, when set, is served statically under /outputs so
	// clients can fetch generated artifacts directly.
	OutputsDir string
}

func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/health", handlers.HealthCheck(d.Backend))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.OutputsDir != "" {
		router.Static("/outputs", d.OutputsDir)
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/code/generate", handlers.GenerateCode(d.Generator, d.Orch.MaxCombinations()))
		v1.POST("/export/sync", handlers.SyncExport(d.Exporter, d.Store))

		enums := v1.Group("/enums")
		{
			enums.GET("", handlers.ListEnums(d.Catalog))
			enums.POST("/refresh", handlers.RefreshEnums(d.Catalog))
			enums.GET("/:name", handlers.GetEnum(d.Catalog))
		}

		experiments := v1.Group("/experiments")
		{
			experiments.POST("", handlers.CreateExperiment(d.Store, d.Orch.MaxCombinations()))
			experiments.GET("", handlers.ListExperiments(d.Store))
			experiments.GET("/:id", handlers.GetExperiment(d.Store))
			experiments.GET("/:id/images", handlers.GetExperimentImages(d.Store))
			experiments.POST("/:id/execute", handlers.ExecuteExperiment(d.Orch))
			experiments.POST("/:id/cancel", handlers.CancelExperiment(d.Orch))
			experiments.DELETE("/:id", handlers.DeleteExperiment(d.Store, d.Orch))
			experiments.GET("/:id/ws", handlers.ExperimentEvents(d.Orch, d.Store))
		}
	}
}
