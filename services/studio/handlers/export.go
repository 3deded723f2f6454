// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plotforge/gridstudio/pkg/validation"
	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/export"
	"github.com/plotforge/gridstudio/services/studio/storage"
)

// SyncExport pushes a finished experiment's records to the tracking
// server and stamps the run identity on the experiment. Export failures
// surface here but never alter run state.
func SyncExport(exporter export.Exporter, store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ExportSyncRequest
		if err := validation.DecodeStrict(c.Request.Body, &req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if err := validation.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		ctx := c.Request.Context()
		exp, err := store.LoadExperiment(ctx, req.ExperimentID)
		if err != nil {
			respondStoreError(c, err)
			return
		}
		if !exp.Status.Terminal() {
			c.JSON(http.StatusConflict,
				datatypes.ErrorResponse{Error: "experiment has not finished"})
			return
		}
		images, err := store.ListArtifacts(ctx, exp.ID)
		if err != nil {
			slog.Error("Failed to list artifacts for export", "experiment_id", exp.ID, "error", err)
			c.JSON(http.StatusInternalServerError,
				datatypes.ErrorResponse{Error: "failed to list images"})
			return
		}

		run, uploaded, err := exporter.Sync(ctx, exp, images, export.SyncOptions{
			Project: req.Project,
			Entity:  req.Entity,
			Tags:    req.Tags,
		})
		if errors.Is(err, export.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable,
				datatypes.ErrorResponse{Error: "no tracking server configured"})
			return
		}
		if err != nil {
			slog.Error("Export sync failed", "experiment_id", exp.ID, "error", err)
			c.JSON(http.StatusBadGateway,
				datatypes.ErrorResponse{Error: "export sync failed"})
			return
		}

		exp.ExportRunID = run.ID
		exp.ExportRunURL = run.URL
		exp.UpdatedAt = time.Now()
		if err := store.SaveExperiment(ctx, exp); err != nil {
			slog.Error("Failed to record export run", "experiment_id", exp.ID, "error", err)
		}

		c.JSON(http.StatusOK, datatypes.ExportSyncResponse{
			Success:           true,
			RunID:             run.ID,
			RunURL:            run.URL,
			ArtifactsUploaded: uploaded,
		})
	}
}
