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
	"github.com/google/uuid"

	"github.com/plotforge/gridstudio/pkg/validation"
	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/engine"
	"github.com/plotforge/gridstudio/services/studio/storage"
)

// CreateExperiment validates the request, computes the run size, and
// stores the experiment in draft state. Nothing executes until the
// execute endpoint is called.
func CreateExperiment(store storage.Store, maxCombinations int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateExperimentRequest
		if err := validation.DecodeStrict(c.Request.Body, &req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if err := validation.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if err := validateGridRequest(req.Grid, req.Workflow); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		// Ceiling enforcement happens at creation, before anything is
		// persisted, so oversized grids never reach the store.
		grid, err := engine.ExpandGrid(req.Grid, maxCombinations)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if base := req.Workflow.Base(); base != nil {
			base.ApplyDefaults()
		}

		now := time.Now()
		exp := &datatypes.Experiment{
			ID:          uuid.New().String(),
			Name:        req.Name,
			Description: req.Description,
			Status:      datatypes.StatusDraft,
			Grid:        req.Grid,
			Workflow:    req.Workflow,
			MultiSeed:   req.MultiSeed,
			NumSeeds:    req.NumSeeds,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		exp.TotalImages = grid.Total() * exp.SeedsPerCombination()

		if err := store.SaveExperiment(c.Request.Context(), exp); err != nil {
			slog.Error("Failed to save experiment", "error", err)
			c.JSON(http.StatusInternalServerError,
				datatypes.ErrorResponse{Error: "failed to save experiment"})
			return
		}
		slog.Info("Experiment created", "experiment_id", exp.ID,
			"name", exp.Name, "total_images", exp.TotalImages)
		c.JSON(http.StatusCreated, exp)
	}
}

// ListExperiments returns all experiments, newest first.
func ListExperiments(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		exps, err := store.ListExperiments(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list experiments", "error", err)
			c.JSON(http.StatusInternalServerError,
				datatypes.ErrorResponse{Error: "failed to list experiments"})
			return
		}
		if exps == nil {
			exps = []*datatypes.Experiment{}
		}
		c.JSON(http.StatusOK, exps)
	}
}

// GetExperiment returns one experiment by id.
func GetExperiment(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		exp, err := store.LoadExperiment(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, exp)
	}
}

// GetExperimentImages returns the generated image records in linear
// index order. Partial runs return everything generated before the stop.
func GetExperimentImages(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := store.LoadExperiment(c.Request.Context(), id); err != nil {
			respondStoreError(c, err)
			return
		}
		images, err := store.ListArtifacts(c.Request.Context(), id)
		if err != nil {
			slog.Error("Failed to list artifacts", "experiment_id", id, "error", err)
			c.JSON(http.StatusInternalServerError,
				datatypes.ErrorResponse{Error: "failed to list images"})
			return
		}
		if images == nil {
			images = []*datatypes.GeneratedImage{}
		}
		c.JSON(http.StatusOK, images)
	}
}

// ExecuteExperiment starts a run. The response acknowledges queueing;
// progress flows through the event stream.
func ExecuteExperiment(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		err := orch.Start(c.Request.Context(), id)
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, datatypes.ExecuteResponse{
				ExperimentID: id,
				Status:       datatypes.StatusQueued,
				Message:      "experiment queued for execution",
			})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "experiment not found"})
		case errors.Is(err, engine.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: "experiment is already running"})
		case errors.Is(err, engine.ErrAlreadyTerminal):
			c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: "experiment already finished"})
		case errors.Is(err, engine.ErrInvalidAxis), errors.Is(err, engine.ErrGridTooLarge):
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		default:
			slog.Error("Failed to start experiment", "experiment_id", id, "error", err)
			c.JSON(http.StatusInternalServerError,
				datatypes.ErrorResponse{Error: "failed to start experiment"})
		}
	}
}

// CancelExperiment requests cooperative cancellation of a running
// experiment. The run stops at the next combination boundary.
func CancelExperiment(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := orch.Cancel(id); err != nil {
			c.JSON(http.StatusConflict,
				datatypes.ErrorResponse{Error: "experiment is not running"})
			return
		}
		c.JSON(http.StatusAccepted, datatypes.ExecuteResponse{
			ExperimentID: id,
			Status:       datatypes.StatusRunning,
			Message:      "cancellation requested",
		})
	}
}

// DeleteExperiment removes an experiment and its artifact records.
// Running experiments must be cancelled first.
func DeleteExperiment(store storage.Store, orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if orch.IsRunning(id) {
			c.JSON(http.StatusConflict,
				datatypes.ErrorResponse{Error: "experiment is running; cancel it first"})
			return
		}
		if err := store.DeleteExperiment(c.Request.Context(), id); err != nil {
			respondStoreError(c, err)
			return
		}
		slog.Info("Experiment deleted", "experiment_id", id)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "experiment_id": id})
	}
}

func respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "experiment not found"})
		return
	}
	slog.Error("Store operation failed", "error", err)
	c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "storage failure"})
}
