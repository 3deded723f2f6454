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

	"github.com/plotforge/gridstudio/pkg/validation"
	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/engine"
	"github.com/plotforge/gridstudio/services/studio/workflow"
)

// GenerateCode renders the sweep script and combination-zero graph for a
// grid without creating an experiment.
func GenerateCode(gen *workflow.Generator, maxCombinations int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CodeGenerateRequest
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

		grid, err := engine.ExpandGrid(req.Grid, maxCombinations)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		code, graphJSON, err := gen.Preview(grid, req.Workflow)
		if err != nil {
			slog.Error("Code preview generation failed", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, datatypes.CodeGenerateResponse{
			Code:         code,
			WorkflowJSON: graphJSON,
		})
	}
}

// validateGridRequest applies the checks shared by create and codegen:
// safe axis names and a coherent workflow variant.
func validateGridRequest(grid datatypes.ParameterGrid, cfg datatypes.WorkflowConfig) error {
	for _, axis := range []datatypes.AxisDefinition{grid.XAxis, grid.YAxis, grid.ZAxis} {
		if err := validation.ValidateAxisName(axis.Name); err != nil {
			return err
		}
	}
	return cfg.Validate()
}
