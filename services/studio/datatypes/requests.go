// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// CreateExperimentRequest is the body for POST /v1/experiments.
type CreateExperimentRequest struct {
	// Name labels the experiment. Required.
	Name string `json:"name" binding:"required,min=1,max=200"`

	// Description is free-form text.
	Description string `json:"description,omitempty"`

	Grid     ParameterGrid  `json:"parameter_grid" binding:"required"`
	Workflow WorkflowConfig `json:"workflow_config" binding:"required"`

	// MultiSeed generates NumSeeds images per combination.
	MultiSeed bool `json:"multi_seed,omitempty"`
	NumSeeds  int  `json:"num_seeds,omitempty" binding:"omitempty,gte=1,lte=10"`
}

// ExecuteResponse acknowledges that a run was accepted for execution.
type ExecuteResponse struct {
	ExperimentID string           `json:"experiment_id"`
	Status       ExperimentStatus `json:"status"`
	Message      string           `json:"message"`
}

// CodeGenerateRequest is the body for POST /v1/code/generate.
type CodeGenerateRequest struct {
	Grid     ParameterGrid  `json:"parameter_grid" binding:"required"`
	Workflow WorkflowConfig `json:"workflow_config" binding:"required"`
}

// CodeGenerateResponse carries the script preview and the backend graph
// for combination zero.
type CodeGenerateResponse struct {
	Code         string         `json:"code"`
	WorkflowJSON map[string]any `json:"workflow_json,omitempty"`
}

// EnumValuesResponse is the response for GET /v1/enums/:name.
type EnumValuesResponse struct {
	EnumName string   `json:"enum_name"`
	Values   []string `json:"values"`
}

// AvailableEnumsResponse lists every backend catalog in one call.
type AvailableEnumsResponse struct {
	Samplers      []string `json:"samplers"`
	Schedulers    []string `json:"schedulers"`
	Checkpoints   []string `json:"checkpoints"`
	VAEs          []string `json:"vaes"`
	Loras         []string `json:"loras"`
	UpscaleModels []string `json:"upscale_models"`
}

// ExportSyncRequest is the body for POST /v1/export/sync.
type ExportSyncRequest struct {
	ExperimentID string   `json:"experiment_id" binding:"required"`
	Project      string   `json:"project,omitempty"`
	Entity       string   `json:"entity,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// ExportSyncResponse reports the tracking run created for an experiment.
type ExportSyncResponse struct {
	Success           bool   `json:"success"`
	RunID             string `json:"run_id"`
	RunURL            string `json:"run_url,omitempty"`
	ArtifactsUploaded int    `json:"artifacts_uploaded"`
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	BackendConnected bool   `json:"backend_connected"`
}

// ErrorResponse is the uniform error body for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
