// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Experiment Lifecycle
// =============================================================================

// ExperimentStatus is the lifecycle state of an experiment.
//
// Transitions are monotonic: draft → queued → running → one of
// {completed, failed, cancelled}. Terminal states never change again.
type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusQueued    ExperimentStatus = "queued"
	StatusRunning   ExperimentStatus = "running"
	StatusCompleted ExperimentStatus = "completed"
	StatusFailed    ExperimentStatus = "failed"
	StatusCancelled ExperimentStatus = "cancelled"
)

// Terminal reports whether the status is one of the three end states.
func (s ExperimentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// =============================================================================
// Experiment
// =============================================================================

// Experiment is one complete sweep request: three axes, a base workflow
// configuration, and execution progress.
//
// TotalImages is computed once at creation (|X|*|Y|*|Z|, multiplied by
// NumSeeds for multi-seed runs) and never recomputed. ImagesGenerated is
// monotonic non-decreasing until a terminal state.
type Experiment struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Status      ExperimentStatus `json:"status"`

	Grid     ParameterGrid  `json:"parameter_grid"`
	Workflow WorkflowConfig `json:"workflow_config"`

	// MultiSeed repeats every combination NumSeeds times with distinct seeds.
	MultiSeed bool `json:"multi_seed,omitempty"`
	NumSeeds  int  `json:"num_seeds,omitempty"`

	TotalImages     int     `json:"total_images"`
	ImagesGenerated int     `json:"images_generated"`
	Progress        float64 `json:"progress"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	// Export run identity, set after a tracking sync.
	ExportRunID  string `json:"export_run_id,omitempty"`
	ExportRunURL string `json:"export_run_url,omitempty"`
}

// SeedsPerCombination returns how many images each combination produces.
func (e *Experiment) SeedsPerCombination() int {
	if e.MultiSeed && e.NumSeeds > 1 {
		return e.NumSeeds
	}
	return 1
}

// =============================================================================
// Generated Artifacts
// =============================================================================

// GeneratedImage is the record of one produced artifact. Records are
// append-only with respect to an experiment and never mutated; a partial
// run leaves its records intact and queryable.
type GeneratedImage struct {
	ID           string `json:"id"`
	ExperimentID string `json:"experiment_id"`

	// Index is the image's linear index within the run (combination index
	// for single-seed runs).
	Index int `json:"index"`

	// CombinationIndex addresses the grid point this image belongs to.
	CombinationIndex int `json:"combination_index"`

	// Parameters holds the resolved axis values keyed by axis name.
	Parameters map[string]AxisValue `json:"parameters"`

	// ImagePath is the artifact reference returned by the backend.
	ImagePath string `json:"image_path"`

	Seed           int64   `json:"seed"`
	GenerationTime float64 `json:"generation_time"`

	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the point-in-time run summary handed to new observers
// before live events, so a late subscriber never needs event history to
// reconstruct current state.
type Snapshot struct {
	ExperimentID    string           `json:"experiment_id"`
	Status          ExperimentStatus `json:"status"`
	ImagesGenerated int              `json:"images_generated"`
	TotalImages     int              `json:"total_images"`
	Progress        float64          `json:"progress"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}
