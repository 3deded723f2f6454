// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// EventType discriminates progress events on the experiment stream.
type EventType string

const (
	// EventSnapshot is sent once to each new subscriber before live events.
	EventSnapshot EventType = "snapshot"

	// EventGenerationStarted opens a run.
	EventGenerationStarted EventType = "generation_started"

	// EventImageGenerated reports one finished artifact.
	EventImageGenerated EventType = "image_generated"

	// EventBatchCompleted marks the end of one Z-slice of the grid.
	EventBatchCompleted EventType = "batch_completed"

	// EventExperimentCompleted closes a fully successful run.
	EventExperimentCompleted EventType = "experiment_completed"

	// EventExperimentFailed closes a run stopped by a fatal backend error.
	EventExperimentFailed EventType = "experiment_failed"

	// EventExperimentCancelled closes a cooperatively cancelled run.
	EventExperimentCancelled EventType = "experiment_cancelled"
)

// Event is one message on an experiment's ordered progress stream.
//
// Events for a given experiment are published in strictly increasing
// image-index order. Counters are absolute, not deltas, so delivery is
// safe under at-least-once semantics: an observer applying an event it
// already saw lands on the same state.
type Event struct {
	Type         EventType `json:"type"`
	ExperimentID string    `json:"experiment_id"`
	Timestamp    time.Time `json:"timestamp"`

	// Image fields (image_generated). The indexes start at zero, so the
	// first image is a legitimate value and the fields always serialize.
	ImageIndex       int            `json:"image_index"`
	CombinationIndex int            `json:"combination_index"`
	ImagePath        string         `json:"image_path,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`

	// Progress fields.
	ImagesGenerated int     `json:"images_generated,omitempty"`
	TotalImages     int     `json:"total_images,omitempty"`
	Progress        float64 `json:"progress,omitempty"`

	// Batch fields (batch_completed).
	ZValue      any `json:"z_value,omitempty"`
	ImagesCount int `json:"images_count,omitempty"`

	// Terminal fields.
	TotalTime float64          `json:"total_time,omitempty"`
	Status    ExperimentStatus `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`

	// Snapshot payload (snapshot events only).
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}
