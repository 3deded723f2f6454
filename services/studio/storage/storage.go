// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the durable store boundary for experiments and
// generated artifacts.
//
// The execution engine treats every write as a synchronous acknowledgement
// point: it does not advance past a generated image until the
// corresponding record is stored, so observers never see progress events
// ahead of durable state. Implementations must be safe for concurrent
// reads while one execution loop is writing.
package storage

import (
	"context"
	"errors"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract for the studio service.
type Store interface {
	// SaveExperiment creates or replaces an experiment record.
	SaveExperiment(ctx context.Context, exp *datatypes.Experiment) error

	// LoadExperiment returns the experiment or ErrNotFound.
	LoadExperiment(ctx context.Context, id string) (*datatypes.Experiment, error)

	// ListExperiments returns all experiments, newest first.
	ListExperiments(ctx context.Context) ([]*datatypes.Experiment, error)

	// UpdateRunState persists execution progress for an experiment.
	// The write must be acknowledged before the call returns.
	UpdateRunState(ctx context.Context, exp *datatypes.Experiment) error

	// SaveArtifact appends one generated image record. Records are
	// immutable once written.
	SaveArtifact(ctx context.Context, img *datatypes.GeneratedImage) error

	// ListArtifacts returns an experiment's records in index order.
	ListArtifacts(ctx context.Context, experimentID string) ([]*datatypes.GeneratedImage, error)

	// DeleteExperiment removes an experiment and its artifacts.
	DeleteExperiment(ctx context.Context, id string) error

	// Close releases underlying resources.
	Close() error
}
