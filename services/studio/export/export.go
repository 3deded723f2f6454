// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package export publishes finished experiments to an external tracking
// server. Export is strictly best-effort: a failed sync is reported to
// the caller of the sync endpoint but never touches run state.
package export

import (
	"context"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// Run identifies a created tracking run.
type Run struct {
	ID  string
	URL string
}

// SyncOptions direct where the run lands on the tracking server.
type SyncOptions struct {
	Project string
	Entity  string
	Tags    []string
}

// Exporter syncs one finished experiment and its artifact records to a
// tracking run.
type Exporter interface {
	// Sync creates a run, logs every artifact record, and finishes the
	// run. It returns the run identity and the number of artifacts
	// uploaded.
	Sync(ctx context.Context, exp *datatypes.Experiment,
		images []*datatypes.GeneratedImage, opts SyncOptions) (Run, int, error)
}

// Noop is the exporter used when no tracking server is configured.
type Noop struct{}

var _ Exporter = (*Noop)(nil)

func (Noop) Sync(context.Context, *datatypes.Experiment,
	[]*datatypes.GeneratedImage, SyncOptions) (Run, int, error) {
	return Run{}, 0, ErrNotConfigured
}
