// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// ErrNotConfigured is returned when no tracking server is configured.
var ErrNotConfigured = errors.New("export: tracking server not configured")

// TrackingConfig holds the tracking-server connection settings.
type TrackingConfig struct {
	// BaseURL is the tracking server root, e.g. "http://tracker:8839".
	BaseURL string

	// APIKey authorizes requests when set.
	APIKey string

	// DefaultProject is used when a sync request names no project.
	DefaultProject string

	// HTTPTimeout bounds each tracking call. Default 30s.
	HTTPTimeout time.Duration
}

// TrackingExporter syncs experiments to an HTTP tracking server with a
// run-oriented API: create run, append records, finish run.
type TrackingExporter struct {
	cfg    TrackingConfig
	client *http.Client
}

var _ Exporter = (*TrackingExporter)(nil)

func NewTrackingExporter(cfg TrackingConfig) *TrackingExporter {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &TrackingExporter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

type createRunRequest struct {
	Name    string         `json:"name"`
	Project string         `json:"project"`
	Entity  string         `json:"entity,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
}

type createRunResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type logRecordRequest struct {
	Index      int            `json:"index"`
	ImagePath  string         `json:"image_path"`
	Seed       int64          `json:"seed"`
	Duration   float64        `json:"generation_time"`
	Parameters map[string]any `json:"parameters"`
}

// Sync implements Exporter.
func (t *TrackingExporter) Sync(ctx context.Context, exp *datatypes.Experiment,
	images []*datatypes.GeneratedImage, opts SyncOptions) (Run, int, error) {

	if t.cfg.BaseURL == "" {
		return Run{}, 0, ErrNotConfigured
	}
	project := opts.Project
	if project == "" {
		project = t.cfg.DefaultProject
	}

	var created createRunResponse
	err := t.post(ctx, "/api/runs", createRunRequest{
		Name:    exp.Name,
		Project: project,
		Entity:  opts.Entity,
		Tags:    opts.Tags,
		Config: map[string]any{
			"experiment_id": exp.ID,
			"total_images":  exp.TotalImages,
			"status":        exp.Status,
		},
	}, &created)
	if err != nil {
		return Run{}, 0, fmt.Errorf("create tracking run: %w", err)
	}

	uploaded := 0
	for _, img := range images {
		params := make(map[string]any, len(img.Parameters))
		for k, v := range img.Parameters {
			params[k] = v.Native()
		}
		err := t.post(ctx, "/api/runs/"+created.ID+"/records", logRecordRequest{
			Index:      img.Index,
			ImagePath:  img.ImagePath,
			Seed:       img.Seed,
			Duration:   img.GenerationTime,
			Parameters: params,
		}, nil)
		if err != nil {
			// Partial uploads are acceptable; the run still finishes.
			slog.Warn("Failed to log artifact to tracking run",
				"run_id", created.ID, "index", img.Index, "error", err)
			continue
		}
		uploaded++
	}

	if err := t.post(ctx, "/api/runs/"+created.ID+"/finish", struct{}{}, nil); err != nil {
		slog.Warn("Failed to finish tracking run", "run_id", created.ID, "error", err)
	}

	slog.Info("Experiment synced to tracking server",
		"experiment_id", exp.ID, "run_id", created.ID, "uploaded", uploaded)
	return Run{ID: created.ID, URL: created.URL}, uploaded, nil
}

func (t *TrackingExporter) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tracking server returned %d: %s", resp.StatusCode, string(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
