// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

func sampleExperiment() *datatypes.Experiment {
	return &datatypes.Experiment{
		ID:          "exp-1",
		Name:        "cfg sweep",
		Status:      datatypes.StatusCompleted,
		TotalImages: 2,
		CreatedAt:   time.Now(),
	}
}

func sampleImages() []*datatypes.GeneratedImage {
	return []*datatypes.GeneratedImage{
		{
			ExperimentID: "exp-1",
			Index:        0,
			ImagePath:    "out/0_0_0.png",
			Seed:         42,
			Parameters: map[string]datatypes.AxisValue{
				"cfg": datatypes.Number(6),
			},
		},
		{
			ExperimentID: "exp-1",
			Index:        1,
			ImagePath:    "out/1_0_0.png",
			Seed:         43,
			Parameters: map[string]datatypes.AxisValue{
				"cfg": datatypes.Number(7),
			},
		},
	}
}

type trackingServer struct {
	mu       sync.Mutex
	runs     int
	records  []logRecordRequest
	finished bool
	auth     string

	failRecordIndex int // record with this index gets a 500; -1 disables
	failCreate      bool
}

func newTrackingServer(t *testing.T) (*trackingServer, *httptest.Server) {
	t.Helper()
	ts := &trackingServer{failRecordIndex: -1}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/runs", func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.auth = r.Header.Get("Authorization")
		if ts.failCreate {
			http.Error(w, "no capacity", http.StatusServiceUnavailable)
			return
		}
		ts.runs++
		fmt.Fprintf(w, `{"id":"run-%d","url":"https://tracking.example/run-%d"}`, ts.runs, ts.runs)
	})
	mux.HandleFunc("POST /api/runs/{id}/records", func(w http.ResponseWriter, r *http.Request) {
		var rec logRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ts.mu.Lock()
		defer ts.mu.Unlock()
		if rec.Index == ts.failRecordIndex {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		ts.records = append(ts.records, rec)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/runs/{id}/finish", func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.finished = true
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return ts, srv
}

func TestTrackingExporter_Sync(t *testing.T) {
	ts, srv := newTrackingServer(t)
	exporter := NewTrackingExporter(TrackingConfig{
		BaseURL: srv.URL,
		APIKey:  "secret",
	})

	run, uploaded, err := exporter.Sync(context.Background(),
		sampleExperiment(), sampleImages(), SyncOptions{Project: "sweeps"})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if run.ID != "run-1" {
		t.Errorf("run.ID = %q", run.ID)
	}
	if run.URL == "" {
		t.Error("run.URL is empty")
	}
	if uploaded != 2 {
		t.Errorf("uploaded = %d, want 2", uploaded)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.auth != "Bearer secret" {
		t.Errorf("Authorization = %q", ts.auth)
	}
	if len(ts.records) != 2 {
		t.Fatalf("Server received %d records", len(ts.records))
	}
	if ts.records[0].ImagePath != "out/0_0_0.png" || ts.records[0].Seed != 42 {
		t.Errorf("records[0] = %+v", ts.records[0])
	}
	if got := ts.records[1].Parameters["cfg"]; got != 7.0 {
		t.Errorf("records[1] cfg = %v", got)
	}
	if !ts.finished {
		t.Error("Run was never finished")
	}
}

func TestTrackingExporter_NotConfigured(t *testing.T) {
	exporter := NewTrackingExporter(TrackingConfig{})

	_, _, err := exporter.Sync(context.Background(),
		sampleExperiment(), sampleImages(), SyncOptions{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
}

func TestTrackingExporter_CreateRunFailure(t *testing.T) {
	ts, srv := newTrackingServer(t)
	ts.failCreate = true
	exporter := NewTrackingExporter(TrackingConfig{BaseURL: srv.URL})

	_, _, err := exporter.Sync(context.Background(),
		sampleExperiment(), sampleImages(), SyncOptions{})
	if err == nil {
		t.Fatal("Sync() should fail when the run cannot be created")
	}
}

func TestTrackingExporter_PartialUpload(t *testing.T) {
	ts, srv := newTrackingServer(t)
	ts.failRecordIndex = 0
	exporter := NewTrackingExporter(TrackingConfig{BaseURL: srv.URL})

	run, uploaded, err := exporter.Sync(context.Background(),
		sampleExperiment(), sampleImages(), SyncOptions{})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if run.ID == "" {
		t.Error("run.ID is empty")
	}
	// One record failed, the other made it, and the run still finished.
	if uploaded != 1 {
		t.Errorf("uploaded = %d, want 1", uploaded)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.finished {
		t.Error("Run was never finished after partial upload")
	}
}

func TestNoopExporter(t *testing.T) {
	_, _, err := Noop{}.Sync(context.Background(), sampleExperiment(), nil, SyncOptions{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
}

func TestTrackingExporter_DefaultProject(t *testing.T) {
	var gotProject string
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/runs", func(w http.ResponseWriter, r *http.Request) {
		var req createRunRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		gotProject = req.Project
		mu.Unlock()
		fmt.Fprint(w, `{"id":"run-1","url":""}`)
	})
	mux.HandleFunc("POST /api/runs/{id}/finish", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	exporter := NewTrackingExporter(TrackingConfig{
		BaseURL:        srv.URL,
		DefaultProject: "gridstudio",
	})
	if _, _, err := exporter.Sync(context.Background(),
		sampleExperiment(), nil, SyncOptions{}); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotProject != "gridstudio" {
		t.Errorf("project = %q, want default", gotProject)
	}
}
