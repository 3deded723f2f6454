// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/engine"
)

// =============================================================================
// Create
// =============================================================================

func TestCreateExperiment(t *testing.T) {
	env := newTestEnv(t)

	exp := env.createExperiment(t)
	if exp.ID == "" {
		t.Error("Created experiment has no id")
	}
	if exp.Status != datatypes.StatusDraft {
		t.Errorf("Status = %s, want draft", exp.Status)
	}
	if exp.TotalImages != 4 {
		t.Errorf("TotalImages = %d, want 4", exp.TotalImages)
	}

	stored, err := env.store.LoadExperiment(context.Background(), exp.ID)
	if err != nil {
		t.Fatalf("Experiment was not persisted: %v", err)
	}
	if stored.Name != "cfg vs steps" {
		t.Errorf("Stored name = %q", stored.Name)
	}
}

func TestCreateExperiment_AppliesBaseDefaults(t *testing.T) {
	env := newTestEnv(t)

	exp := env.createExperiment(t)
	base := exp.Workflow.Base()
	if base == nil {
		t.Fatal("Base() returned nil for txt2img")
	}
	if base.Width != 512 || base.Height != 512 || base.BatchSize != 1 {
		t.Errorf("Defaults not applied: %dx%d batch %d", base.Width, base.Height, base.BatchSize)
	}
}

func TestCreateExperiment_RejectsUnknownField(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/experiments",
		`{"name":"x","bogus":true}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", w.Code)
	}
}

func TestCreateExperiment_RejectsMissingName(t *testing.T) {
	env := newTestEnv(t)

	req := createRequest()
	req.Name = ""
	w := env.do(t, http.MethodPost, "/v1/experiments", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", w.Code)
	}
}

func TestCreateExperiment_RejectsOversizedGrid(t *testing.T) {
	env := newTestEnvWith(t, engine.Config{MaxCombinations: 3})

	w := env.do(t, http.MethodPost, "/v1/experiments", createRequest())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400; body %s", w.Code, w.Body.String())
	}
	exps, _ := env.store.ListExperiments(context.Background())
	if len(exps) != 0 {
		t.Error("Oversized grid must not be persisted")
	}
}

func TestCreateExperiment_RejectsVariantMismatch(t *testing.T) {
	env := newTestEnv(t)

	req := createRequest()
	req.Workflow.Template = datatypes.TemplateImg2Img
	w := env.do(t, http.MethodPost, "/v1/experiments", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", w.Code)
	}
}

func TestCreateExperiment_RejectsUnsafeAxisName(t *testing.T) {
	env := newTestEnv(t)

	req := createRequest()
	req.Grid.XAxis.Name = "../cfg"
	w := env.do(t, http.MethodPost, "/v1/experiments", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", w.Code)
	}
}

// =============================================================================
// Read
// =============================================================================

func TestListExperiments(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/experiments", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	if body := w.Body.String(); body != "[]" {
		t.Errorf("Empty list should render as [], got %s", body)
	}

	env.createExperiment(t)
	w = env.do(t, http.MethodGet, "/v1/experiments", nil)
	exps := decodeBody[[]datatypes.Experiment](t, w)
	if len(exps) != 1 {
		t.Fatalf("Listed %d experiments, want 1", len(exps))
	}
}

func TestGetExperiment(t *testing.T) {
	env := newTestEnv(t)
	exp := env.createExperiment(t)

	w := env.do(t, http.MethodGet, "/v1/experiments/"+exp.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	got := decodeBody[datatypes.Experiment](t, w)
	if got.ID != exp.ID {
		t.Errorf("ID = %q, want %q", got.ID, exp.ID)
	}
}

func TestGetExperiment_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/experiments/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", w.Code)
	}
}

func TestGetExperimentImages(t *testing.T) {
	env := newTestEnv(t)
	exp := env.createExperiment(t)

	w := env.do(t, http.MethodGet, "/v1/experiments/"+exp.ID+"/images", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	if body := w.Body.String(); body != "[]" {
		t.Errorf("No images yet should render as [], got %s", body)
	}

	env.execute(t, exp.ID)
	env.waitForStatus(t, exp.ID, datatypes.StatusCompleted)

	w = env.do(t, http.MethodGet, "/v1/experiments/"+exp.ID+"/images", nil)
	images := decodeBody[[]datatypes.GeneratedImage](t, w)
	if len(images) != 4 {
		t.Fatalf("Got %d images, want 4", len(images))
	}
	for i, img := range images {
		if img.Index != i {
			t.Errorf("images[%d].Index = %d", i, img.Index)
		}
	}
}

func TestGetExperimentImages_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/experiments/missing/images", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", w.Code)
	}
}

// =============================================================================
// Execute / Cancel / Delete
// =============================================================================

func (e *testEnv) execute(t *testing.T, id string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/experiments/"+id+"/execute", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Execute: status %d, body %s", w.Code, w.Body.String())
	}
}

func TestExecuteExperiment(t *testing.T) {
	env := newTestEnv(t)
	exp := env.createExperiment(t)

	w := env.do(t, http.MethodPost, "/v1/experiments/"+exp.ID+"/execute", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[datatypes.ExecuteResponse](t, w)
	if resp.ExperimentID != exp.ID {
		t.Errorf("ExperimentID = %q", resp.ExperimentID)
	}
	if resp.Status != datatypes.StatusQueued {
		t.Errorf("Status = %s, want queued", resp.Status)
	}

	env.waitForStatus(t, exp.ID, datatypes.StatusCompleted)
	env.waitNotRunning(t, exp.ID)
}

func TestExecuteExperiment_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/experiments/missing/execute", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", w.Code)
	}
}

func TestExecuteExperiment_AlreadyRunning(t *testing.T) {
	env := newTestEnv(t)
	exp := env.createExperiment(t)

	env.backend.block = make(chan struct{})
	env.backend.started = make(chan struct{}, 1)
	env.execute(t, exp.ID)

	select {
	case <-env.backend.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Run never reached the backend")
	}

	w := env.do(t, http.MethodPost, "/v1/experiments/"+exp.ID+"/execute", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Second execute: status %d, want 409", w.Code)
	}

	close(env.backend.block)
	env.waitNotRunning(t, exp.ID)
}

func TestExecuteExperiment_AlreadyFinished(t *testing.T) {
	env := newTestEnv(t)
	exp := env.createExperiment(t)
	env.execute(t, exp.ID)
	env.waitForStatus(t, exp.ID, datatypes.StatusCompleted)
	env.waitNotRunning(t, exp.ID)

	w := env.do(t, http.MethodPost, "/v1/experiments/"+exp.ID+"/execute", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Status = %d, want 409", w.Code)
	}
}

func TestExecuteExperiment_InvalidGrid(t *testing.T) {
	env := newTestEnv(t)

	// A broken definition stored directly, bypassing creation checks.
	exp := &datatypes.Experiment{
		ID:     "broken",
		Name:   "broken",
		Status: datatypes.StatusDraft,
		Grid: datatypes.ParameterGrid{
			XAxis: datatypes.AxisDefinition{Name: "cfg", Kind: datatypes.AxisNumeric, Min: 1, Max: 2, Step: 0},
			YAxis: smallGrid().YAxis,
			ZAxis: smallGrid().ZAxis,
		},
		Workflow:  txt2imgWorkflow(),
		CreatedAt: time.Now(),
	}
	if err := env.store.SaveExperiment(context.Background(), exp); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/v1/experiments/broken/execute", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", w.Code)
	}
}

func TestCancelExperiment_NotRunning(t *testing.T) {
	env := newTestEnv(t)
	exp := env.createExperiment(t)

	w := env.do(t, http.MethodPost, "/v1/experiments/"+exp.ID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Status = %d, want 409", w.Code)
	}
}

func TestCancelExperiment_Running(t *testing.T) {
	env := newTestEnv(t)
	exp := env.createExperiment(t)

	env.backend.block = make(chan struct{})
	env.backend.started = make(chan struct{}, 1)
	env.execute(t, exp.ID)
	select {
	case <-env.backend.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Run never reached the backend")
	}

	w := env.do(t, http.MethodPost, "/v1/experiments/"+exp.ID+"/cancel", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, body %s", w.Code, w.Body.String())
	}

	// The in-flight call finishes, then the run stops at the boundary.
	close(env.backend.block)
	env.waitForStatus(t, exp.ID, datatypes.StatusCancelled)
	env.waitNotRunning(t, exp.ID)
}

func TestDeleteExperiment(t *testing.T) {
	env := newTestEnv(t)
	exp := env.createExperiment(t)

	w := env.do(t, http.MethodDelete, "/v1/experiments/"+exp.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	if _, err := env.store.LoadExperiment(context.Background(), exp.ID); err == nil {
		t.Error("Experiment still present after delete")
	}
}

func TestDeleteExperiment_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodDelete, "/v1/experiments/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", w.Code)
	}
}

func TestDeleteExperiment_RunningIsRejected(t *testing.T) {
	env := newTestEnv(t)
	exp := env.createExperiment(t)

	env.backend.block = make(chan struct{})
	env.backend.started = make(chan struct{}, 1)
	env.execute(t, exp.ID)
	select {
	case <-env.backend.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Run never reached the backend")
	}

	w := env.do(t, http.MethodDelete, "/v1/experiments/"+exp.ID, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Status = %d, want 409", w.Code)
	}

	close(env.backend.block)
	env.waitNotRunning(t, exp.ID)
}

// =============================================================================
// Health
// =============================================================================

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	resp := decodeBody[datatypes.HealthResponse](t, w)
	if resp.Status != "ok" || !resp.BackendConnected {
		t.Errorf("Health = %+v", resp)
	}
}

func TestHealthCheck_DegradedBackend(t *testing.T) {
	env := newTestEnv(t)
	env.backend.mu.Lock()
	env.backend.pingErr = context.DeadlineExceeded
	env.backend.mu.Unlock()

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("A dead backend must not fail the health endpoint: status %d", w.Code)
	}
	resp := decodeBody[datatypes.HealthResponse](t, w)
	if resp.Status != "degraded" || resp.BackendConnected {
		t.Errorf("Health = %+v", resp)
	}
}
