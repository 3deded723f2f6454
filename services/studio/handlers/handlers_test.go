// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Test fixtures shared by the handler tests: an in-memory store, a
// controllable backend, and a router wired through the real routes.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plotforge/gridstudio/services/generation"
	"github.com/plotforge/gridstudio/services/studio/catalog"
	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/engine"
	"github.com/plotforge/gridstudio/services/studio/export"
	"github.com/plotforge/gridstudio/services/studio/routes"
	"github.com/plotforge/gridstudio/services/studio/storage"
	"github.com/plotforge/gridstudio/services/studio/workflow"
)

// =============================================================================
// Fakes
// =============================================================================

type memStore struct {
	mu        sync.Mutex
	exps      map[string]datatypes.Experiment
	artifacts map[string][]datatypes.GeneratedImage
}

func newMemStore() *memStore {
	return &memStore{
		exps:      make(map[string]datatypes.Experiment),
		artifacts: make(map[string][]datatypes.GeneratedImage),
	}
}

func (s *memStore) SaveExperiment(_ context.Context, exp *datatypes.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exps[exp.ID] = *exp
	return nil
}

func (s *memStore) LoadExperiment(_ context.Context, id string) (*datatypes.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.exps[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := exp
	return &out, nil
}

func (s *memStore) ListExperiments(_ context.Context) ([]*datatypes.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*datatypes.Experiment, 0, len(s.exps))
	for _, exp := range s.exps {
		e := exp
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) UpdateRunState(_ context.Context, exp *datatypes.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exps[exp.ID]; !ok {
		return storage.ErrNotFound
	}
	s.exps[exp.ID] = *exp
	return nil
}

func (s *memStore) SaveArtifact(_ context.Context, img *datatypes.GeneratedImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[img.ExperimentID] = append(s.artifacts[img.ExperimentID], *img)
	return nil
}

func (s *memStore) ListArtifacts(_ context.Context, experimentID string) ([]*datatypes.GeneratedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imgs := s.artifacts[experimentID]
	out := make([]*datatypes.GeneratedImage, 0, len(imgs))
	for _, img := range imgs {
		i := img
		out = append(out, &i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *memStore) DeleteExperiment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exps[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.exps, id)
	delete(s.artifacts, id)
	return nil
}

func (s *memStore) Close() error { return nil }

var _ storage.Store = (*memStore)(nil)

// fakeBackend counts submissions and can be made to block until released,
// which keeps a run in the running state for as long as a test needs.
type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	pingErr error

	// block, when set before a run starts, parks every Submit until the
	// channel is closed.
	block chan struct{}

	// started receives one value per Submit entry when set.
	started chan struct{}
}

func (b *fakeBackend) Submit(ctx context.Context, _ generation.JobPayload) (generation.ArtifactRef, error) {
	b.mu.Lock()
	b.calls++
	n := b.calls
	block := b.block
	started := b.started
	b.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return generation.ArtifactRef{}, generation.Transient(ctx.Err())
		}
	}
	return generation.ArtifactRef{Path: fmt.Sprintf("out/img_%03d.png", n)}, nil
}

func (b *fakeBackend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pingErr
}

type stubBuilder struct{}

func (stubBuilder) Build(datatypes.WorkflowConfig, *engine.Grid, engine.Combination, int64) (generation.JobPayload, error) {
	return generation.JobPayload{Graph: json.RawMessage(`{}`)}, nil
}

type fakeExporter struct {
	mu   sync.Mutex
	err  error
	opts export.SyncOptions
}

func (f *fakeExporter) Sync(_ context.Context, _ *datatypes.Experiment,
	images []*datatypes.GeneratedImage, opts export.SyncOptions) (export.Run, int, error) {

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return export.Run{}, 0, f.err
	}
	f.opts = opts
	return export.Run{ID: "run-1", URL: "https://tracking.example/run-1"}, len(images), nil
}

type enumFetcher struct {
	mu  sync.Mutex
	err error
}

func (f *enumFetcher) ObjectInfo(context.Context) (map[string]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return map[string]json.RawMessage{
		"KSampler":               json.RawMessage(`{"input":{"required":{"sampler_name":[["euler","ddim"],{}],"scheduler":[["normal","karras"],{}]}}}`),
		"CheckpointLoaderSimple": json.RawMessage(`{"input":{"required":{"ckpt_name":[["sd15.safetensors"],{}]}}}`),
	}, nil
}

// =============================================================================
// Environment
// =============================================================================

type testEnv struct {
	store    *memStore
	backend  *fakeBackend
	orch     *engine.Orchestrator
	fetcher  *enumFetcher
	exporter *fakeExporter
	router   *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, engine.Config{})
}

func newTestEnvWith(t *testing.T, cfg engine.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = 2 * time.Second
	}

	store := newMemStore()
	backend := &fakeBackend{}
	orch := engine.NewOrchestrator(cfg, store, backend, stubBuilder{}, engine.NewBroadcaster())

	fetcher := &enumFetcher{}
	cat := catalog.New(fetcher)
	if err := cat.Init(context.Background()); err != nil {
		t.Fatalf("Catalog init: %v", err)
	}

	exporter := &fakeExporter{}
	router := gin.New()
	routes.SetupRoutes(router, routes.Deps{
		Store:     store,
		Orch:      orch,
		Catalog:   cat,
		Generator: workflow.NewGenerator(),
		Backend:   backend,
		Exporter:  exporter,
	})
	return &testEnv{
		store:    store,
		backend:  backend,
		orch:     orch,
		fetcher:  fetcher,
		exporter: exporter,
		router:   router,
	}
}

// do executes one request against the router. A string body is sent as-is;
// any other non-nil body is marshalled to JSON.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func (e *testEnv) waitForStatus(t *testing.T, id string, status datatypes.ExperimentStatus) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		exp, err := e.store.LoadExperiment(context.Background(), id)
		if err == nil && exp.Status == status {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Experiment %s never reached status %s", id, status)
}

func (e *testEnv) mustLoad(t *testing.T, id string) *datatypes.Experiment {
	t.Helper()
	exp, err := e.store.LoadExperiment(context.Background(), id)
	if err != nil {
		t.Fatalf("Load experiment %s: %v", id, err)
	}
	return exp
}

func (e *testEnv) waitNotRunning(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !e.orch.IsRunning(id) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Experiment %s still holds its run lock", id)
}

// =============================================================================
// Request Fixtures
// =============================================================================

// smallGrid is 2 x 2 x 1 = 4 combinations.
func smallGrid() datatypes.ParameterGrid {
	return datatypes.ParameterGrid{
		XAxis: datatypes.AxisDefinition{Name: "cfg", Kind: datatypes.AxisNumeric, Min: 6, Max: 7, Step: 1},
		YAxis: datatypes.AxisDefinition{Name: "steps", Kind: datatypes.AxisNumeric, Min: 10, Max: 20, Step: 10},
		ZAxis: datatypes.AxisDefinition{
			Name:   "sampler_name",
			Kind:   datatypes.AxisCategorical,
			Values: []datatypes.AxisValue{datatypes.Text("euler")},
		},
	}
}

func txt2imgWorkflow() datatypes.WorkflowConfig {
	return datatypes.WorkflowConfig{
		Template: datatypes.TemplateTxt2Img,
		Txt2Img: &datatypes.Txt2ImgConfig{
			GenerationBase: datatypes.GenerationBase{
				Prompt:     "a lighthouse at dusk",
				Checkpoint: "sd15.safetensors",
				Seed:       42,
			},
		},
	}
}

func createRequest() datatypes.CreateExperimentRequest {
	return datatypes.CreateExperimentRequest{
		Name:     "cfg vs steps",
		Grid:     smallGrid(),
		Workflow: txt2imgWorkflow(),
	}
}

// createExperiment posts a valid experiment and returns the stored record.
func (e *testEnv) createExperiment(t *testing.T) *datatypes.Experiment {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/experiments", createRequest())
	if w.Code != http.StatusCreated {
		t.Fatalf("Create experiment: status %d, body %s", w.Code, w.Body.String())
	}
	exp := decodeBody[datatypes.Experiment](t, w)
	return &exp
}
