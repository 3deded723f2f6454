// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plotforge/gridstudio/services/generation"
	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/observability"
	"github.com/plotforge/gridstudio/services/studio/storage"
)

// PayloadBuilder turns one combination plus the base workflow
// configuration into a submittable job. Implementations must be pure and
// deterministic: identical inputs always produce identical payloads.
type PayloadBuilder interface {
	Build(cfg datatypes.WorkflowConfig, grid *Grid, combo Combination, seed int64) (generation.JobPayload, error)
}

// Config holds orchestrator tuning knobs. Zero values select defaults.
type Config struct {
	// MaxCombinations is the grid ceiling. Default: 500.
	MaxCombinations int

	// PoolSize caps concurrently executing experiments. Starts beyond
	// capacity queue rather than fail. Default: 5.
	PoolSize int

	// RetryLimit is the number of retries after a transient backend
	// error before it escalates to fatal. Default: 3.
	RetryLimit int

	// RetryBaseDelay seeds the exponential backoff between retries.
	// Default: 1s.
	RetryBaseDelay time.Duration

	// JobTimeout bounds one backend submission attempt. A timeout is a
	// transient failure subject to the retry policy. Default: 5m.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxCombinations <= 0 {
		c.MaxCombinations = DefaultMaxCombinations
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 5
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	} else if c.RetryLimit == 0 {
		c.RetryLimit = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	return c
}

// Orchestrator drives experiment execution: it expands the grid once,
// walks combinations sequentially, submits jobs to the generation
// backend, persists results, and publishes ordered progress events.
//
// Run state for an experiment is owned exclusively by the goroutine
// holding its execution lock; all status, counter, and error mutations
// happen inside that loop. The store and broadcaster are the only
// components touched from outside it.
type Orchestrator struct {
	cfg     Config
	store   storage.Store
	backend generation.Client
	builder PayloadBuilder
	events  *Broadcaster

	mu   sync.Mutex
	runs map[string]*runHandle

	// slots is the worker-pool semaphore: one token per concurrently
	// executing experiment.
	slots chan struct{}

	// seedFn produces a random base seed when the workflow asks for one.
	// Replaceable in tests.
	seedFn func() int64
}

// runHandle is the per-experiment execution lock plus its cooperative
// cancellation signal.
type runHandle struct {
	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func (h *runHandle) cancelled() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}

// NewOrchestrator wires the engine against its collaborators.
func NewOrchestrator(cfg Config, store storage.Store, backend generation.Client,
	builder PayloadBuilder, events *Broadcaster) *Orchestrator {

	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		backend: backend,
		builder: builder,
		events:  events,
		runs:    make(map[string]*runHandle),
		slots:   make(chan struct{}, cfg.PoolSize),
		seedFn:  func() int64 { return rand.Int63n(1 << 32) },
	}
}

// Events returns the broadcaster observers subscribe through.
func (o *Orchestrator) Events() *Broadcaster {
	return o.events
}

// MaxCombinations returns the configured grid ceiling.
func (o *Orchestrator) MaxCombinations() int {
	return o.cfg.MaxCombinations
}

// =============================================================================
// Public Operations
// =============================================================================

// Start validates the experiment, acquires its execution lock, and
// launches the run as a background task. The call returns once the run
// is queued; it runs as soon as a pool slot frees up.
//
// Synchronous failures leave state untouched: ErrInvalidAxis and
// ErrGridTooLarge for bad definitions, ErrAlreadyRunning when the lock
// is held, ErrAlreadyTerminal for finished experiments. A second
// concurrent Start on the same id gets ErrAlreadyRunning; work is never
// duplicated and counters are never double-incremented.
func (o *Orchestrator) Start(ctx context.Context, experimentID string) error {
	exp, err := o.store.LoadExperiment(ctx, experimentID)
	if err != nil {
		return err
	}

	// Re-expansion from the definitions is the reproducibility contract:
	// a restarted run always enumerates from index 0.
	grid, err := ExpandGrid(exp.Grid, o.cfg.MaxCombinations)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if _, held := o.runs[experimentID]; held {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	handle := &runHandle{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	o.runs[experimentID] = handle
	o.mu.Unlock()

	// The first load happened before the lock was held. A run finishing
	// in that window moves the experiment to a terminal state the stale
	// copy does not show, so the status check has to use a fresh read
	// taken while we own the map entry.
	exp, err = o.store.LoadExperiment(ctx, experimentID)
	if err != nil {
		o.release(experimentID, handle)
		return err
	}
	if exp.Status.Terminal() {
		o.release(experimentID, handle)
		return ErrAlreadyTerminal
	}
	if exp.Status == datatypes.StatusRunning {
		o.release(experimentID, handle)
		return ErrAlreadyRunning
	}

	exp.Status = datatypes.StatusQueued
	exp.UpdatedAt = time.Now()
	if err := o.store.UpdateRunState(ctx, exp); err != nil {
		o.release(experimentID, handle)
		return fmt.Errorf("queue experiment %s: %w", experimentID, err)
	}

	slog.Info("Experiment queued for execution", "experiment_id", experimentID,
		"total_images", exp.TotalImages)
	go o.run(exp, grid, handle)
	return nil
}

// Cancel signals a running (or queued) experiment to stop. Cancellation
// is cooperative: it takes effect at the next combination boundary and
// never interrupts a backend call in flight, so the in-flight result is
// still recorded. Fails with ErrNotRunning when no lock is held.
func (o *Orchestrator) Cancel(experimentID string) error {
	o.mu.Lock()
	handle, held := o.runs[experimentID]
	o.mu.Unlock()
	if !held {
		return ErrNotRunning
	}
	handle.cancelOnce.Do(func() { close(handle.cancel) })
	slog.Info("Experiment marked for cancellation", "experiment_id", experimentID)
	return nil
}

// IsRunning reports whether an execution lock is held for the id.
func (o *Orchestrator) IsRunning(experimentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, held := o.runs[experimentID]
	return held
}

func (o *Orchestrator) release(experimentID string, handle *runHandle) {
	o.mu.Lock()
	delete(o.runs, experimentID)
	o.mu.Unlock()
	close(handle.done)
}

// =============================================================================
// Execution Loop
// =============================================================================

func (o *Orchestrator) run(exp *datatypes.Experiment, grid *Grid, handle *runHandle) {
	defer o.release(exp.ID, handle)

	// The run outlives the HTTP request that started it; lifecycle is
	// governed by the cancel signal, not a caller context.
	ctx := context.Background()

	if m := observability.DefaultMetrics; m != nil {
		m.QueuedRuns.Inc()
	}
	select {
	case o.slots <- struct{}{}:
	case <-handle.cancel:
		if m := observability.DefaultMetrics; m != nil {
			m.QueuedRuns.Dec()
		}
		o.finish(ctx, exp, datatypes.StatusCancelled, "", time.Time{})
		return
	}
	defer func() { <-o.slots }()
	if m := observability.DefaultMetrics; m != nil {
		m.QueuedRuns.Dec()
		m.ActiveRuns.Inc()
		defer m.ActiveRuns.Dec()
	}

	started := time.Now()
	exp.Status = datatypes.StatusRunning
	exp.StartedAt = &started
	exp.UpdatedAt = started
	if err := o.store.UpdateRunState(ctx, exp); err != nil {
		slog.Error("Failed to persist running state", "experiment_id", exp.ID, "error", err)
		o.finish(ctx, exp, datatypes.StatusFailed, "store unavailable: "+err.Error(), started)
		return
	}
	o.publish(exp, datatypes.Event{
		Type:         datatypes.EventGenerationStarted,
		ExperimentID: exp.ID,
		TotalImages:  exp.TotalImages,
	})

	baseSeed := exp.Workflow.BaseSeed()
	if baseSeed < 0 {
		baseSeed = o.seedFn()
		slog.Info("Selected random base seed", "experiment_id", exp.ID, "seed", baseSeed)
	}

	combos := grid.Enumerate()
	seedsPerCombo := exp.SeedsPerCombination()
	imageIndex := 0
	batchCount := 0

	for i, combo := range combos {
		if handle.cancelled() {
			slog.Info("Experiment cancelled", "experiment_id", exp.ID,
				"images_generated", exp.ImagesGenerated)
			o.finish(ctx, exp, datatypes.StatusCancelled, "", started)
			return
		}

		params := grid.Params(combo)
		for rep := 0; rep < seedsPerCombo; rep++ {
			seed := baseSeed + int64(imageIndex)
			prefix := fmt.Sprintf("%d_%d_%d", combo.XIdx, combo.YIdx, combo.ZIdx)
			if seedsPerCombo > 1 {
				prefix = fmt.Sprintf("%s_s%d", prefix, rep)
			}

			payload, err := o.builder.Build(exp.Workflow, grid, combo, seed)
			if err != nil {
				o.finish(ctx, exp, datatypes.StatusFailed,
					fmt.Sprintf("building job for combination %d: %v", combo.Index, err), started)
				return
			}
			payload.FilenamePrefix = prefix
			payload.Seed = seed

			genStart := time.Now()
			ref, err := o.submitWithRetry(ctx, payload)
			if err != nil {
				slog.Error("Backend submission failed", "experiment_id", exp.ID,
					"combination_index", combo.Index, "error", err)
				o.finish(ctx, exp, datatypes.StatusFailed,
					fmt.Sprintf("generation failed at combination %d: %v", combo.Index, err), started)
				return
			}
			genDuration := time.Since(genStart)

			record := &datatypes.GeneratedImage{
				ID:               uuid.New().String(),
				ExperimentID:     exp.ID,
				Index:            imageIndex,
				CombinationIndex: combo.Index,
				Parameters:       params,
				ImagePath:        ref.Path,
				Seed:             seed,
				GenerationTime:   genDuration.Seconds(),
				CreatedAt:        time.Now(),
			}
			// The artifact write and the counter update are acknowledged
			// before the event goes out, so observers never see progress
			// ahead of durable state.
			if err := o.store.SaveArtifact(ctx, record); err != nil {
				o.finish(ctx, exp, datatypes.StatusFailed,
					fmt.Sprintf("persisting artifact %d: %v", imageIndex, err), started)
				return
			}

			exp.ImagesGenerated++
			exp.Progress = float64(exp.ImagesGenerated) / float64(exp.TotalImages)
			exp.UpdatedAt = time.Now()
			if err := o.store.UpdateRunState(ctx, exp); err != nil {
				o.finish(ctx, exp, datatypes.StatusFailed,
					"store unavailable: "+err.Error(), started)
				return
			}

			if m := observability.DefaultMetrics; m != nil {
				m.ImagesGeneratedTotal.Inc()
				m.GenerationDurationSeconds.Observe(genDuration.Seconds())
			}
			o.publish(exp, datatypes.Event{
				Type:             datatypes.EventImageGenerated,
				ExperimentID:     exp.ID,
				ImageIndex:       imageIndex,
				CombinationIndex: combo.Index,
				ImagePath:        ref.Path,
				Parameters:       nativeParams(params),
				ImagesGenerated:  exp.ImagesGenerated,
				TotalImages:      exp.TotalImages,
				Progress:         exp.Progress,
			})

			imageIndex++
			batchCount++
		}

		// Emit a batch marker when the Z slice closes.
		if i+1 == len(combos) || combos[i+1].ZIdx != combo.ZIdx {
			o.publish(exp, datatypes.Event{
				Type:         datatypes.EventBatchCompleted,
				ExperimentID: exp.ID,
				ZValue:       combo.Z.Native(),
				ImagesCount:  batchCount,
			})
			batchCount = 0
		}
	}

	slog.Info("Experiment completed", "experiment_id", exp.ID,
		"total_images", exp.ImagesGenerated, "elapsed", time.Since(started).String())
	o.finish(ctx, exp, datatypes.StatusCompleted, "", started)
}

// submitWithRetry submits one job, retrying transient failures with
// exponential backoff up to the configured bound. Each attempt is bounded
// by JobTimeout; a timeout counts as transient. Fatal errors and
// exhausted retries escalate to the caller.
func (o *Orchestrator) submitWithRetry(ctx context.Context, payload generation.JobPayload) (generation.ArtifactRef, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.RetryLimit; attempt++ {
		if attempt > 0 {
			delay := o.cfg.RetryBaseDelay << (attempt - 1)
			slog.Warn("Retrying backend submission", "attempt", attempt,
				"delay", delay.String(), "error", lastErr)
			if m := observability.DefaultMetrics; m != nil {
				m.BackendRetriesTotal.Inc()
			}
			time.Sleep(delay)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
		ref, err := o.backend.Submit(attemptCtx, payload)
		cancel()
		if err == nil {
			return ref, nil
		}

		var transient *generation.TransientError
		if !errors.As(err, &transient) {
			return generation.ArtifactRef{}, err
		}
		lastErr = err
	}
	return generation.ArtifactRef{}, generation.Fatal(
		fmt.Errorf("backend unavailable after %d retries: %w", o.cfg.RetryLimit, lastErr))
}

// finish moves the experiment to a terminal state, persists it, and
// publishes the matching terminal event. Partial results stay intact:
// every record written before the stop remains queryable.
func (o *Orchestrator) finish(ctx context.Context, exp *datatypes.Experiment,
	status datatypes.ExperimentStatus, errMsg string, started time.Time) {

	now := time.Now()
	exp.Status = status
	exp.UpdatedAt = now
	exp.CompletedAt = &now
	if errMsg != "" {
		exp.ErrorMessage = errMsg
	}
	if err := o.store.UpdateRunState(ctx, exp); err != nil {
		slog.Error("Failed to persist terminal state", "experiment_id", exp.ID,
			"status", status, "error", err)
	}

	var elapsed float64
	if !started.IsZero() {
		elapsed = now.Sub(started).Seconds()
	}
	ev := datatypes.Event{
		ExperimentID:    exp.ID,
		Status:          status,
		ImagesGenerated: exp.ImagesGenerated,
		TotalImages:     exp.TotalImages,
		TotalTime:       elapsed,
		Message:         errMsg,
	}
	switch status {
	case datatypes.StatusCompleted:
		ev.Type = datatypes.EventExperimentCompleted
	case datatypes.StatusFailed:
		ev.Type = datatypes.EventExperimentFailed
	case datatypes.StatusCancelled:
		ev.Type = datatypes.EventExperimentCancelled
	}
	o.publish(exp, ev)

	if m := observability.DefaultMetrics; m != nil {
		m.RunsTotal.WithLabelValues(string(status)).Inc()
	}
}

// publish stamps the event and hands it to the broadcaster together with
// the post-event snapshot.
func (o *Orchestrator) publish(exp *datatypes.Experiment, ev datatypes.Event) {
	ev.Timestamp = time.Now()
	if ev.ExperimentID == "" {
		ev.ExperimentID = exp.ID
	}
	o.events.Publish(exp.ID, SnapshotOf(exp), ev)
	if m := observability.DefaultMetrics; m != nil {
		m.EventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()
	}
}

// SnapshotOf summarizes an experiment for late-joining observers.
func SnapshotOf(exp *datatypes.Experiment) datatypes.Snapshot {
	return datatypes.Snapshot{
		ExperimentID:    exp.ID,
		Status:          exp.Status,
		ImagesGenerated: exp.ImagesGenerated,
		TotalImages:     exp.TotalImages,
		Progress:        exp.Progress,
		ErrorMessage:    exp.ErrorMessage,
	}
}

func nativeParams(params map[string]datatypes.AxisValue) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v.Native()
	}
	return out
}
