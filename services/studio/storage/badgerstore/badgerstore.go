// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerstore implements the experiment store on embedded BadgerDB.
//
// Key layout:
//
//	exp:<experiment-id>              -> Experiment JSON
//	art:<experiment-id>:<index|08d>  -> GeneratedImage JSON
//
// Artifact keys embed a zero-padded linear index so a prefix scan yields
// records in generation order without an explicit sort.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/storage"
)

const (
	experimentPrefix = "exp:"
	artifactPrefix   = "art:"
)

// Config holds BadgerDB settings for the store.
type Config struct {
	// Path is the directory for database files. Ignored in memory mode.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// SyncWrites forces fsync on every write. Default true on disk.
	SyncWrites bool

	// GCInterval is how often value log garbage collection runs.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage threshold that triggers a rewrite.
	GCDiscardRatio float64

	// Logger receives BadgerDB internal logs. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns production settings for an on-disk store.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for an ephemeral test store.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the BadgerDB-backed implementation of storage.Store.
//
// Thread Safety: safe for concurrent use. BadgerDB transactions provide
// the isolation; the store keeps no mutable state of its own.
type Store struct {
	db     *badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
}

var _ storage.Store = (*Store)(nil)

// Open creates the database directory if needed, opens BadgerDB, and
// starts the GC loop when configured.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// OpenInMemory opens an ephemeral store for testing.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil &&
				!errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("Badger value log GC error", "error", err)
			}
		}
	}
}

// Close stops the GC loop and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

// =============================================================================
// Keys
// =============================================================================

func experimentKey(id string) []byte {
	return []byte(experimentPrefix + id)
}

func artifactKey(experimentID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", artifactPrefix, experimentID, index))
}

func artifactScanPrefix(experimentID string) []byte {
	return []byte(artifactPrefix + experimentID + ":")
}

// =============================================================================
// Experiments
// =============================================================================

// SaveExperiment persists a full experiment document.
func (s *Store) SaveExperiment(ctx context.Context, exp *datatypes.Experiment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal experiment %s: %w", exp.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(experimentKey(exp.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save experiment %s: %w", exp.ID, err)
	}
	return nil
}

// LoadExperiment fetches one experiment, or storage.ErrNotFound.
func (s *Store) LoadExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var exp datatypes.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(experimentKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &exp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("experiment %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load experiment %s: %w", id, err)
	}
	return &exp, nil
}

// ListExperiments returns all experiments, newest first.
func (s *Store) ListExperiments(ctx context.Context) ([]*datatypes.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*datatypes.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(experimentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var exp datatypes.Experiment
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &exp)
			})
			if err != nil {
				return err
			}
			out = append(out, &exp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateRunState rewrites the experiment document. The caller owns the
// run state, so last-writer-wins is the correct merge here.
func (s *Store) UpdateRunState(ctx context.Context, exp *datatypes.Experiment) error {
	return s.SaveExperiment(ctx, exp)
}

// DeleteExperiment removes the experiment and its artifact records in
// one transaction.
func (s *Store) DeleteExperiment(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(experimentKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(experimentKey(id)); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = artifactScanPrefix(id)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("experiment %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete experiment %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// Artifacts
// =============================================================================

// SaveArtifact appends one generated image record.
func (s *Store) SaveArtifact(ctx context.Context, img *datatypes.GeneratedImage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", img.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(img.ExperimentID, img.Index), data)
	})
	if err != nil {
		return fmt.Errorf("save artifact %d of %s: %w", img.Index, img.ExperimentID, err)
	}
	return nil
}

// ListArtifacts returns an experiment's records in linear index order.
// The key encoding carries the order; BadgerDB iterates keys sorted.
func (s *Store) ListArtifacts(ctx context.Context, experimentID string) ([]*datatypes.GeneratedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*datatypes.GeneratedImage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = artifactScanPrefix(experimentID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var img datatypes.GeneratedImage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &img)
			})
			if err != nil {
				return err
			}
			out = append(out, &img)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts of %s: %w", experimentID, err)
	}
	return out, nil
}
