// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package catalog holds the backend's enumerable values: samplers,
// schedulers, checkpoints, VAEs, LoRAs, and upscale models.
//
// The catalog is fetched from the backend node registry once at startup
// via Init and only changes on an explicit Refresh. There is no lazy
// refresh: a read never triggers a network call, so reads are cheap and
// safe on every request path.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ObjectInfoFetcher is the slice of the backend client the catalog needs.
type ObjectInfoFetcher interface {
	ObjectInfo(ctx context.Context) (map[string]json.RawMessage, error)
}

// Enums is one immutable snapshot of the backend catalogs.
type Enums struct {
	Samplers      []string
	Schedulers    []string
	Checkpoints   []string
	VAEs          []string
	Loras         []string
	UpscaleModels []string
}

// Catalog caches backend enums behind a read lock.
//
// Thread Safety: safe for concurrent use. Readers hold RLock; Init and
// Refresh swap the snapshot under the write lock.
type Catalog struct {
	fetcher ObjectInfoFetcher

	mu      sync.RWMutex
	enums   Enums
	loaded  bool
	fetched time.Time
}

func New(fetcher ObjectInfoFetcher) *Catalog {
	return &Catalog{fetcher: fetcher}
}

// Init performs the first fetch. It fails loudly when the backend is
// unreachable so startup surfaces the misconfiguration instead of
// serving empty enums.
func (c *Catalog) Init(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("initialize backend catalog: %w", err)
	}
	return nil
}

// Refresh re-fetches the backend node registry and swaps the snapshot.
// On error the previous snapshot stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	info, err := c.fetcher.ObjectInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch object info: %w", err)
	}
	enums := extractEnums(info)

	c.mu.Lock()
	c.enums = enums
	c.loaded = true
	c.fetched = time.Now()
	c.mu.Unlock()

	slog.Info("Backend catalog refreshed",
		"samplers", len(enums.Samplers),
		"schedulers", len(enums.Schedulers),
		"checkpoints", len(enums.Checkpoints),
		"vaes", len(enums.VAEs),
		"loras", len(enums.Loras),
		"upscale_models", len(enums.UpscaleModels))
	return nil
}

// Loaded reports whether Init has completed at least once.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// All returns the current snapshot.
func (c *Catalog) All() Enums {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enums
}

// Lookup resolves one catalog by name, case-insensitively. The boolean
// is false for unknown names.
func (c *Catalog) Lookup(name string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch strings.ToLower(name) {
	case "samplers", "sampler_name", "sampler":
		return c.enums.Samplers, true
	case "schedulers", "scheduler":
		return c.enums.Schedulers, true
	case "checkpoints", "checkpoint", "ckpt_name":
		return c.enums.Checkpoints, true
	case "vaes", "vae":
		return c.enums.VAEs, true
	case "loras", "lora", "lora_name":
		return c.enums.Loras, true
	case "upscale_models", "upscale_model":
		return c.enums.UpscaleModels, true
	}
	return nil, false
}

// =============================================================================
// Extraction
// =============================================================================

// extractEnums pulls the interesting enumerations out of the node
// registry. Each node's input spec nests as
// input.required.<field> = [[values...], {options}] for enum fields.
func extractEnums(info map[string]json.RawMessage) Enums {
	return Enums{
		Samplers:      inputEnum(info, "KSampler", "sampler_name"),
		Schedulers:    inputEnum(info, "KSampler", "scheduler"),
		Checkpoints:   inputEnum(info, "CheckpointLoaderSimple", "ckpt_name"),
		VAEs:          inputEnum(info, "VAELoader", "vae_name"),
		Loras:         inputEnum(info, "LoraLoader", "lora_name"),
		UpscaleModels: inputEnum(info, "UpscaleModelLoader", "model_name"),
	}
}

type nodeSpec struct {
	Input struct {
		Required map[string]json.RawMessage `json:"required"`
	} `json:"input"`
}

func inputEnum(info map[string]json.RawMessage, nodeName, field string) []string {
	raw, ok := info[nodeName]
	if !ok {
		return nil
	}
	var spec nodeSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		slog.Warn("Malformed node spec in backend catalog", "node", nodeName, "error", err)
		return nil
	}
	fieldRaw, ok := spec.Input.Required[field]
	if !ok {
		return nil
	}
	// The field spec is a tuple; element zero is the value list for enum
	// inputs.
	var tuple []json.RawMessage
	if err := json.Unmarshal(fieldRaw, &tuple); err != nil || len(tuple) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(tuple[0], &values); err != nil {
		return nil
	}
	return values
}
