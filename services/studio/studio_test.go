// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package studio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/plotforge/gridstudio/services/studio/engine"
)

// TestApplyConfigDefaults_ZeroConfig verifies a zero Config becomes a
// fully working local configuration.
func TestApplyConfigDefaults_ZeroConfig(t *testing.T) {
	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, 8840, cfg.Port)
	assert.Equal(t, "http://127.0.0.1:8188", cfg.ComfyURL)
	assert.Equal(t, "./data/studio", cfg.DataDir)
	assert.Equal(t, engine.DefaultMaxCombinations, cfg.MaxCombinations)
	assert.Equal(t, 5, cfg.MaxConcurrent)
	assert.Equal(t, 3, cfg.RetryLimit)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, "gridstudio-otel-collector:4317", cfg.OTelEndpoint)
	assert.Equal(t, "gridstudio", cfg.TrackingProject)
}

// TestApplyConfigDefaults_ExplicitValues verifies set fields survive.
func TestApplyConfigDefaults_ExplicitValues(t *testing.T) {
	cfg := applyConfigDefaults(Config{
		Port:            9000,
		ComfyURL:        "http://gpu-box:8188",
		DataDir:         "/var/lib/gridstudio",
		MaxCombinations: 100,
		MaxConcurrent:   2,
		RetryLimit:      1,
		JobTimeout:      time.Minute,
		TrackingProject: "sweeps",
	})

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "http://gpu-box:8188", cfg.ComfyURL)
	assert.Equal(t, "/var/lib/gridstudio", cfg.DataDir)
	assert.Equal(t, 100, cfg.MaxCombinations)
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, 1, cfg.RetryLimit)
	assert.Equal(t, time.Minute, cfg.JobTimeout)
	assert.Equal(t, "sweeps", cfg.TrackingProject)
}

// TestApplyConfigDefaults_OptionalFieldsStayEmpty verifies fields without
// defaults are left alone: unset tracking disables export, unset outputs
// dir disables static serving.
func TestApplyConfigDefaults_OptionalFieldsStayEmpty(t *testing.T) {
	cfg := applyConfigDefaults(Config{})

	assert.Empty(t, cfg.TrackingURL)
	assert.Empty(t, cfg.TrackingAPIKey)
	assert.Empty(t, cfg.OutputsDir)
	assert.Empty(t, cfg.GinMode)
	assert.False(t, cfg.RequireCatalog)
}
