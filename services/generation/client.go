// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generation defines the boundary to the external image
// generation backend.
//
// The backend is slow (seconds per job) and unreliable: submissions can
// fail transiently (unreachable, busy, timeout) or fatally (invalid
// configuration). The two failure classes are distinguished by error type
// because they drive different retry policy in the engine.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
)

// JobPayload is one job ready for submission: the backend workflow graph
// in API format plus addressing metadata. Opaque to the engine.
type JobPayload struct {
	// Graph is the workflow in backend API JSON format.
	Graph json.RawMessage `json:"graph"`

	// FilenamePrefix addresses the output artifact (e.g. "3_1_0").
	FilenamePrefix string `json:"filename_prefix"`

	// Seed is the resolved random seed for this job.
	Seed int64 `json:"seed"`
}

// ArtifactRef identifies one artifact produced by the backend.
type ArtifactRef struct {
	// Path is the backend-relative artifact location.
	Path string `json:"path"`

	// PromptID is the backend's job identifier, useful for debugging.
	PromptID string `json:"prompt_id,omitempty"`
}

// Client submits one job and returns the produced artifact reference.
//
// Submit blocks until the backend finishes the job or the context is
// done. Errors are either *TransientError (retryable) or *FatalError
// (terminates the run); any other error is treated as fatal.
type Client interface {
	Submit(ctx context.Context, job JobPayload) (ArtifactRef, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// =============================================================================
// Error Classification
// =============================================================================

// TransientError marks a failure worth retrying: the backend was
// unreachable, overloaded, or the call timed out.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that retrying cannot fix, typically a
// rejected configuration.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal backend error: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Fatal wraps err as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}
