// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "errors"

// Sentinel errors for the execution engine.
//
// Validation errors (ErrInvalidAxis, ErrGridTooLarge) are surfaced to the
// caller before any execution begins and never touch run state. Lifecycle
// errors (ErrAlreadyRunning, ErrAlreadyTerminal, ErrNotRunning) reject
// misuse synchronously with no state change.
var (
	// ErrInvalidAxis indicates a malformed axis definition: step <= 0,
	// max < min, or an empty categorical selection.
	ErrInvalidAxis = errors.New("invalid axis definition")

	// ErrGridTooLarge indicates |X|*|Y|*|Z| exceeds the configured ceiling.
	ErrGridTooLarge = errors.New("grid exceeds combination ceiling")

	// ErrAlreadyRunning indicates an execution lock is already held for
	// the experiment id.
	ErrAlreadyRunning = errors.New("experiment is already running")

	// ErrAlreadyTerminal indicates a start on a completed, failed, or
	// cancelled experiment.
	ErrAlreadyTerminal = errors.New("experiment already reached a terminal state")

	// ErrNotRunning indicates a cancel with no execution lock held.
	ErrNotRunning = errors.New("experiment is not running")
)
