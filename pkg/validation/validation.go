// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for request payloads.
//
// Axis names flow into generated scripts, artifact filenames, and event
// payloads, so they are restricted to a safe identifier shape. Structural
// validation runs on the same `binding` tags gin uses, via a shared
// validator instance, so structs validate identically whether they arrive
// through gin binding or direct decoding.
package validation

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// axisNamePattern matches safe axis identifiers: a letter, then letters,
// digits, or underscores, at most 64 characters total.
var axisNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,63}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	return v
}

// Struct validates a request struct against its binding tags.
func Struct(s any) error {
	return validate.Struct(s)
}

// DecodeStrict decodes JSON into v, rejecting unknown fields and
// trailing garbage. Malformed and over-specified payloads fail here
// instead of being silently dropped.
func DecodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid request body: unexpected trailing data")
	}
	return nil
}

// ValidateAxisName checks an axis identifier.
//
// Valid names start with a letter and contain only letters, digits, and
// underscores. This keeps names safe to interpolate into scripts and
// filenames.
func ValidateAxisName(name string) error {
	if name == "" {
		return fmt.Errorf("axis name cannot be empty")
	}
	if !axisNamePattern.MatchString(name) {
		return fmt.Errorf("invalid axis name %q: must start with a letter and contain only letters, digits, and underscores (max 64 chars)", name)
	}
	return nil
}
