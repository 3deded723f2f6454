// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for GridStudio.
//
// This package contains the experiment, grid, workflow, and event types
// exchanged between the HTTP API, the execution engine, and the store.
// It has no dependencies on other GridStudio packages so it can be
// imported freely.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// =============================================================================
// Axis Values
// =============================================================================

// AxisValue is one concrete value on a sweep axis: either a number or a
// string. It marshals to a bare JSON scalar so API payloads look like
// plain value lists ("values": [4, 6, 8] or ["euler", "dpmpp_2m"]).
type AxisValue struct {
	// Num holds the value when IsNum is true.
	Num float64

	// Str holds the value when IsNum is false.
	Str string

	// IsNum distinguishes numeric from string values.
	IsNum bool
}

// Number returns a numeric AxisValue.
func Number(v float64) AxisValue {
	return AxisValue{Num: v, IsNum: true}
}

// Text returns a string AxisValue.
func Text(v string) AxisValue {
	return AxisValue{Str: v}
}

// String renders the value the way it appears in filenames and scripts.
// Numbers drop trailing zeros (2.5 not 2.500000, 20 not 20.000000).
func (v AxisValue) String() string {
	if v.IsNum {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.Str
}

// Native returns the value as an untyped scalar for JSON event payloads.
func (v AxisValue) Native() any {
	if v.IsNum {
		return v.Num
	}
	return v.Str
}

// MarshalJSON encodes the value as a bare number or string.
func (v AxisValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON accepts a JSON number or string.
func (v *AxisValue) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*v = Number(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Text(s)
		return nil
	}
	return fmt.Errorf("axis value must be a number or a string, got %s", data)
}

// =============================================================================
// Axis Definitions
// =============================================================================

// AxisKind classifies how an axis's values are defined.
type AxisKind string

const (
	// AxisNumeric sweeps a numeric range {min, max, step}.
	AxisNumeric AxisKind = "numeric"

	// AxisCategorical sweeps an ordered list of discrete values.
	AxisCategorical AxisKind = "categorical"
)

// AxisDefinition describes one dimension (X, Y, or Z) of a parameter sweep.
//
// Numeric axes require Step > 0 and Max >= Min. Categorical axes require at
// least one value. Definitions are immutable once attached to an experiment;
// the expanded value sequence is always reproducible from the definition.
type AxisDefinition struct {
	// Name is the backend parameter swept by this axis
	// (e.g. "cfg", "steps", "sampler_name").
	Name string `json:"name" binding:"required"`

	// DisplayName is the human-readable axis label. Defaults to Name.
	DisplayName string `json:"display_name,omitempty"`

	// Kind selects numeric range expansion or categorical enumeration.
	Kind AxisKind `json:"kind" binding:"required,oneof=numeric categorical"`

	// Min, Max, Step define the numeric range. Ignored for categorical axes.
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
	Step float64 `json:"step,omitempty"`

	// Values is the ordered categorical selection. Ignored for numeric axes.
	Values []AxisValue `json:"values,omitempty"`
}

// Label returns DisplayName, falling back to Name.
func (a AxisDefinition) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}

// ParameterGrid is the full three-axis sweep definition (X × Y × Z).
type ParameterGrid struct {
	XAxis AxisDefinition `json:"x_axis" binding:"required"`
	YAxis AxisDefinition `json:"y_axis" binding:"required"`
	ZAxis AxisDefinition `json:"z_axis" binding:"required"`
}
