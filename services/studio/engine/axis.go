// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements the parameter grid expansion and experiment
// execution core: axis expansion, grid enumeration, the orchestrator that
// drives the generation backend, and the ordered event broadcaster.
package engine

import (
	"fmt"
	"math"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// stepEpsilon is the relative tolerance applied when counting numeric
// steps, so a max that lands exactly on a step boundary survives floating
// rounding and is still included.
const stepEpsilon = 1e-9

// ExpandAxis converts an axis definition into its ordered value sequence.
//
// Numeric axes produce min + k*step for k = 0..count-1. The values are
// computed by integer multiplication, never by repeated accumulation, so
// the sequence is monotonic and free of cumulative drift:
// {0.2, 1.0, 0.2} expands to exactly [0.2 0.4 0.6 0.8 1.0].
//
// Categorical axes return the selection in the order supplied, with
// duplicates collapsed to the first occurrence.
//
// Pure and deterministic. Fails with ErrInvalidAxis on a malformed
// definition.
func ExpandAxis(def datatypes.AxisDefinition) ([]datatypes.AxisValue, error) {
	switch def.Kind {
	case datatypes.AxisNumeric:
		return expandNumeric(def)
	case datatypes.AxisCategorical:
		return expandCategorical(def)
	default:
		return nil, fmt.Errorf("%w: axis %q has unknown kind %q", ErrInvalidAxis, def.Name, def.Kind)
	}
}

func expandNumeric(def datatypes.AxisDefinition) ([]datatypes.AxisValue, error) {
	if def.Step <= 0 {
		return nil, fmt.Errorf("%w: axis %q requires step > 0, got %v", ErrInvalidAxis, def.Name, def.Step)
	}
	if def.Max < def.Min {
		return nil, fmt.Errorf("%w: axis %q requires max >= min, got [%v, %v]", ErrInvalidAxis, def.Name, def.Min, def.Max)
	}

	count := int(math.Floor((def.Max-def.Min)/def.Step+stepEpsilon)) + 1
	values := make([]datatypes.AxisValue, 0, count)
	for k := 0; k < count; k++ {
		values = append(values, datatypes.Number(def.Min+float64(k)*def.Step))
	}
	return values, nil
}

func expandCategorical(def datatypes.AxisDefinition) ([]datatypes.AxisValue, error) {
	if len(def.Values) == 0 {
		return nil, fmt.Errorf("%w: axis %q has an empty selection", ErrInvalidAxis, def.Name)
	}

	seen := make(map[datatypes.AxisValue]struct{}, len(def.Values))
	values := make([]datatypes.AxisValue, 0, len(def.Values))
	for _, v := range def.Values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	return values, nil
}
