// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// DefaultMaxCombinations is the grid ceiling applied when no limit is
// configured.
const DefaultMaxCombinations = 500

// Combination is one assignment of a value to each axis, addressed by a
// linear index that is dense over [0, |X|*|Y|*|Z|) and reproducible from
// the axis definitions alone:
//
//	index = zIdx*(|X|*|Y|) + yIdx*|X| + xIdx
//
// This index is the addressing contract used by Z-navigation and event
// payloads.
type Combination struct {
	Index int

	XIdx, YIdx, ZIdx int
	X, Y, Z          datatypes.AxisValue
}

// Grid is a fully expanded three-axis sweep.
type Grid struct {
	XName, YName, ZName string
	XValues             []datatypes.AxisValue
	YValues             []datatypes.AxisValue
	ZValues             []datatypes.AxisValue
}

// Total returns |X|*|Y|*|Z|.
func (g *Grid) Total() int {
	return len(g.XValues) * len(g.YValues) * len(g.ZValues)
}

// Params maps a combination's resolved values by axis name. When two axes
// share a name the inner axis wins, matching the original studio behavior.
func (g *Grid) Params(c Combination) map[string]datatypes.AxisValue {
	return map[string]datatypes.AxisValue{
		g.ZName: c.Z,
		g.YName: c.Y,
		g.XName: c.X,
	}
}

// ExpandGrid expands all three axes and checks the combination ceiling.
// A maxCombinations of 0 selects DefaultMaxCombinations.
//
// Validation happens before any generation work: an invalid axis or an
// oversized grid is rejected here and never touches run state.
func ExpandGrid(grid datatypes.ParameterGrid, maxCombinations int) (*Grid, error) {
	if maxCombinations <= 0 {
		maxCombinations = DefaultMaxCombinations
	}

	xs, err := ExpandAxis(grid.XAxis)
	if err != nil {
		return nil, err
	}
	ys, err := ExpandAxis(grid.YAxis)
	if err != nil {
		return nil, err
	}
	zs, err := ExpandAxis(grid.ZAxis)
	if err != nil {
		return nil, err
	}

	total := len(xs) * len(ys) * len(zs)
	if total > maxCombinations {
		return nil, fmt.Errorf("%w: %d combinations exceed the limit of %d",
			ErrGridTooLarge, total, maxCombinations)
	}

	return &Grid{
		XName:   grid.XAxis.Name,
		YName:   grid.YAxis.Name,
		ZName:   grid.ZAxis.Name,
		XValues: xs,
		YValues: ys,
		ZValues: zs,
	}, nil
}

// Enumerate produces every combination in execution order: Z outermost,
// Y middle, X innermost, so consecutive combinations share the same Z
// value as long as possible. Identical axis definitions always yield
// identical ordering and indices.
func (g *Grid) Enumerate() []Combination {
	combos := make([]Combination, 0, g.Total())
	index := 0
	for zi, z := range g.ZValues {
		for yi, y := range g.YValues {
			for xi, x := range g.XValues {
				combos = append(combos, Combination{
					Index: index,
					XIdx:  xi, YIdx: yi, ZIdx: zi,
					X: x, Y: y, Z: z,
				})
				index++
			}
		}
	}
	return combos
}
