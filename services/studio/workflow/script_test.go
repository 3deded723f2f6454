// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/engine"
)

func TestScript_Txt2Img(t *testing.T) {
	grid, _ := sweptGrid(t)
	script, err := NewGenerator().Script(grid, txt2imgConfig())
	if err != nil {
		t.Fatalf("Script() error: %v", err)
	}

	wantFragments := []string{
		"Total combinations: 18",
		"cfg_values = [6, 7, 8]",
		"steps_values = [10, 20, 30]",
		"sampler_name_values = ['euler', 'dpmpp_2m']",
		`PROMPT = """a lighthouse at dusk"""`,
		`CHECKPOINT = "sd15.safetensors"`,
		"for z_idx, sampler_name in enumerate(sampler_name_values):",
		"for y_idx, steps in enumerate(steps_values):",
		"for x_idx, cfg in enumerate(cfg_values):",
		// Swept parameters bind to loop variables
		"steps=steps",
		"cfg=cfg",
		"sampler_name=sampler_name",
		// Unswept ones pin to defaults
		`scheduler="normal"`,
		"denoise=1.0",
	}
	for _, want := range wantFragments {
		if !strings.Contains(script, want) {
			t.Errorf("Script missing %q", want)
		}
	}
}

func TestScript_UnsweptSamplerUsesDefaults(t *testing.T) {
	grid, err := expandSimpleGrid()
	if err != nil {
		t.Fatal(err)
	}
	script, err := NewGenerator().Script(grid, txt2imgConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script, `sampler_name="euler"`) {
		t.Error("Unswept sampler should pin to the default")
	}
	if !strings.Contains(script, "cfg=cfg") {
		t.Error("Swept cfg should bind to its loop variable")
	}
}

func TestScript_Custom(t *testing.T) {
	grid, _ := sweptGrid(t)
	cfg := datatypes.WorkflowConfig{
		Template: datatypes.TemplateCustom,
		Custom: &datatypes.CustomConfig{
			Graph: json.RawMessage(`{"5": {"class_type": "KSampler", "inputs": {"cfg": "${cfg}"}}}`),
		},
	}
	script, err := NewGenerator().Script(grid, cfg)
	if err != nil {
		t.Fatalf("Script() error: %v", err)
	}
	if !strings.Contains(script, "18 combinations") {
		t.Error("Custom script missing combination count")
	}
	if !strings.Contains(script, "KSampler") {
		t.Error("Custom script missing the pretty-printed graph")
	}
}

func TestPreview_ReturnsScriptAndGraph(t *testing.T) {
	grid, _ := sweptGrid(t)
	script, graphJSON, err := NewGenerator().Preview(grid, txt2imgConfig())
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if script == "" {
		t.Error("Preview script is empty")
	}
	if len(graphJSON) == 0 {
		t.Fatal("Preview graph is empty")
	}
	// The graph is for combination zero.
	sampler, ok := graphJSON["5"].(map[string]any)
	if !ok {
		t.Fatalf("Graph node 5 missing: %v", graphJSON)
	}
	inputs, _ := sampler["inputs"].(map[string]any)
	if inputs["cfg"] != 6.0 {
		t.Errorf("Preview cfg = %v, want first X value 6", inputs["cfg"])
	}
}

func expandSimpleGrid() (*engine.Grid, error) {
	return engine.ExpandGrid(datatypes.ParameterGrid{
		XAxis: datatypes.AxisDefinition{
			Name: "cfg", Kind: datatypes.AxisNumeric, Min: 6, Max: 8, Step: 1,
		},
		YAxis: datatypes.AxisDefinition{
			Name: "seed_offset", Kind: datatypes.AxisNumeric, Min: 0, Max: 1, Step: 1,
		},
		ZAxis: datatypes.AxisDefinition{
			Name: "checkpoint", Kind: datatypes.AxisCategorical,
			Values: []datatypes.AxisValue{datatypes.Text("sd15.safetensors")},
		},
	}, 0)
}
