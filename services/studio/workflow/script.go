// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/engine"
)

// Preview returns the human-readable sweep script plus the backend graph
// for combination zero. Used by the code-generate endpoint so users can
// inspect exactly what a run would submit before creating it.
func (g *Generator) Preview(grid *engine.Grid, cfg datatypes.WorkflowConfig) (string, map[string]any, error) {
	script, err := g.Script(grid, cfg)
	if err != nil {
		return "", nil, err
	}

	combos := grid.Enumerate()
	if len(combos) == 0 {
		return script, nil, nil
	}
	var baseSeed int64
	if s := cfg.BaseSeed(); s > 0 {
		baseSeed = s
	}
	payload, err := g.Build(cfg, grid, combos[0], baseSeed)
	if err != nil {
		return "", nil, err
	}
	var graphJSON map[string]any
	if err := json.Unmarshal(payload.Graph, &graphJSON); err != nil {
		return "", nil, fmt.Errorf("decode preview graph: %w", err)
	}
	return script, graphJSON, nil
}

// Script renders the sweep as a standalone script in the backend's
// scripting dialect. The text is documentation, not an execution path;
// the engine always submits API-format graphs directly.
func (g *Generator) Script(grid *engine.Grid, cfg datatypes.WorkflowConfig) (string, error) {
	base := cfg.Base()
	if base == nil {
		if cfg.Template == datatypes.TemplateCustom {
			return scriptCustom(grid, cfg)
		}
		return "", fmt.Errorf("no script preview for template %q", cfg.Template)
	}
	b := *base
	b.ApplyDefaults()

	var sb strings.Builder
	fmt.Fprintf(&sb, `"""
Auto-generated sweep script (%s)
X-axis: %s (%d values)
Y-axis: %s (%d values)
Z-axis: %s (%d values)
Total combinations: %d
"""

from comfy_script.runtime import *
load()
from comfy_script.runtime.nodes import *

`,
		cfg.Template,
		grid.XName, len(grid.XValues),
		grid.YName, len(grid.YValues),
		grid.ZName, len(grid.ZValues),
		grid.Total())

	fmt.Fprintf(&sb, "%s_values = %s\n", grid.XName, formatValues(grid.XValues))
	fmt.Fprintf(&sb, "%s_values = %s\n", grid.YName, formatValues(grid.YValues))
	fmt.Fprintf(&sb, "%s_values = %s\n\n", grid.ZName, formatValues(grid.ZValues))

	fmt.Fprintf(&sb, "PROMPT = \"\"\"%s\"\"\"\n", b.Prompt)
	fmt.Fprintf(&sb, "NEGATIVE_PROMPT = \"\"\"%s\"\"\"\n", b.NegativePrompt)
	fmt.Fprintf(&sb, "CHECKPOINT = %q\n", b.Checkpoint)
	fmt.Fprintf(&sb, "WIDTH = %d\nHEIGHT = %d\nSEED = %d\nBATCH_SIZE = %d\n\n",
		b.Width, b.Height, b.Seed, b.BatchSize)

	sb.WriteString("results = []\n\nwith Workflow():\n")
	sb.WriteString("    model, clip, vae = CheckpointLoaderSimple(CHECKPOINT)\n\n")
	fmt.Fprintf(&sb, "    for z_idx, %s in enumerate(%s_values):\n", grid.ZName, grid.ZName)
	fmt.Fprintf(&sb, "        for y_idx, %s in enumerate(%s_values):\n", grid.YName, grid.YName)
	fmt.Fprintf(&sb, "            for x_idx, %s in enumerate(%s_values):\n", grid.XName, grid.XName)
	sb.WriteString("                filename = f\"{x_idx}_{y_idx}_{z_idx}\"\n")
	sb.WriteString("                latent = EmptyLatentImage(WIDTH, HEIGHT, BATCH_SIZE)\n")
	sb.WriteString("                positive = CLIPTextEncode(PROMPT, clip)\n")
	sb.WriteString("                negative = CLIPTextEncode(NEGATIVE_PROMPT, clip)\n")
	fmt.Fprintf(&sb, "                latent = KSampler(model, %s)\n", scriptSamplerArgs(grid))
	sb.WriteString("                image = VAEDecode(latent, vae)\n")
	sb.WriteString("                SaveImage(image, filename)\n")
	fmt.Fprintf(&sb, "                results.append({'x': %s, 'y': %s, 'z': %s, 'filename': filename})\n",
		grid.XName, grid.YName, grid.ZName)
	sb.WriteString("\nprint(f\"Generated {len(results)} images\")\n")
	return sb.String(), nil
}

// scriptSamplerArgs renders the KSampler call with swept parameters bound
// to their loop variables and everything else pinned to the defaults.
func scriptSamplerArgs(grid *engine.Grid) string {
	swept := map[string]string{}
	for _, name := range []string{grid.XName, grid.YName, grid.ZName} {
		switch name {
		case "steps", "cfg", "scheduler", "denoise":
			swept[name] = name
		case "sampler_name", "sampler":
			swept["sampler_name"] = name
		}
	}

	args := []string{"seed=SEED if SEED >= 0 else random.randint(0, 2**32-1)"}
	if v, ok := swept["steps"]; ok {
		args = append(args, "steps="+v)
	} else {
		args = append(args, fmt.Sprintf("steps=%d", defaultSteps))
	}
	if v, ok := swept["cfg"]; ok {
		args = append(args, "cfg="+v)
	} else {
		args = append(args, fmt.Sprintf("cfg=%.1f", defaultCFG))
	}
	if v, ok := swept["sampler_name"]; ok {
		args = append(args, "sampler_name="+v)
	} else {
		args = append(args, fmt.Sprintf("sampler_name=%q", defaultSampler))
	}
	if v, ok := swept["scheduler"]; ok {
		args = append(args, "scheduler="+v)
	} else {
		args = append(args, fmt.Sprintf("scheduler=%q", defaultScheduler))
	}
	args = append(args, "positive=positive", "negative=negative", "latent_image=latent")
	if v, ok := swept["denoise"]; ok {
		args = append(args, "denoise="+v)
	} else {
		args = append(args, fmt.Sprintf("denoise=%.1f", defaultDenoise))
	}
	return strings.Join(args, ", ")
}

func scriptCustom(grid *engine.Grid, cfg datatypes.WorkflowConfig) (string, error) {
	if cfg.Custom == nil {
		return "", fmt.Errorf("custom config is missing")
	}
	var pretty map[string]any
	if err := json.Unmarshal(cfg.Custom.Graph, &pretty); err != nil {
		return "", fmt.Errorf("parse custom graph: %w", err)
	}
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Custom workflow sweep: %d combinations\n", grid.Total())
	fmt.Fprintf(&sb, "# Axes: %s, %s, %s bound via ${name} placeholders\n\n",
		grid.XName, grid.YName, grid.ZName)
	sb.Write(data)
	sb.WriteString("\n")
	return sb.String(), nil
}

// formatValues renders an axis value list as a script literal.
func formatValues(values []datatypes.AxisValue) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v.IsNum {
			parts[i] = v.String()
		} else {
			parts[i] = "'" + v.Str + "'"
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
