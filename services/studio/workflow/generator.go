// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflow builds backend workflow graphs from combinations.
//
// A graph is the ComfyUI API format: a JSON object keyed by node id,
// each node carrying a class_type and an inputs map. Node references are
// two-element arrays of [node id, output index].
//
// The builder is pure and deterministic. Identical inputs always produce
// byte-identical graphs, which is what makes reruns reproducible.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/plotforge/gridstudio/services/generation"
	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/engine"
)

// Sampler defaults applied when the corresponding parameter is not swept
// by an axis.
const (
	defaultSteps          = 20
	defaultCFG            = 8.0
	defaultSampler        = "euler"
	defaultScheduler      = "normal"
	defaultDenoise        = 1.0
	defaultImg2ImgDenoise = 0.75
	defaultHiresDenoise   = 0.5
	defaultHiresFactor    = 2.0
)

// node is one entry of an API-format graph.
type node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// graph is the full API-format prompt. Marshalling a Go map emits keys
// in sorted order, so serialization is deterministic.
type graph map[string]node

// ref builds a node output reference.
func ref(id string, output int) []any {
	return []any{id, output}
}

// Generator turns a workflow configuration plus one grid combination
// into a submittable job payload.
type Generator struct{}

var _ engine.PayloadBuilder = (*Generator)(nil)

func NewGenerator() *Generator {
	return &Generator{}
}

// Build produces the graph for one combination. The filename prefix and
// seed fields of the payload are owned by the engine; Build only fills
// the graph.
func (g *Generator) Build(cfg datatypes.WorkflowConfig, grid *engine.Grid,
	combo engine.Combination, seed int64) (generation.JobPayload, error) {

	params := grid.Params(combo)
	var (
		gr  graph
		err error
	)
	switch cfg.Template {
	case datatypes.TemplateTxt2Img:
		gr, err = buildTxt2Img(cfg.Txt2Img, params, seed)
	case datatypes.TemplateImg2Img:
		gr, err = buildImg2Img(cfg.Img2Img, params, seed)
	case datatypes.TemplateHiresFix:
		gr, err = buildHiresFix(cfg.HiresFix, params, seed)
	case datatypes.TemplateLoraComparison:
		gr, err = buildLoraComparison(cfg.LoraComparison, params, seed)
	case datatypes.TemplateCustom:
		gr, err = buildCustom(cfg.Custom, params, seed)
	default:
		return generation.JobPayload{}, fmt.Errorf("unsupported workflow template %q", cfg.Template)
	}
	if err != nil {
		return generation.JobPayload{}, err
	}

	data, err := json.Marshal(gr)
	if err != nil {
		return generation.JobPayload{}, fmt.Errorf("marshal workflow graph: %w", err)
	}
	return generation.JobPayload{Graph: data, Seed: seed}, nil
}

// =============================================================================
// Sampler Arguments
// =============================================================================

// samplerArgs resolves the KSampler inputs from swept parameters, falling
// back to the studio defaults. Recognized parameter names: steps, cfg,
// sampler_name (alias sampler), scheduler, denoise.
type samplerArgs struct {
	Seed      int64
	Steps     int
	CFG       float64
	Sampler   string
	Scheduler string
	Denoise   float64
}

func resolveSampler(params map[string]datatypes.AxisValue, seed int64, denoise float64) samplerArgs {
	args := samplerArgs{
		Seed:      seed,
		Steps:     defaultSteps,
		CFG:       defaultCFG,
		Sampler:   defaultSampler,
		Scheduler: defaultScheduler,
		Denoise:   denoise,
	}
	if v, ok := params["steps"]; ok && v.IsNum {
		args.Steps = int(v.Num)
	}
	if v, ok := params["cfg"]; ok && v.IsNum {
		args.CFG = v.Num
	}
	if v, ok := params["sampler_name"]; ok && !v.IsNum {
		args.Sampler = v.Str
	} else if v, ok := params["sampler"]; ok && !v.IsNum {
		args.Sampler = v.Str
	}
	if v, ok := params["scheduler"]; ok && !v.IsNum {
		args.Scheduler = v.Str
	}
	if v, ok := params["denoise"]; ok && v.IsNum {
		args.Denoise = v.Num
	}
	return args
}

// resolveCheckpoint lets a checkpoint axis override the base model.
func resolveCheckpoint(base string, params map[string]datatypes.AxisValue) string {
	if v, ok := params["checkpoint"]; ok && !v.IsNum {
		return v.Str
	}
	if v, ok := params["ckpt_name"]; ok && !v.IsNum {
		return v.Str
	}
	return base
}

func ksamplerInputs(args samplerArgs, modelRef, posRef, negRef, latentRef []any) map[string]any {
	return map[string]any{
		"model":        modelRef,
		"seed":         args.Seed,
		"steps":        args.Steps,
		"cfg":          args.CFG,
		"sampler_name": args.Sampler,
		"scheduler":    args.Scheduler,
		"positive":     posRef,
		"negative":     negRef,
		"latent_image": latentRef,
		"denoise":      args.Denoise,
	}
}

// =============================================================================
// Templates
// =============================================================================

// Shared node ids. Keeping them stable across templates keeps graphs
// diffable between runs.
const (
	nodeCheckpoint = "1"
	nodePositive   = "2"
	nodeNegative   = "3"
	nodeLatent     = "4"
	nodeSampler    = "5"
	nodeDecode     = "6"
	nodeSave       = "7"
	nodeVAE        = "8"
)

// vaeRef returns the VAE source: an explicit VAELoader when the config
// overrides the checkpoint VAE, else the checkpoint's third output.
func vaeRef(gr graph, base *datatypes.GenerationBase) []any {
	if base.VAE != "" {
		gr[nodeVAE] = node{
			ClassType: "VAELoader",
			Inputs:    map[string]any{"vae_name": base.VAE},
		}
		return ref(nodeVAE, 0)
	}
	return ref(nodeCheckpoint, 2)
}

func buildTxt2Img(cfg *datatypes.Txt2ImgConfig, params map[string]datatypes.AxisValue, seed int64) (graph, error) {
	if cfg == nil {
		return nil, fmt.Errorf("txt2img config is missing")
	}
	base := cfg.GenerationBase
	base.ApplyDefaults()
	args := resolveSampler(params, seed, defaultDenoise)

	gr := graph{}
	gr[nodeCheckpoint] = node{
		ClassType: "CheckpointLoaderSimple",
		Inputs:    map[string]any{"ckpt_name": resolveCheckpoint(base.Checkpoint, params)},
	}
	gr[nodePositive] = node{
		ClassType: "CLIPTextEncode",
		Inputs:    map[string]any{"text": base.Prompt, "clip": ref(nodeCheckpoint, 1)},
	}
	gr[nodeNegative] = node{
		ClassType: "CLIPTextEncode",
		Inputs:    map[string]any{"text": base.NegativePrompt, "clip": ref(nodeCheckpoint, 1)},
	}
	gr[nodeLatent] = node{
		ClassType: "EmptyLatentImage",
		Inputs: map[string]any{
			"width": base.Width, "height": base.Height, "batch_size": base.BatchSize,
		},
	}
	gr[nodeSampler] = node{
		ClassType: "KSampler",
		Inputs: ksamplerInputs(args, ref(nodeCheckpoint, 0),
			ref(nodePositive, 0), ref(nodeNegative, 0), ref(nodeLatent, 0)),
	}
	gr[nodeDecode] = node{
		ClassType: "VAEDecode",
		Inputs:    map[string]any{"samples": ref(nodeSampler, 0), "vae": vaeRef(gr, &base)},
	}
	gr[nodeSave] = node{
		ClassType: "SaveImage",
		Inputs:    map[string]any{"images": ref(nodeDecode, 0), "filename_prefix": ""},
	}
	return gr, nil
}

func buildImg2Img(cfg *datatypes.Img2ImgConfig, params map[string]datatypes.AxisValue, seed int64) (graph, error) {
	if cfg == nil {
		return nil, fmt.Errorf("img2img config is missing")
	}
	base := cfg.GenerationBase
	base.ApplyDefaults()
	denoise := cfg.Denoise
	if denoise == 0 {
		denoise = defaultImg2ImgDenoise
	}
	args := resolveSampler(params, seed, denoise)

	gr := graph{}
	gr[nodeCheckpoint] = node{
		ClassType: "CheckpointLoaderSimple",
		Inputs:    map[string]any{"ckpt_name": resolveCheckpoint(base.Checkpoint, params)},
	}
	gr[nodePositive] = node{
		ClassType: "CLIPTextEncode",
		Inputs:    map[string]any{"text": base.Prompt, "clip": ref(nodeCheckpoint, 1)},
	}
	gr[nodeNegative] = node{
		ClassType: "CLIPTextEncode",
		Inputs:    map[string]any{"text": base.NegativePrompt, "clip": ref(nodeCheckpoint, 1)},
	}
	vae := vaeRef(gr, &base)
	gr["10"] = node{
		ClassType: "LoadImage",
		Inputs:    map[string]any{"image": cfg.InitImage},
	}
	gr[nodeLatent] = node{
		ClassType: "VAEEncode",
		Inputs:    map[string]any{"pixels": ref("10", 0), "vae": vae},
	}
	gr[nodeSampler] = node{
		ClassType: "KSampler",
		Inputs: ksamplerInputs(args, ref(nodeCheckpoint, 0),
			ref(nodePositive, 0), ref(nodeNegative, 0), ref(nodeLatent, 0)),
	}
	gr[nodeDecode] = node{
		ClassType: "VAEDecode",
		Inputs:    map[string]any{"samples": ref(nodeSampler, 0), "vae": vae},
	}
	gr[nodeSave] = node{
		ClassType: "SaveImage",
		Inputs:    map[string]any{"images": ref(nodeDecode, 0), "filename_prefix": ""},
	}
	return gr, nil
}

func buildHiresFix(cfg *datatypes.HiresFixConfig, params map[string]datatypes.AxisValue, seed int64) (graph, error) {
	if cfg == nil {
		return nil, fmt.Errorf("hires_fix config is missing")
	}
	base := cfg.GenerationBase
	base.ApplyDefaults()
	args := resolveSampler(params, seed, defaultDenoise)

	factor := cfg.UpscaleFactor
	if factor == 0 {
		factor = defaultHiresFactor
	}
	secondSteps := cfg.SecondPassSteps
	if secondSteps == 0 {
		secondSteps = args.Steps
	}
	secondDenoise := cfg.Denoise
	if secondDenoise == 0 {
		secondDenoise = defaultHiresDenoise
	}

	gr, err := buildTxt2Img(&datatypes.Txt2ImgConfig{GenerationBase: base}, params, seed)
	if err != nil {
		return nil, err
	}

	// Second pass: decode, model-upscale, rescale to target, re-encode,
	// sample again at partial denoise. The first pass SaveImage is
	// replaced by the refinement chain.
	vae := gr[nodeDecode].Inputs["vae"]
	delete(gr, nodeSave)
	gr["20"] = node{
		ClassType: "UpscaleModelLoader",
		Inputs:    map[string]any{"model_name": cfg.UpscaleModel},
	}
	gr["21"] = node{
		ClassType: "ImageUpscaleWithModel",
		Inputs:    map[string]any{"upscale_model": ref("20", 0), "image": ref(nodeDecode, 0)},
	}
	gr["22"] = node{
		ClassType: "ImageScale",
		Inputs: map[string]any{
			"image":          ref("21", 0),
			"upscale_method": "bilinear",
			"width":          int(float64(base.Width) * factor),
			"height":         int(float64(base.Height) * factor),
			"crop":           "disabled",
		},
	}
	gr["23"] = node{
		ClassType: "VAEEncode",
		Inputs:    map[string]any{"pixels": ref("22", 0), "vae": vae},
	}
	secondArgs := args
	secondArgs.Steps = secondSteps
	secondArgs.Denoise = secondDenoise
	gr["24"] = node{
		ClassType: "KSampler",
		Inputs: ksamplerInputs(secondArgs, ref(nodeCheckpoint, 0),
			ref(nodePositive, 0), ref(nodeNegative, 0), ref("23", 0)),
	}
	gr["25"] = node{
		ClassType: "VAEDecode",
		Inputs:    map[string]any{"samples": ref("24", 0), "vae": vae},
	}
	gr[nodeSave] = node{
		ClassType: "SaveImage",
		Inputs:    map[string]any{"images": ref("25", 0), "filename_prefix": ""},
	}
	return gr, nil
}

func buildLoraComparison(cfg *datatypes.LoraComparisonConfig, params map[string]datatypes.AxisValue, seed int64) (graph, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lora_comparison config is missing")
	}
	if len(cfg.Loras) == 0 {
		return nil, fmt.Errorf("lora_comparison requires at least one lora")
	}
	base := cfg.GenerationBase
	base.ApplyDefaults()
	args := resolveSampler(params, seed, defaultDenoise)

	loras := make([]datatypes.LoraSpec, len(cfg.Loras))
	copy(loras, cfg.Loras)
	// A lora axis sweeps the first entry of the stack; a strength axis
	// sweeps its model strength.
	if v, ok := params["lora"]; ok && !v.IsNum {
		loras[0].Name = v.Str
	} else if v, ok := params["lora_name"]; ok && !v.IsNum {
		loras[0].Name = v.Str
	}
	if v, ok := params["lora_strength"]; ok && v.IsNum {
		loras[0].StrengthModel = v.Num
		loras[0].StrengthCLIP = v.Num
	}

	gr := graph{}
	gr[nodeCheckpoint] = node{
		ClassType: "CheckpointLoaderSimple",
		Inputs:    map[string]any{"ckpt_name": resolveCheckpoint(base.Checkpoint, params)},
	}
	modelRef := ref(nodeCheckpoint, 0)
	clipRef := ref(nodeCheckpoint, 1)
	for i, l := range loras {
		strengthModel := l.StrengthModel
		if strengthModel == 0 {
			strengthModel = 1.0
		}
		strengthCLIP := l.StrengthCLIP
		if strengthCLIP == 0 {
			strengthCLIP = 1.0
		}
		id := fmt.Sprintf("3%d", i)
		gr[id] = node{
			ClassType: "LoraLoader",
			Inputs: map[string]any{
				"lora_name":      l.Name,
				"strength_model": strengthModel,
				"strength_clip":  strengthCLIP,
				"model":          modelRef,
				"clip":           clipRef,
			},
		}
		modelRef = ref(id, 0)
		clipRef = ref(id, 1)
	}

	gr[nodePositive] = node{
		ClassType: "CLIPTextEncode",
		Inputs:    map[string]any{"text": base.Prompt, "clip": clipRef},
	}
	gr[nodeNegative] = node{
		ClassType: "CLIPTextEncode",
		Inputs:    map[string]any{"text": base.NegativePrompt, "clip": clipRef},
	}
	gr[nodeLatent] = node{
		ClassType: "EmptyLatentImage",
		Inputs: map[string]any{
			"width": base.Width, "height": base.Height, "batch_size": base.BatchSize,
		},
	}
	gr[nodeSampler] = node{
		ClassType: "KSampler",
		Inputs: ksamplerInputs(args, modelRef,
			ref(nodePositive, 0), ref(nodeNegative, 0), ref(nodeLatent, 0)),
	}
	gr[nodeDecode] = node{
		ClassType: "VAEDecode",
		Inputs:    map[string]any{"samples": ref(nodeSampler, 0), "vae": vaeRef(gr, &base)},
	}
	gr[nodeSave] = node{
		ClassType: "SaveImage",
		Inputs:    map[string]any{"images": ref(nodeDecode, 0), "filename_prefix": ""},
	}
	return gr, nil
}

// buildCustom substitutes axis values into a caller-supplied graph.
// String inputs of the form ${axis-name} are replaced by the axis value,
// and every KSampler-family node gets the per-image seed.
func buildCustom(cfg *datatypes.CustomConfig, params map[string]datatypes.AxisValue, seed int64) (graph, error) {
	if cfg == nil {
		return nil, fmt.Errorf("custom config is missing")
	}
	var gr graph
	if err := json.Unmarshal(cfg.Graph, &gr); err != nil {
		return nil, fmt.Errorf("parse custom graph: %w", err)
	}
	for id, n := range gr {
		if n.Inputs == nil {
			continue
		}
		for key, val := range n.Inputs {
			s, ok := val.(string)
			if !ok || !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
				continue
			}
			name := s[2 : len(s)-1]
			v, ok := params[name]
			if !ok {
				return nil, fmt.Errorf("custom graph node %s references unknown axis %q", id, name)
			}
			n.Inputs[key] = v.Native()
		}
		switch n.ClassType {
		case "KSampler", "KSamplerAdvanced":
			if _, ok := n.Inputs["noise_seed"]; ok {
				n.Inputs["noise_seed"] = seed
			} else {
				n.Inputs["seed"] = seed
			}
		}
	}
	return gr, nil
}
