// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Workflow Templates
// =============================================================================

// WorkflowTemplate names a supported generation workflow shape.
type WorkflowTemplate string

const (
	TemplateTxt2Img        WorkflowTemplate = "txt2img"
	TemplateImg2Img        WorkflowTemplate = "img2img"
	TemplateHiresFix       WorkflowTemplate = "hires_fix"
	TemplateLoraComparison WorkflowTemplate = "lora_comparison"
	TemplateCustom         WorkflowTemplate = "custom"
)

// =============================================================================
// Workflow Configuration
// =============================================================================

// GenerationBase holds the fields every image-producing template shares.
type GenerationBase struct {
	// Prompt is the positive prompt.
	Prompt string `json:"prompt" binding:"required"`

	// NegativePrompt is the negative prompt. May be empty.
	NegativePrompt string `json:"negative_prompt,omitempty"`

	// Checkpoint is the model checkpoint name as known to the backend.
	Checkpoint string `json:"checkpoint" binding:"required"`

	// Width and Height are the output dimensions in pixels.
	Width  int `json:"width,omitempty" binding:"omitempty,gte=64,lte=2048"`
	Height int `json:"height,omitempty" binding:"omitempty,gte=64,lte=2048"`

	// BatchSize is images per backend call. Defaults to 1.
	BatchSize int `json:"batch_size,omitempty" binding:"omitempty,gte=1,lte=4"`

	// Seed is the base random seed. -1 selects a random base seed once at
	// run start; each image then uses base + image index.
	Seed int64 `json:"seed,omitempty"`

	// VAE optionally overrides the checkpoint's VAE.
	VAE string `json:"vae,omitempty"`
}

// ApplyDefaults fills zero-valued dimensions with the original studio
// defaults (512x512, batch 1).
func (g *GenerationBase) ApplyDefaults() {
	if g.Width == 0 {
		g.Width = 512
	}
	if g.Height == 0 {
		g.Height = 512
	}
	if g.BatchSize == 0 {
		g.BatchSize = 1
	}
}

// LoraSpec is one LoRA applied to the model in a lora_comparison run.
type LoraSpec struct {
	Name          string  `json:"name" binding:"required"`
	StrengthModel float64 `json:"strength_model,omitempty"`
	StrengthCLIP  float64 `json:"strength_clip,omitempty"`
}

// Txt2ImgConfig is the text-to-image template.
type Txt2ImgConfig struct {
	GenerationBase
}

// Img2ImgConfig is the image-to-image template.
type Img2ImgConfig struct {
	GenerationBase

	// InitImage is the backend path of the source image.
	InitImage string `json:"init_image" binding:"required"`

	// Denoise is the default denoise strength unless swept by an axis.
	Denoise float64 `json:"denoise,omitempty" binding:"omitempty,gt=0,lte=1"`
}

// HiresFixConfig is the two-pass upscaling template.
type HiresFixConfig struct {
	GenerationBase

	UpscaleModel    string  `json:"upscale_model" binding:"required"`
	UpscaleFactor   float64 `json:"upscale_factor,omitempty" binding:"omitempty,gt=1,lte=4"`
	SecondPassSteps int     `json:"second_pass_steps,omitempty" binding:"omitempty,gte=1,lte=150"`
	Denoise         float64 `json:"denoise,omitempty" binding:"omitempty,gt=0,lte=1"`
}

// LoraComparisonConfig sweeps with one or more LoRAs stacked on the model.
type LoraComparisonConfig struct {
	GenerationBase

	Loras []LoraSpec `json:"loras" binding:"required,min=1,dive"`
}

// CustomConfig carries a caller-supplied backend graph in API format.
// Axis values are substituted into the graph by node title placeholders.
type CustomConfig struct {
	// Graph is the backend workflow in API JSON format.
	Graph json.RawMessage `json:"graph" binding:"required"`

	// Seed is the base random seed (see GenerationBase.Seed).
	Seed int64 `json:"seed,omitempty"`
}

// WorkflowConfig is a closed tagged variant: exactly the field matching
// Template must be set. Unknown fields in the enclosing request are
// rejected at decode time; mismatched variants are rejected by Validate.
type WorkflowConfig struct {
	Template WorkflowTemplate `json:"template" binding:"required,oneof=txt2img img2img hires_fix lora_comparison custom"`

	Txt2Img        *Txt2ImgConfig        `json:"txt2img,omitempty"`
	Img2Img        *Img2ImgConfig        `json:"img2img,omitempty"`
	HiresFix       *HiresFixConfig       `json:"hires_fix,omitempty"`
	LoraComparison *LoraComparisonConfig `json:"lora_comparison,omitempty"`
	Custom         *CustomConfig         `json:"custom,omitempty"`
}

// Validate checks the tagged-variant invariant: the variant named by
// Template is present and it is the only one present.
func (w WorkflowConfig) Validate() error {
	set := 0
	var want bool
	for _, v := range []struct {
		tmpl    WorkflowTemplate
		present bool
	}{
		{TemplateTxt2Img, w.Txt2Img != nil},
		{TemplateImg2Img, w.Img2Img != nil},
		{TemplateHiresFix, w.HiresFix != nil},
		{TemplateLoraComparison, w.LoraComparison != nil},
		{TemplateCustom, w.Custom != nil},
	} {
		if v.present {
			set++
			if v.tmpl == w.Template {
				want = true
			}
		}
	}
	if !want {
		return fmt.Errorf("workflow config for template %q is missing", w.Template)
	}
	if set != 1 {
		return fmt.Errorf("workflow config must set exactly one template variant, got %d", set)
	}
	return nil
}

// Base returns the shared generation fields for the active variant, or nil
// for custom graphs.
func (w WorkflowConfig) Base() *GenerationBase {
	switch w.Template {
	case TemplateTxt2Img:
		if w.Txt2Img != nil {
			return &w.Txt2Img.GenerationBase
		}
	case TemplateImg2Img:
		if w.Img2Img != nil {
			return &w.Img2Img.GenerationBase
		}
	case TemplateHiresFix:
		if w.HiresFix != nil {
			return &w.HiresFix.GenerationBase
		}
	case TemplateLoraComparison:
		if w.LoraComparison != nil {
			return &w.LoraComparison.GenerationBase
		}
	}
	return nil
}

// BaseSeed returns the configured base seed for any variant.
func (w WorkflowConfig) BaseSeed() int64 {
	if b := w.Base(); b != nil {
		return b.Seed
	}
	if w.Custom != nil {
		return w.Custom.Seed
	}
	return 0
}
