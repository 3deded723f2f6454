// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateAxisName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "steps", false},
		{"with underscore", "sampler_name", false},
		{"with digits", "lora2_strength", false},
		{"single letter", "x", false},
		{"max length", "a" + strings.Repeat("b", 63), false},
		{"empty", "", true},
		{"leading digit", "2steps", true},
		{"leading underscore", "_steps", true},
		{"spaces", "cfg scale", true},
		{"path traversal", "../etc/passwd", true},
		{"shell metacharacters", "steps;rm", true},
		{"too long", "a" + strings.Repeat("b", 64), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAxisName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAxisName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

type decodeTarget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestDecodeStrict(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"grid","count":3}`, false},
		{"partial", `{"name":"grid"}`, false},
		{"unknown field", `{"name":"grid","extra":true}`, true},
		{"trailing data", `{"name":"grid"}{"name":"again"}`, true},
		{"malformed", `{"name":`, true},
		{"wrong type", `{"count":"three"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var target decodeTarget
			err := DecodeStrict(strings.NewReader(tt.body), &target)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeStrict(%q) error = %v, wantErr %v", tt.body, err, tt.wantErr)
			}
		})
	}
}

type bindingTarget struct {
	Name string `json:"name" binding:"required"`
	Size int    `json:"size" binding:"omitempty,min=1,max=500"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		input   bindingTarget
		wantErr bool
	}{
		{"valid", bindingTarget{Name: "exp", Size: 10}, false},
		{"size omitted", bindingTarget{Name: "exp"}, false},
		{"missing required", bindingTarget{Size: 10}, true},
		{"size too large", bindingTarget{Name: "exp", Size: 501}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Struct(%+v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
