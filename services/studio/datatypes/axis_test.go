// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"testing"
)

func TestAxisValue_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want AxisValue
	}{
		{"integer", "8", Number(8)},
		{"float", "7.5", Number(7.5)},
		{"string", `"euler"`, Text("euler")},
		{"numeric string stays string", `"20"`, Text("20")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v AxisValue
			if err := json.Unmarshal([]byte(tt.in), &v); err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}
			if v != tt.want {
				t.Fatalf("Unmarshal = %+v, want %+v", v, tt.want)
			}
			out, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("Marshal error: %v", err)
			}
			if string(out) != tt.in {
				t.Errorf("Marshal = %s, want %s", out, tt.in)
			}
		})
	}
}

func TestAxisValue_UnmarshalRejectsComposites(t *testing.T) {
	for _, in := range []string{`[1, 2]`, `{"a": 1}`, `true`} {
		var v AxisValue
		if err := json.Unmarshal([]byte(in), &v); err == nil {
			t.Errorf("Unmarshal(%s) should fail", in)
		}
	}
}

func TestAxisValue_String(t *testing.T) {
	tests := []struct {
		v    AxisValue
		want string
	}{
		{Number(20), "20"},
		{Number(7.5), "7.5"},
		{Number(0.2), "0.2"},
		{Text("dpmpp_2m"), "dpmpp_2m"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestAxisDefinition_Label(t *testing.T) {
	a := AxisDefinition{Name: "cfg"}
	if a.Label() != "cfg" {
		t.Errorf("Label() = %q, want cfg", a.Label())
	}
	a.DisplayName = "CFG Scale"
	if a.Label() != "CFG Scale" {
		t.Errorf("Label() = %q, want display name", a.Label())
	}
}
