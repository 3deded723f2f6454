// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var createSpecFile string

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "Manage sweep experiments",
}

var experimentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		exps, err := client.listExperiments(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROGRESS\tIMAGES")
		for _, exp := range exps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d/%d\n",
				exp.ID, exp.Name, exp.Status, exp.Progress*100,
				exp.ImagesGenerated, exp.TotalImages)
		}
		return w.Flush()
	},
}

var experimentsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an experiment from a YAML sweep spec",
	Long: `Creates an experiment from a YAML file describing the parameter grid
and workflow configuration. The experiment is stored in draft state;
use "gridctl run" or the execute endpoint to start it.

Example spec:

  name: cfg-vs-steps
  parameter_grid:
    x_axis: {name: cfg, display_name: CFG, type: numeric, min: 4, max: 12, step: 2}
    y_axis: {name: steps, display_name: Steps, type: numeric, min: 10, max: 30, step: 10}
    z_axis: {name: sampler_name, display_name: Sampler, type: categorical, values: [euler, dpmpp_2m]}
  workflow_config:
    template: txt2img
    txt2img:
      prompt: "a lighthouse at dusk"
      checkpoint: sd_xl_base_1.0.safetensors`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := loadSweepSpec(createSpecFile)
		if err != nil {
			return err
		}
		client := newAPIClient(serverURL)
		exp, err := client.createExperiment(cmd.Context(), *req)
		if err != nil {
			return err
		}
		fmt.Printf("Created experiment %s (%d images)\n", exp.ID, exp.TotalImages)
		return nil
	},
}

var experimentsStatusCmd = &cobra.Command{
	Use:   "status <experiment-id>",
	Short: "Show one experiment's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		exp, err := client.getExperiment(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %s\n", exp.ID)
		fmt.Printf("Name:     %s\n", exp.Name)
		fmt.Printf("Status:   %s\n", exp.Status)
		fmt.Printf("Progress: %d/%d (%.0f%%)\n",
			exp.ImagesGenerated, exp.TotalImages, exp.Progress*100)
		if exp.ErrorMessage != "" {
			fmt.Printf("Error:    %s\n", exp.ErrorMessage)
		}
		if exp.ExportRunURL != "" {
			fmt.Printf("Export:   %s\n", exp.ExportRunURL)
		}
		return nil
	},
}

var experimentsCancelCmd = &cobra.Command{
	Use:   "cancel <experiment-id>",
	Short: "Request cooperative cancellation of a running experiment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		resp, err := client.cancelExperiment(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	experimentsCreateCmd.Flags().StringVarP(&createSpecFile, "file", "f", "",
		"YAML sweep spec file (required)")
	_ = experimentsCreateCmd.MarkFlagRequired("file")

	experimentsCmd.AddCommand(experimentsListCmd)
	experimentsCmd.AddCommand(experimentsCreateCmd)
	experimentsCmd.AddCommand(experimentsStatusCmd)
	experimentsCmd.AddCommand(experimentsCancelCmd)
}

// =============================================================================
// HELPERS
// =============================================================================

// loadSweepSpec reads a YAML sweep spec. The YAML is decoded through the
// JSON field names so specs mirror the API payload exactly.
func loadSweepSpec(path string) (*datatypes.CreateExperimentRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sweep spec %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sweep spec %s: %w", path, err)
	}
	// Round-trip through JSON so the spec decodes with the API's field
	// names and types.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert sweep spec %s: %w", path, err)
	}
	var req datatypes.CreateExperimentRequest
	if err := json.Unmarshal(jsonData, &req); err != nil {
		return nil, fmt.Errorf("decode sweep spec %s: %w", path, err)
	}
	return &req, nil
}
