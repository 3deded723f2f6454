// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runSpecFile string
	runWatch    bool
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create an experiment from a sweep spec and execute it",
	Long: `Creates an experiment from a YAML sweep spec and immediately queues
it for execution. With --watch the command stays attached and streams
progress until the run finishes.

Examples:
  gridctl run -f sweep.yaml
  gridctl run -f sweep.yaml --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := loadSweepSpec(runSpecFile)
		if err != nil {
			return err
		}
		client := newAPIClient(serverURL)

		exp, err := client.createExperiment(cmd.Context(), *req)
		if err != nil {
			return err
		}
		fmt.Printf("Created experiment %s (%d images)\n", exp.ID, exp.TotalImages)

		resp, err := client.executeExperiment(cmd.Context(), exp.ID)
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)

		if runWatch {
			return watchExperiment(cmd.Context(), exp.ID)
		}
		fmt.Printf("Follow progress with: gridctl watch %s\n", exp.ID)
		return nil
	},
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	runCmd.Flags().StringVarP(&runSpecFile, "file", "f", "",
		"YAML sweep spec file (required)")
	runCmd.Flags().BoolVar(&runWatch, "watch", false,
		"Stream progress until the run finishes")
	_ = runCmd.MarkFlagRequired("file")
}
