// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// gridctl is the command line client for the GridStudio API.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "gridctl",
	Short: "Command line client for GridStudio parameter sweeps",
	Long: `gridctl drives a GridStudio server: define three-axis parameter
sweeps, execute them against the generation backend, and follow live
progress.

Examples:
  gridctl experiments list
  gridctl experiments create -f sweep.yaml
  gridctl run -f sweep.yaml --watch
  gridctl watch <experiment-id>
  gridctl enums samplers`,
}

func init() {
	defaultServer := os.Getenv("GRIDSTUDIO_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8840"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer,
		"GridStudio server URL (env: GRIDSTUDIO_SERVER)")

	rootCmd.AddCommand(experimentsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(enumsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
