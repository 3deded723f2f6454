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
// COMMAND DEFINITION
// =============================================================================

var enumsCmd = &cobra.Command{
	Use:   "enums [name]",
	Short: "List parameter values available on the generation backend",
	Long: `Without arguments, prints every catalog the backend advertises
(samplers, schedulers, checkpoints, vaes, loras, upscale_models).
With a name, prints just that catalog, one value per line.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		if len(args) == 1 {
			resp, err := client.getEnum(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, v := range resp.Values {
				fmt.Println(v)
			}
			return nil
		}

		resp, err := client.listEnums(cmd.Context())
		if err != nil {
			return err
		}
		printEnumSection("samplers", resp.Samplers)
		printEnumSection("schedulers", resp.Schedulers)
		printEnumSection("checkpoints", resp.Checkpoints)
		printEnumSection("vaes", resp.VAEs)
		printEnumSection("loras", resp.Loras)
		printEnumSection("upscale_models", resp.UpscaleModels)
		return nil
	},
}

func printEnumSection(name string, values []string) {
	fmt.Printf("%s (%d):\n", name, len(values))
	for _, v := range values {
		fmt.Printf("  %s\n", v)
	}
}
