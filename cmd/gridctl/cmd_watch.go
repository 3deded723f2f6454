// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <experiment-id>",
	Short: "Stream live progress of an experiment",
	Long: `Connects to the experiment's progress stream and prints events until
the run reaches a terminal state. The first message is a snapshot of
current state, so watching can start at any time during a run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchExperiment(cmd.Context(), args[0])
	},
}

// =============================================================================
// IMPLEMENTATION
// =============================================================================

func watchExperiment(ctx context.Context, experimentID string) error {
	wsURL, err := websocketURL(serverURL, "/v1/experiments/"+experimentID+"/ws")
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to progress stream: %w", err)
	}
	defer conn.Close()

	for {
		var ev datatypes.Event
		if err := conn.ReadJSON(&ev); err != nil {
			// Server closes the stream after a terminal event.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				return nil
			}
			return fmt.Errorf("read progress stream: %w", err)
		}
		printEvent(ev)
		switch ev.Type {
		case datatypes.EventExperimentCompleted:
			return nil
		case datatypes.EventExperimentFailed:
			return fmt.Errorf("experiment failed: %s", ev.Message)
		case datatypes.EventExperimentCancelled:
			fmt.Println("Experiment cancelled.")
			return nil
		case datatypes.EventSnapshot:
			if ev.Snapshot != nil && ev.Snapshot.Status.Terminal() {
				return nil
			}
		}
	}
}

func printEvent(ev datatypes.Event) {
	switch ev.Type {
	case datatypes.EventSnapshot:
		if ev.Snapshot != nil {
			fmt.Printf("[%s] %d/%d images (%.0f%%)\n", ev.Snapshot.Status,
				ev.Snapshot.ImagesGenerated, ev.Snapshot.TotalImages,
				ev.Snapshot.Progress*100)
		}
	case datatypes.EventGenerationStarted:
		fmt.Printf("Generation started: %d images planned\n", ev.TotalImages)
	case datatypes.EventImageGenerated:
		fmt.Printf("Image %d/%d (%.0f%%) %s\n",
			ev.ImagesGenerated, ev.TotalImages, ev.Progress*100, ev.ImagePath)
	case datatypes.EventBatchCompleted:
		fmt.Printf("Batch complete: z=%v (%d images)\n", ev.ZValue, ev.ImagesCount)
	case datatypes.EventExperimentCompleted:
		fmt.Printf("Completed: %d images in %.1fs\n", ev.ImagesGenerated, ev.TotalTime)
	case datatypes.EventExperimentFailed:
		fmt.Printf("Failed after %d images: %s\n", ev.ImagesGenerated, ev.Message)
	case datatypes.EventExperimentCancelled:
		fmt.Printf("Cancelled after %d images\n", ev.ImagesGenerated)
	}
}

// websocketURL rewrites an http(s) base URL to its ws(s) counterpart.
func websocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	switch {
	case u.Scheme == "https":
		u.Scheme = "wss"
	case u.Scheme == "http" || u.Scheme == "":
		u.Scheme = "ws"
	case strings.HasPrefix(u.Scheme, "ws"):
		// already a websocket URL
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = path
	return u.String(), nil
}
