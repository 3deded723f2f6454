// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/plotforge/gridstudio/pkg/logging"
	"github.com/plotforge/gridstudio/services/studio"
)

func main() {
	var cfg studio.Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse configuration from environment: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "studio",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	svc, err := studio.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize studio service: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
