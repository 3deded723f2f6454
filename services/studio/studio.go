// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package studio provides the grid sweep service for GridStudio.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the execution engine, the generation backend
// client, embedded storage, the backend enum catalog, and observability
// infrastructure.
//
// # Usage
//
//	cfg := studio.Config{Port: 8188}
//	svc, err := studio.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package studio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/plotforge/gridstudio/services/generation"
	"github.com/plotforge/gridstudio/services/studio/catalog"
	"github.com/plotforge/gridstudio/services/studio/engine"
	"github.com/plotforge/gridstudio/services/studio/export"
	"github.com/plotforge/gridstudio/services/studio/observability"
	"github.com/plotforge/gridstudio/services/studio/routes"
	"github.com/plotforge/gridstudio/services/studio/storage"
	"github.com/plotforge/gridstudio/services/studio/storage/badgerstore"
	"github.com/plotforge/gridstudio/services/studio/workflow"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the studio service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	// Callers must not modify the router.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds studio service configuration.
//
// All fields have defaults applied by New(); a zero Config starts a
// working service against a local backend.
type Config struct {
	// Port is the HTTP server port. Default: 8840.
	Port int `env:"STUDIO_PORT"`

	// ComfyURL is the generation backend base URL.
	// Default: "http://127.0.0.1:8188".
	ComfyURL string `env:"COMFYUI_URL"`

	// DataDir is the embedded store directory. Default: "./data/studio".
	DataDir string `env:"STUDIO_DATA_DIR"`

	// OutputsDir, when set, is served under /outputs. Point it at the
	// backend's output directory for direct artifact access.
	OutputsDir string `env:"STUDIO_OUTPUTS_DIR"`

	// MaxCombinations is the grid ceiling. Default: 500.
	MaxCombinations int `env:"STUDIO_MAX_COMBINATIONS"`

	// MaxConcurrent caps concurrently executing experiments. Default: 5.
	MaxConcurrent int `env:"STUDIO_MAX_CONCURRENT"`

	// RetryLimit is the transient-failure retry bound per job. Default: 3.
	RetryLimit int `env:"STUDIO_RETRY_LIMIT"`

	// JobTimeout bounds one backend submission attempt. Default: 5m.
	JobTimeout time.Duration `env:"STUDIO_JOB_TIMEOUT"`

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "gridstudio-otel-collector:4317".
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// TrackingURL enables the export sync endpoint when set.
	TrackingURL string `env:"STUDIO_TRACKING_URL"`

	// TrackingAPIKey authorizes tracking-server calls.
	TrackingAPIKey string `env:"STUDIO_TRACKING_API_KEY"`

	// TrackingProject is the default tracking project name.
	// Default: "gridstudio".
	TrackingProject string `env:"STUDIO_TRACKING_PROJECT"`

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string `env:"GIN_MODE"`

	// LogLevel is the minimum log level ("debug", "info", "warn",
	// "error"). Default: "info".
	LogLevel string `env:"STUDIO_LOG_LEVEL"`

	// LogDir, when set, mirrors logs to dated JSON files in that
	// directory in addition to stderr.
	LogDir string `env:"STUDIO_LOG_DIR"`

	// RequireCatalog makes startup fail when the backend enum catalog
	// cannot be fetched. When false the service starts degraded and the
	// catalog can be loaded later via the refresh endpoint.
	RequireCatalog bool `env:"STUDIO_REQUIRE_CATALOG"`
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8840
	}
	if cfg.ComfyURL == "" {
		cfg.ComfyURL = "http://127.0.0.1:8188"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/studio"
	}
	if cfg.MaxCombinations == 0 {
		cfg.MaxCombinations = engine.DefaultMaxCombinations
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.RetryLimit == 0 {
		cfg.RetryLimit = 3
	}
	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "gridstudio-otel-collector:4317"
	}
	if cfg.TrackingProject == "" {
		cfg.TrackingProject = "gridstudio"
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service wires the studio components together.
//
// Thread-safe after construction; all fields are read-only once New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	store         storage.Store
	backend       generation.Client
	orch          *engine.Orchestrator
	catalog       *catalog.Catalog
	exporter      export.Exporter
	tracerCleanup func(context.Context)
}

// New creates a studio Service with the given configuration.
//
// Initialization order matters: tracing and metrics first so every later
// component reports through them, then storage, the backend client and
// its catalog, the engine, and finally the router.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	observability.InitMetrics()
	slog.Info("Initialized Prometheus metrics")

	store, err := badgerstore.Open(badgerstore.DefaultConfig(s.config.DataDir))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	s.store = store

	comfy, err := generation.NewComfyClient(generation.ComfyConfig{
		BaseURL: s.config.ComfyURL,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	s.backend = comfy

	s.catalog = catalog.New(comfy)
	if err := s.initCatalog(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.orch = engine.NewOrchestrator(engine.Config{
		MaxCombinations: s.config.MaxCombinations,
		PoolSize:        s.config.MaxConcurrent,
		RetryLimit:      s.config.RetryLimit,
		JobTimeout:      s.config.JobTimeout,
	}, s.store, s.backend, workflow.NewGenerator(), engine.NewBroadcaster())

	s.initExporter()
	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting studio server", "port", s.config.Port,
		"backend", s.config.ComfyURL, "max_combinations", s.config.MaxCombinations)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("studio-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initCatalog fetches the backend enum catalog. With RequireCatalog the
// failure is fatal; otherwise the service starts degraded and a later
// refresh can recover it.
func (s *service) initCatalog() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.catalog.Init(ctx); err != nil {
		if s.config.RequireCatalog {
			return err
		}
		slog.Warn("Backend catalog unavailable at startup, continuing degraded",
			"backend", s.config.ComfyURL, "error", err)
	}
	return nil
}

func (s *service) initExporter() {
	if s.config.TrackingURL == "" {
		slog.Info("No tracking server configured, export sync disabled")
		s.exporter = export.Noop{}
		return
	}
	s.exporter = export.NewTrackingExporter(export.TrackingConfig{
		BaseURL:        s.config.TrackingURL,
		APIKey:         s.config.TrackingAPIKey,
		DefaultProject: s.config.TrackingProject,
	})
	slog.Info("Tracking exporter configured", "url", s.config.TrackingURL)
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("studio-service"))

	routes.SetupRoutes(s.router, routes.Deps{
		Store:      s.store,
		Orch:       s.orch,
		Catalog:    s.catalog,
		Generator:  workflow.NewGenerator(),
		Backend:    s.backend,
		Exporter:   s.exporter,
		OutputsDir: s.config.OutputsDir,
	})
}

func (s *service) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
