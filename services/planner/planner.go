// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package planner wires the staged generation pipeline service: the
// durable checkpoint store, the process-wide admission limiter, the
// workflow registry, the orchestrator and the HTTP control surface.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
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

	"github.com/draftforge/draftforge/services/llm"
	"github.com/draftforge/draftforge/services/planner/checkpoint"
	"github.com/draftforge/draftforge/services/planner/handlers"
	"github.com/draftforge/draftforge/services/planner/pipeline"
	"github.com/draftforge/draftforge/services/planner/routes"
	"github.com/draftforge/draftforge/services/planner/workflow"
)

// Service is the assembled planner process.
type Service struct {
	cfg    Config
	logger *slog.Logger

	store     *checkpoint.Store
	admission *pipeline.Admission
	router    *gin.Engine

	tracerCleanup func(context.Context)
}

// New assembles a Service from configuration. The generative backend
// is resolved from the environment (LLM_BACKEND_TYPE).
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	client, err := llm.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("init generative backend: %w", err)
	}
	return newWithClient(cfg, logger, client)
}

// newWithClient finishes assembly with an explicit backend, so tests
// can inject a scripted one.
func newWithClient(cfg Config, logger *slog.Logger, client llm.Client) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	storeCfg := checkpoint.DefaultConfig(cfg.DataDir)
	storeCfg.SyncWrites = cfg.SyncWrites
	if cfg.DataDir == "" {
		storeCfg = checkpoint.InMemoryConfig()
	}
	store, err := checkpoint.NewStore(storeCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	admission := pipeline.NewAdmission(cfg.MaxConcurrent)
	orch := pipeline.NewOrchestrator(store, admission, logger)
	builder := workflow.NewBuilder(client, nil, workflow.Config{
		QualityThreshold: cfg.QualityThreshold,
		MaxRefineRounds:  cfg.MaxRefineRounds,
	}, logger)
	handler := handlers.NewPipelineHandler(store, orch, builder,
		handlers.NewBroadcaster(), logger, cfg.StreamCapacity)

	svc := &Service{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		admission: admission,
	}

	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint, cfg.ServiceName)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		svc.tracerCleanup = cleanup
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	routes.SetupRoutes(router, handler)
	svc.router = router

	return svc, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("planner listening",
			"port", s.cfg.Port,
			"max_concurrent", s.cfg.MaxConcurrent,
			"data_dir", s.cfg.DataDir,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	return s.Close()
}

// Close releases the service's resources.
func (s *Service) Close() error {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	return s.store.Close()
}

// Router exposes the HTTP handler for tests and embedding.
func (s *Service) Router() http.Handler {
	return s.router
}

// initTracer configures the OTLP trace exporter.
func initTracer(endpoint, serviceName string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
