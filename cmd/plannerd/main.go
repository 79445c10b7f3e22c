// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// plannerd is the planner service daemon. Configuration comes from an
// optional YAML file (PLANNER_CONFIG_FILE) with environment variable
// overrides for the settings that differ per deployment.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/draftforge/draftforge/pkg/logging"
	"github.com/draftforge/draftforge/services/planner"
)

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-integer environment value", "key", key, "value", v)
		return fallback
	}
	return n
}

func logLevelFromEnv() logging.Level {
	switch strings.ToUpper(os.Getenv("PLANNER_LOG_LEVEL")) {
	case "DEBUG":
		return logging.LevelDebug
	case "WARN":
		return logging.LevelWarn
	case "ERROR":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func main() {
	logger := logging.New(logging.Config{
		Level:   logLevelFromEnv(),
		LogDir:  os.Getenv("PLANNER_LOG_DIR"),
		Service: "planner",
		JSON:    true,
	})
	defer func() { _ = logger.Close() }()
	slog.SetDefault(logger.Slog())

	cfg, err := planner.LoadConfig(os.Getenv("PLANNER_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.Port = getEnvInt("PLANNER_PORT", cfg.Port)
	cfg.DataDir = getEnvString("PLANNER_DATA_DIR", cfg.DataDir)
	cfg.MaxConcurrent = getEnvInt("PLANNER_MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	svc, err := planner.New(cfg, logger.Slog())
	if err != nil {
		log.Fatalf("failed to assemble planner service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("planner server failed: %v", err)
	}
	logger.Info("planner stopped")
}
