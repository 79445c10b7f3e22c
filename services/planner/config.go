// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the planner service configuration. Defaults cover a local
// single-node deployment; a YAML file overlays them.
type Config struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port" validate:"required,min=1,max=65535"`

	// DataDir holds the checkpoint database. Empty means in-memory
	// (tests only; checkpoints do not survive a restart).
	DataDir string `yaml:"data_dir"`

	// MaxConcurrent bounds simultaneous calls into the generative
	// backend across all jobs.
	MaxConcurrent int `yaml:"max_concurrent" validate:"required,min=1,max=256"`

	// StreamCapacity sizes each run's event buffer.
	StreamCapacity int `yaml:"stream_capacity" validate:"min=0,max=4096"`

	// QualityThreshold is the minimum acceptable evaluator score.
	QualityThreshold float64 `yaml:"quality_threshold" validate:"min=0,max=1"`

	// MaxRefineRounds caps refinement attempts per quality loop.
	MaxRefineRounds int `yaml:"max_refine_rounds" validate:"min=0,max=8"`

	// SyncWrites forces an fsync per checkpoint write.
	SyncWrites bool `yaml:"sync_writes"`

	// OTLPEndpoint is the trace collector address. Empty disables
	// trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// ServiceName identifies this process in traces and logs.
	ServiceName string `yaml:"service_name" validate:"required"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Port:             12300,
		DataDir:          "/data/planner",
		MaxConcurrent:    4,
		StreamCapacity:   16,
		QualityThreshold: 0.8,
		MaxRefineRounds:  2,
		SyncWrites:       true,
		ServiceName:      "planner-service",
	}
}

// LoadConfig overlays the YAML file at path onto the defaults. An
// empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid planner config: %w", err)
	}
	return nil
}
