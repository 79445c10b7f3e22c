// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/services/llm"
)

type stubClient struct{}

func (stubClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return "ok", nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DataDir = "" // in-memory store
	cfg.OTLPEndpoint = ""
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero port", func(c *Config) { c.Port = 0 }, false},
		{"port too high", func(c *Config) { c.Port = 70000 }, false},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, false},
		{"threshold above one", func(c *Config) { c.QualityThreshold = 1.5 }, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, false},
		{"zero refine rounds", func(c *Config) { c.MaxRefineRounds = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadConfig_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 9000\nmax_concurrent: 8\nquality_threshold: 0.6\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 0.6, cfg.QualityThreshold)
	// Unset keys keep their defaults.
	assert.Equal(t, 2, cfg.MaxRefineRounds)
	assert.Equal(t, "planner-service", cfg.ServiceName)
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_InvalidOverlayRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: -1\n"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestService_AssemblesAndServes(t *testing.T) {
	svc, err := newWithClient(testConfig(), nil, stubClient{})
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/pipelines/job-1/status?workflow=blueprint", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"has_checkpoint":false`)
}

func TestService_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 0
	_, err := newWithClient(cfg, nil, stubClient{})
	assert.Error(t, err)
}
