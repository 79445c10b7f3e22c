// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/services/llm"
	"github.com/draftforge/draftforge/services/planner/checkpoint"
	"github.com/draftforge/draftforge/services/planner/handlers"
	"github.com/draftforge/draftforge/services/planner/pipeline"
	"github.com/draftforge/draftforge/services/planner/workflow"
)

type stubClient struct{}

func (stubClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return "ok", nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := checkpoint.NewStore(checkpoint.InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	builder := workflow.NewBuilder(stubClient{}, nil, workflow.DefaultConfig(), nil)
	orch := pipeline.NewOrchestrator(store, pipeline.NewAdmission(1), nil)
	handler := handlers.NewPipelineHandler(store, orch, builder, nil, nil, 0)

	router := gin.New()
	SetupRoutes(router, handler)
	return router
}

func TestSetupRoutes_RegistersControlSurface(t *testing.T) {
	router := newTestRouter(t)

	want := map[string]string{
		"/health":                        http.MethodGet,
		"/metrics":                       http.MethodGet,
		"/v1/pipelines/:jobId/start":     http.MethodPost,
		"/v1/pipelines/:jobId/pause":     http.MethodPost,
		"/v1/pipelines/:jobId/status":    http.MethodGet,
		"/v1/pipelines/:jobId/events/ws": http.MethodGet,
		"/v1/pipelines/:jobId":           http.MethodDelete,
	}

	got := make(map[string]string)
	for _, route := range router.Routes() {
		got[route.Path] = route.Method
	}
	for path, method := range want {
		assert.Equal(t, method, got[path], "route %s", path)
	}
}

func TestRoutes_HealthAndMetricsServe(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
