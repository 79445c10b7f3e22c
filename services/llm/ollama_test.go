// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestOllamaClient(serverURL string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		baseURL:    serverURL,
		model:      "test-model",
	}
}

func TestOllamaClient_Generate(t *testing.T) {
	var captured ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    "test-model",
			Response: "generated text",
			Done:     true,
		})
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL)
	temp := float32(0.5)
	maxTokens := 512
	out, err := client.Generate(context.Background(), "plan a project", GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"END"},
	})

	require.NoError(t, err)
	assert.Equal(t, "generated text", out)
	assert.Equal(t, "test-model", captured.Model)
	assert.Equal(t, "plan a project", captured.Prompt)
	assert.False(t, captured.Stream)
	assert.InDelta(t, 0.5, captured.Options["temperature"], 0.001)
	assert.EqualValues(t, 512, captured.Options["num_predict"])
}

func TestOllamaClient_Generate_Defaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Unset params fall back to conservative defaults.
		assert.InDelta(t, 0.2, req.Options["temperature"], 0.001)
		assert.EqualValues(t, 8192, req.Options["num_predict"])
		assert.NotContains(t, req.Options, "top_k")
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "ok", Done: true})
	}))
	defer server.Close()

	_, err := newTestOllamaClient(server.URL).Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err)
}

func TestOllamaClient_Generate_ModelNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "model 'test-model' not found"}`))
	}))
	defer server.Close()

	_, err := newTestOllamaClient(server.URL).Generate(context.Background(), "p", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull test-model")
}

func TestOllamaClient_Generate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer server.Close()

	_, err := newTestOllamaClient(server.URL).Generate(context.Background(), "p", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOllamaClient_Generate_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestOllamaClient(server.URL).Generate(ctx, "p", GenerationParams{})
	assert.Error(t, err)
}

func TestNewOllamaClient_RequiresBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	_, err := NewOllamaClient()
	assert.Error(t, err)
}

func TestNewFromEnv_UnknownBackend(t *testing.T) {
	t.Setenv("LLM_BACKEND_TYPE", "mainframe")
	_, err := NewFromEnv()
	assert.Error(t, err)
}
