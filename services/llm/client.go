// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides clients for the external generative text service.
//
// The pipeline treats the generative backend as a collaborator: a call
// may fail with a transient error and the pipeline does not retry
// internally. Retry policy, if any, belongs to the individual fan-out
// item or phase body.
package llm

import (
	"context"
	"fmt"
	"os"
)

// GenerationParams are per-call sampling parameters. Nil fields use the
// backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client defines the standard interface for any generative backend.
type Client interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// NewFromEnv constructs a Client for the backend named by
// LLM_BACKEND_TYPE ("ollama" or "openai"). Default: "ollama".
func NewFromEnv() (Client, error) {
	backend := os.Getenv("LLM_BACKEND_TYPE")
	if backend == "" {
		backend = "ollama"
	}
	switch backend {
	case "ollama":
		return NewOllamaClient()
	case "openai":
		return NewOpenAIClient()
	default:
		return nil, fmt.Errorf("unknown LLM backend type: %q", backend)
	}
}
