// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/draftforge/draftforge/services/llm"
	"github.com/draftforge/draftforge/services/planner/datatypes"
)

// Evaluator scores a candidate artifact for the refinement loop.
type Evaluator interface {
	Evaluate(ctx context.Context, kind, content string) (datatypes.QualityScore, error)
}

// LLMEvaluator judges artifacts with the generative backend itself,
// prompting for a strict-JSON verdict.
type LLMEvaluator struct {
	client llm.Client
}

// NewLLMEvaluator creates an evaluator over the given backend.
func NewLLMEvaluator(client llm.Client) *LLMEvaluator {
	return &LLMEvaluator{client: client}
}

const evaluatePromptTemplate = `You are a strict reviewer of software project planning artifacts.

Review the following %s and score it.

Respond with ONLY a JSON object, no prose, no code fences, matching exactly:
{"overall": <float 0.0-1.0>, "dimensions": {"<name>": <float 0.0-1.0>}, "issues": ["<actionable issue, most severe first>"]}

Score dimensions: completeness, coherence, specificity.

Artifact:
%s`

// Evaluate prompts the backend for a verdict and parses it. A verdict
// the backend cannot express as valid JSON is an evaluation error; the
// refinement loop surfaces it rather than guessing a score.
func (e *LLMEvaluator) Evaluate(ctx context.Context, kind, content string) (datatypes.QualityScore, error) {
	prompt := fmt.Sprintf(evaluatePromptTemplate, kind, content)

	raw, err := e.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: f32ptr(0.0),
	})
	if err != nil {
		return datatypes.QualityScore{}, fmt.Errorf("evaluate %s: %w", kind, err)
	}

	score, err := parseScore(raw)
	if err != nil {
		return datatypes.QualityScore{}, fmt.Errorf("evaluate %s: %w", kind, err)
	}
	return score, nil
}

// parseScore extracts the verdict object from model output. Models
// wrap JSON in fences or preamble often enough that we slice from the
// first '{' to the last '}' before unmarshaling. An out-of-range
// overall is clamped to [0, 1]: the model expressed a verdict, just
// on the wrong scale.
func parseScore(raw string) (datatypes.QualityScore, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return datatypes.QualityScore{}, fmt.Errorf("no JSON object in evaluator output %q", truncate(raw, 120))
	}

	var score datatypes.QualityScore
	if err := json.Unmarshal([]byte(raw[start:end+1]), &score); err != nil {
		return datatypes.QualityScore{}, fmt.Errorf("malformed evaluator verdict: %w", err)
	}
	if score.Overall < 0 {
		score.Overall = 0
	}
	if score.Overall > 1 {
		score.Overall = 1
	}
	return score, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func f32ptr(v float32) *float32 { return &v }
func intptr(v int) *int         { return &v }
