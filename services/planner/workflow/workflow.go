// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflow defines the planner's concrete pipelines: the
// ordered phase lists for each workflow type and the phase bodies that
// call the generative backend.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/draftforge/draftforge/services/llm"
	"github.com/draftforge/draftforge/services/planner/datatypes"
	"github.com/draftforge/draftforge/services/planner/pipeline"
)

// ErrUnknownWorkflow indicates a workflow type no builder exists for.
var ErrUnknownWorkflow = errors.New("unknown workflow type")

// Config tunes phase behavior across workflows.
type Config struct {
	// QualityThreshold is the minimum acceptable evaluator score for
	// refined artifacts.
	QualityThreshold float64

	// MaxRefineRounds caps refinement attempts per quality loop.
	MaxRefineRounds int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QualityThreshold: 0.8,
		MaxRefineRounds:  2,
	}
}

// Builder constructs phase lists for the orchestrator. One Builder
// serves all runs; phase bodies carry no per-run state (everything
// per-run lives in the RunContext).
type Builder struct {
	client    llm.Client
	evaluator Evaluator
	cfg       Config
	logger    *slog.Logger
}

// NewBuilder wires a Builder to its backend and evaluator.
func NewBuilder(client llm.Client, evaluator Evaluator, cfg Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = NewLLMEvaluator(client)
	}
	return &Builder{
		client:    client,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Phases returns the ordered phase list for the workflow type.
func (b *Builder) Phases(workflow datatypes.WorkflowType) ([]pipeline.PhaseDef, error) {
	switch workflow {
	case datatypes.WorkflowBlueprint:
		return b.blueprintPhases(), nil
	case datatypes.WorkflowModuleBatch:
		return b.moduleBatchPhases(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, workflow)
	}
}

// Known reports whether the workflow type has a registered phase list.
func (b *Builder) Known(workflow datatypes.WorkflowType) bool {
	_, err := b.Phases(workflow)
	return err == nil
}

// generate performs one admission-gated call into the backend.
func (b *Builder) generate(ctx context.Context, rc *pipeline.RunContext, prompt string, params llm.GenerationParams) (string, error) {
	if err := rc.Admission.Acquire(ctx); err != nil {
		return "", err
	}
	defer rc.Admission.Release()
	return b.client.Generate(ctx, prompt, params)
}
