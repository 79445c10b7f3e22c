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
	"sort"
	"sync"

	"github.com/draftforge/draftforge/services/llm"
	"github.com/draftforge/draftforge/services/planner/datatypes"
	"github.com/draftforge/draftforge/services/planner/pipeline"
)

// =============================================================================
// Module batch workflow
// =============================================================================

// Module batch phase names.
const (
	PhasePrepareBatch        datatypes.Phase = "prepare_batch"
	PhaseGenerateBatchOutput datatypes.Phase = "generate_modules"
)

// batchResult is the terminal payload of a module_batch run.
type batchResult struct {
	ProjectName string                  `json:"project_name"`
	Outputs     []moduleOutput          `json:"outputs"`
	Summary     datatypes.FanOutSummary `json:"summary"`
	Success     bool                    `json:"success"`
}

func (b *Builder) moduleBatchPhases() []pipeline.PhaseDef {
	return []pipeline.PhaseDef{
		{Name: PhasePrepareBatch, Percent: 10, Message: "preparing module batch", Run: b.prepareBatch},
		{Name: PhaseGenerateBatchOutput, Percent: 100, Message: "generating module documents", Run: b.generateBatchModules},
	}
}

// prepareBatch validates and stores the request so the generation phase
// can re-run on resume without the original request body.
func (b *Builder) prepareBatch(ctx context.Context, rc *pipeline.RunContext) error {
	var req datatypes.ModuleBatchRequest
	if err := json.Unmarshal(rc.Inputs, &req); err != nil {
		return fmt.Errorf("parse module batch request: %w", err)
	}
	if len(req.Modules) == 0 {
		return fmt.Errorf("module batch request has no modules")
	}
	return rc.State.PutData(keyRequest, req)
}

const batchModulePromptTemplate = `You are a software project planning assistant.

Write a module planning document for the module below: purpose, public
interface, internal design, dependencies and open risks.

Project: %s
System: %s
Module: %s
Brief: %s`

// generateBatchModules fans out one generation per requested module and
// stores the aggregate as the run result.
func (b *Builder) generateBatchModules(ctx context.Context, rc *pipeline.RunContext) error {
	var req datatypes.ModuleBatchRequest
	if _, err := rc.State.GetData(keyRequest, &req); err != nil {
		return err
	}

	var mu sync.Mutex
	outputs := make([]moduleOutput, 0, len(req.Modules))

	items := make([]pipeline.Item, len(req.Modules))
	for i, mod := range req.Modules {
		mod := mod
		items[i] = pipeline.Item{
			Index: i,
			Name:  mod.System + "/" + mod.Name,
			Run: func(ctx context.Context) error {
				prompt := fmt.Sprintf(batchModulePromptTemplate, req.ProjectName, mod.System, mod.Name, mod.Brief)
				doc, err := b.client.Generate(ctx, prompt, llm.GenerationParams{
					Temperature: f32ptr(0.4),
					MaxTokens:   intptr(2048),
				})
				if err != nil {
					return err
				}
				mu.Lock()
				outputs = append(outputs, moduleOutput{System: mod.System, Name: mod.Name, Document: doc})
				mu.Unlock()
				return nil
			},
		}
	}

	fanout := pipeline.NewFanOut(rc.Admission, rc.Logger.With("phase", PhaseGenerateBatchOutput))
	summary := fanout.Run(ctx, items, func(completed, total int, last pipeline.ItemResult) {
		percent := 10 + 90*completed/total
		_ = rc.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress).
			WithPhase(PhaseGenerateBatchOutput).
			WithPercent(percent).
			WithMessage(fmt.Sprintf("generated %d/%d modules", completed, total)))
	})

	if summary.Succeeded == 0 && summary.Total > 0 {
		return fmt.Errorf("all %d module generations failed: %s", summary.Total, summary.Errors[0].Message)
	}

	sort.Slice(outputs, func(i, j int) bool {
		if outputs[i].System != outputs[j].System {
			return outputs[i].System < outputs[j].System
		}
		return outputs[i].Name < outputs[j].Name
	})

	if err := rc.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventModulesGenerated).
		WithPhase(PhaseGenerateBatchOutput).
		WithMessage(fmt.Sprintf("%d/%d modules generated", summary.Succeeded, summary.Total)).
		WithPayload(summary)); err != nil {
		return err
	}

	return rc.State.PutData(keyResult, batchResult{
		ProjectName: req.ProjectName,
		Outputs:     outputs,
		Summary:     summary,
		Success:     summary.Failed == 0,
	})
}
