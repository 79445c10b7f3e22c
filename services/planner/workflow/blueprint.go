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
	"strings"
	"sync"

	"github.com/draftforge/draftforge/services/llm"
	"github.com/draftforge/draftforge/services/planner/datatypes"
	"github.com/draftforge/draftforge/services/planner/pipeline"
)

// =============================================================================
// Blueprint workflow
// =============================================================================

// Blueprint phase names. Stored in checkpoints; renaming one breaks
// resume for in-flight jobs.
const (
	PhaseAnalyzeRequirements datatypes.Phase = "analyze_requirements"
	PhasePlanStructure       datatypes.Phase = "plan_structure"
	PhaseGenerateModules     datatypes.Phase = "generate_modules"
	PhaseFinalizeBlueprint   datatypes.Phase = "finalize_blueprint"
)

// State data keys shared across blueprint phases.
const (
	keyRequest      = "request"
	keyRequirements = "requirements"
	keyStructure    = "structure"
	keyModules      = "modules"
	keyResult       = "result"
)

// structureArtifact is the plan_structure phase snapshot.
type structureArtifact struct {
	Text   string                 `json:"text"`
	Score  datatypes.QualityScore `json:"score"`
	Rounds int                    `json:"rounds"`
}

// moduleOutput is one generated module document.
type moduleOutput struct {
	System   string `json:"system"`
	Name     string `json:"name"`
	Document string `json:"document"`
}

// modulesArtifact is the generate_modules phase snapshot.
type modulesArtifact struct {
	Outputs []moduleOutput          `json:"outputs"`
	Summary datatypes.FanOutSummary `json:"summary"`
}

func (b *Builder) blueprintPhases() []pipeline.PhaseDef {
	return []pipeline.PhaseDef{
		{Name: PhaseAnalyzeRequirements, Percent: 20, Message: "analyzing requirements", Run: b.analyzeRequirements},
		{Name: PhasePlanStructure, Percent: 45, Message: "planning project structure", Run: b.planStructure},
		{Name: PhaseGenerateModules, Percent: 85, Message: "generating module documents", Run: b.generateBlueprintModules},
		{Name: PhaseFinalizeBlueprint, Percent: 100, Message: "finalizing blueprint", Run: b.finalizeBlueprint},
	}
}

const analyzePromptTemplate = `You are a software project planning assistant.

Analyze the following project and produce a concise requirements summary:
functional requirements, constraints, and the key risks to plan around.

Project: %s
Description: %s
Systems:
%s`

// analyzeRequirements parses the request, stores it for later phases,
// and produces the requirements summary.
func (b *Builder) analyzeRequirements(ctx context.Context, rc *pipeline.RunContext) error {
	var req datatypes.BlueprintRequest
	if err := json.Unmarshal(rc.Inputs, &req); err != nil {
		return fmt.Errorf("parse blueprint request: %w", err)
	}
	if err := rc.State.PutData(keyRequest, req); err != nil {
		return err
	}

	var systems strings.Builder
	for _, s := range req.Systems {
		fmt.Fprintf(&systems, "- %s: %s (modules: %s)\n", s.Name, s.Description, strings.Join(s.Modules, ", "))
	}

	prompt := fmt.Sprintf(analyzePromptTemplate, req.ProjectName, req.Description, systems.String())
	requirements, err := b.generate(ctx, rc, prompt, llm.GenerationParams{
		Temperature: f32ptr(0.3),
	})
	if err != nil {
		return fmt.Errorf("analyze requirements: %w", err)
	}

	return rc.State.PutData(keyRequirements, requirements)
}

const structurePromptTemplate = `You are a software project planning assistant.

Given the requirements below, propose a directory and component structure
for the project. Be specific: name directories, components and their
responsibilities.

Requirements:
%s`

const refineStructurePromptTemplate = `You are a software project planning assistant.

The proposed project structure below was reviewed and found lacking.
Produce an improved version that addresses every issue. Keep what works.

Issues:
%s

Current structure:
%s`

// planStructure runs the quality refinement loop over the structure
// proposal and emits the evaluator's verdicts as they land.
func (b *Builder) planStructure(ctx context.Context, rc *pipeline.RunContext) error {
	var requirements string
	if _, err := rc.State.GetData(keyRequirements, &requirements); err != nil {
		return err
	}

	outcome, err := pipeline.Refine(ctx,
		pipeline.RefineConfig{
			Threshold: b.cfg.QualityThreshold,
			MaxRounds: b.cfg.MaxRefineRounds,
			OnEvaluated: func(score datatypes.QualityScore) {
				_ = rc.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventQualityEvaluated).
					WithPhase(PhasePlanStructure).
					WithMessage(fmt.Sprintf("structure scored %.2f (round %d)", score.Overall, score.Round)).
					WithPayload(score))
			},
		},
		func(ctx context.Context) (string, error) {
			return b.generate(ctx, rc, fmt.Sprintf(structurePromptTemplate, requirements),
				llm.GenerationParams{Temperature: f32ptr(0.5)})
		},
		func(ctx context.Context, candidate string) (datatypes.QualityScore, error) {
			return b.evaluator.Evaluate(ctx, "project structure", candidate)
		},
		func(ctx context.Context, candidate string, score datatypes.QualityScore) (string, error) {
			issues := "- " + strings.Join(score.Issues, "\n- ")
			return b.generate(ctx, rc, fmt.Sprintf(refineStructurePromptTemplate, issues, candidate),
				llm.GenerationParams{Temperature: f32ptr(0.5)})
		},
	)
	if err != nil {
		return fmt.Errorf("plan structure: %w", err)
	}

	if !outcome.MetThreshold {
		rc.Logger.Warn("structure below quality threshold after refinement",
			"score", outcome.FinalScore.Overall,
			"threshold", b.cfg.QualityThreshold,
			"rounds", outcome.Rounds,
		)
	}

	artifact := structureArtifact{
		Text:   outcome.Candidate,
		Score:  outcome.FinalScore,
		Rounds: outcome.Rounds,
	}
	if err := rc.State.PutData(keyStructure, artifact); err != nil {
		return err
	}

	return rc.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventStructurePlanned).
		WithPhase(PhasePlanStructure).
		WithMessage("project structure planned").
		WithPayload(artifact))
}

const modulePromptTemplate = `You are a software project planning assistant.

Write a module planning document for the module below: purpose, public
interface, internal design, dependencies and open risks.

Project structure for context:
%s

System: %s
Module: %s
Brief: %s`

// generateBlueprintModules fans out one generation per declared module.
// Item failures are isolated; the phase fails only when nothing at all
// was generated.
func (b *Builder) generateBlueprintModules(ctx context.Context, rc *pipeline.RunContext) error {
	var req datatypes.BlueprintRequest
	if _, err := rc.State.GetData(keyRequest, &req); err != nil {
		return err
	}
	var structure structureArtifact
	if _, err := rc.State.GetData(keyStructure, &structure); err != nil {
		return err
	}

	type target struct {
		system, name, brief string
	}
	var targets []target
	for _, sys := range req.Systems {
		for _, mod := range sys.Modules {
			targets = append(targets, target{system: sys.Name, name: mod, brief: sys.Description})
		}
	}

	var mu sync.Mutex
	outputs := make([]moduleOutput, 0, len(targets))

	items := make([]pipeline.Item, len(targets))
	for i, tgt := range targets {
		tgt := tgt
		items[i] = pipeline.Item{
			Index: i,
			Name:  tgt.system + "/" + tgt.name,
			Run: func(ctx context.Context) error {
				prompt := fmt.Sprintf(modulePromptTemplate, structure.Text, tgt.system, tgt.name, tgt.brief)
				// Admission is held by the scheduler for the item's
				// whole duration, so call the backend directly.
				doc, err := b.client.Generate(ctx, prompt, llm.GenerationParams{
					Temperature: f32ptr(0.4),
					MaxTokens:   intptr(2048),
				})
				if err != nil {
					return err
				}
				mu.Lock()
				outputs = append(outputs, moduleOutput{System: tgt.system, Name: tgt.name, Document: doc})
				mu.Unlock()
				return nil
			},
		}
	}

	fanout := pipeline.NewFanOut(rc.Admission, rc.Logger.With("phase", PhaseGenerateModules))
	summary := fanout.Run(ctx, items, func(completed, total int, last pipeline.ItemResult) {
		// 45 -> 85 across the batch.
		percent := 45 + 40*completed/total
		_ = rc.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress).
			WithPhase(PhaseGenerateModules).
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

	artifact := modulesArtifact{Outputs: outputs, Summary: summary}
	if err := rc.State.PutData(keyModules, artifact); err != nil {
		return err
	}

	return rc.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventModulesGenerated).
		WithPhase(PhaseGenerateModules).
		WithMessage(fmt.Sprintf("%d/%d modules generated", summary.Succeeded, summary.Total)).
		WithPayload(summary))
}

// finalizeBlueprint assembles the terminal result document from the
// prior phases' snapshots.
func (b *Builder) finalizeBlueprint(ctx context.Context, rc *pipeline.RunContext) error {
	var req datatypes.BlueprintRequest
	if _, err := rc.State.GetData(keyRequest, &req); err != nil {
		return err
	}
	var requirements string
	if _, err := rc.State.GetData(keyRequirements, &requirements); err != nil {
		return err
	}
	var structure structureArtifact
	if _, err := rc.State.GetData(keyStructure, &structure); err != nil {
		return err
	}
	var modules modulesArtifact
	if _, err := rc.State.GetData(keyModules, &modules); err != nil {
		return err
	}

	var doc strings.Builder
	fmt.Fprintf(&doc, "# %s - Project Blueprint\n\n", req.ProjectName)
	fmt.Fprintf(&doc, "## Requirements\n\n%s\n\n", requirements)
	fmt.Fprintf(&doc, "## Structure\n\n%s\n\n", structure.Text)
	fmt.Fprintf(&doc, "## Modules\n\n")
	for _, m := range modules.Outputs {
		fmt.Fprintf(&doc, "### %s / %s\n\n%s\n\n", m.System, m.Name, m.Document)
	}
	if modules.Summary.Failed > 0 {
		fmt.Fprintf(&doc, "## Generation Gaps\n\n%d of %d modules failed to generate.\n",
			modules.Summary.Failed, modules.Summary.Total)
	}

	result := datatypes.BlueprintResult{
		ProjectName:      req.ProjectName,
		Requirements:     requirements,
		Structure:        structure.Text,
		StructureScore:   structure.Score,
		RefinementRounds: structure.Rounds,
		Modules:          modules.Summary,
		Document:         doc.String(),
		Success:          modules.Summary.Failed == 0,
	}
	return rc.State.PutData(keyResult, result)
}
