// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the planner
// service: job checkpoints, pipeline events, quality scores and the
// request/response DTOs of the HTTP control surface.
package datatypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Enums
// =============================================================================

// WorkflowType disambiguates concurrent pipeline kinds for the same job.
// A job may have at most one checkpoint per workflow type.
type WorkflowType string

const (
	// WorkflowBlueprint is the full project-blueprint pipeline:
	// analyze -> plan structure -> generate modules -> finalize.
	WorkflowBlueprint WorkflowType = "blueprint"

	// WorkflowModuleBatch is the batch module-generation pipeline.
	WorkflowModuleBatch WorkflowType = "module_batch"
)

// Phase names one ordered stage of a pipeline. The set of valid phases
// is closed per workflow; a stored phase unknown to the running code is
// schema drift and fails resume.
type Phase string

// JobStatus is the lifecycle state of a checkpoint row.
type JobStatus string

const (
	// StatusRunning marks a checkpoint written at a phase boundary of
	// an active run.
	StatusRunning JobStatus = "running"

	// StatusPaused marks a run stopped by an explicit pause request or
	// an unhandled phase error. Paused checkpoints are resumable.
	StatusPaused JobStatus = "paused"

	// StatusCompleted and StatusFailed are terminal dispositions used
	// in events and status reporting. A successfully completed run has
	// its checkpoint row deleted rather than stored as completed.
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// =============================================================================
// Checkpoint
// =============================================================================

// StateSchemaVersion is the current StatePayload schema. Stored
// payloads with a different version fail resume (ValidationError class);
// the caller must clear the checkpoint and restart from phase one.
const StateSchemaVersion = 1

// StatePayload is the versioned, resumable snapshot stored at every
// phase boundary.
type StatePayload struct {
	// SchemaVersion tags the snapshot layout. Must equal
	// StateSchemaVersion to be resumable.
	SchemaVersion int `json:"schema_version"`

	// CompletedPhases lists phases that finished successfully, in
	// execution order. Resume re-enters at the first phase not listed.
	CompletedPhases []Phase `json:"completed_phases"`

	// Data holds per-phase output snapshots keyed by phase name.
	// Values are opaque JSON owned by the phase that wrote them.
	Data map[string]json.RawMessage `json:"data,omitempty"`

	// Error is the message of the failure that paused the run, if any.
	Error string `json:"error,omitempty"`

	// PauseReason is set by an explicit pause request.
	PauseReason string `json:"pause_reason,omitempty"`
}

// NewStatePayload returns an empty current-version payload.
func NewStatePayload() StatePayload {
	return StatePayload{
		SchemaVersion:   StateSchemaVersion,
		CompletedPhases: []Phase{},
		Data:            make(map[string]json.RawMessage),
	}
}

// PutData marshals v into the payload under key.
func (p *StatePayload) PutData(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal state data %q: %w", key, err)
	}
	if p.Data == nil {
		p.Data = make(map[string]json.RawMessage)
	}
	p.Data[key] = raw
	return nil
}

// GetData unmarshals the payload entry under key into out. The boolean
// reports whether the key was present.
func (p *StatePayload) GetData(key string, out any) (bool, error) {
	raw, ok := p.Data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("unmarshal state data %q: %w", key, err)
	}
	return true, nil
}

// HasCompleted reports whether phase is in the completed list.
func (p *StatePayload) HasCompleted(phase Phase) bool {
	for _, done := range p.CompletedPhases {
		if done == phase {
			return true
		}
	}
	return false
}

// JobCheckpoint is the durable snapshot of a pipeline run. At most one
// checkpoint exists per (job_id, workflow_type); it is deleted when the
// run completes successfully.
type JobCheckpoint struct {
	JobID           string       `json:"job_id"`
	WorkflowType    WorkflowType `json:"workflow_type"`
	Phase           Phase        `json:"phase"`
	Status          JobStatus    `json:"status"`
	ProgressPercent int          `json:"progress_percent"`
	ProgressMessage string       `json:"progress_message"`
	State           StatePayload `json:"state_payload"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// =============================================================================
// Ephemeral pipeline results
// =============================================================================

// QualityScore is the evaluator's judgment of a candidate artifact.
// Scores are ephemeral: they are only persisted as part of whatever
// snapshot a phase chooses to store.
type QualityScore struct {
	// Overall is the scalar score in [0, 1].
	Overall float64 `json:"overall"`

	// Dimensions are named sub-scores in [0, 1].
	Dimensions map[string]float64 `json:"dimensions,omitempty"`

	// Issues are actionable problems, ordered by severity, fed back
	// into the refine step.
	Issues []string `json:"issues,omitempty"`

	// Round is the refinement round that produced this score
	// (0 = initial generation).
	Round int `json:"round"`
}

// FanOutError records one failed fan-out item.
type FanOutError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// FanOutSummary aggregates one fan-out run. Item failures never abort
// siblings, so Succeeded+Failed always equals Total.
type FanOutSummary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Errors    []FanOutError `json:"errors,omitempty"`
}
