// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "encoding/json"

// =============================================================================
// Pipeline Events
// =============================================================================

// EventType is the vocabulary emitted by the pipeline core.
type EventType string

const (
	// EventProgress reports phase advancement (start, completion,
	// percent updates).
	EventProgress EventType = "progress"

	// EventStructurePlanned carries the planned directory structure
	// produced by the blueprint workflow.
	EventStructurePlanned EventType = "structure_planned"

	// EventModulesGenerated carries the fan-out summary of a module
	// generation phase.
	EventModulesGenerated EventType = "modules_generated"

	// EventQualityEvaluated reports one evaluator score during a
	// refinement loop.
	EventQualityEvaluated EventType = "quality_evaluated"

	// EventError reports the failure that paused the run. It is the
	// last event of a failed run.
	EventError EventType = "error"

	// EventComplete is the terminal event of a successful run.
	EventComplete EventType = "complete"
)

// PipelineEvent is one typed, ordered message describing pipeline
// advancement. Events from one run are strictly phase-ordered; no
// ordering holds between unrelated runs.
//
// Id, CreatedAt, Hash and PrevHash are envelope metadata populated by
// the transport writer, not by the producer.
type PipelineEvent struct {
	Id        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`

	Type     EventType    `json:"type"`
	JobID    string       `json:"job_id,omitempty"`
	Workflow WorkflowType `json:"workflow,omitempty"`
	Phase    Phase        `json:"phase,omitempty"`
	Percent  int          `json:"percent,omitempty"`
	Message  string       `json:"message,omitempty"`
	Error    string       `json:"error,omitempty"`

	// Payload is event-type specific JSON (quality score, fan-out
	// summary, final results).
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewPipelineEvent creates an event of the given type. Use the With*
// builders to attach fields:
//
//	ev := datatypes.NewPipelineEvent(datatypes.EventProgress).
//	    WithPhase("plan_structure").
//	    WithPercent(40).
//	    WithMessage("planning directory structure")
func NewPipelineEvent(eventType EventType) PipelineEvent {
	return PipelineEvent{Type: eventType}
}

// WithPhase sets the phase field.
func (e PipelineEvent) WithPhase(phase Phase) PipelineEvent {
	e.Phase = phase
	return e
}

// WithPercent sets the progress percent (clamped to 0-100).
func (e PipelineEvent) WithPercent(percent int) PipelineEvent {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	e.Percent = percent
	return e
}

// WithMessage sets the human-readable message.
func (e PipelineEvent) WithMessage(message string) PipelineEvent {
	e.Message = message
	return e
}

// WithError sets the error field.
func (e PipelineEvent) WithError(errMsg string) PipelineEvent {
	e.Error = errMsg
	return e
}

// WithPayload marshals v into the payload field. Marshal failures leave
// the payload empty; the event itself is still emitted.
func (e PipelineEvent) WithPayload(v any) PipelineEvent {
	if raw, err := json.Marshal(v); err == nil {
		e.Payload = raw
	}
	return e
}
