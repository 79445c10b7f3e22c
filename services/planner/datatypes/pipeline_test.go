// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// StatePayload Tests
// =============================================================================

func TestNewStatePayload_CurrentVersion(t *testing.T) {
	payload := NewStatePayload()
	assert.Equal(t, StateSchemaVersion, payload.SchemaVersion)
	assert.Empty(t, payload.CompletedPhases)
	assert.NotNil(t, payload.Data)
}

func TestStatePayload_PutGetData_RoundTrip(t *testing.T) {
	payload := NewStatePayload()

	type snapshot struct {
		Structure string `json:"structure"`
		Rounds    int    `json:"rounds"`
	}
	in := snapshot{Structure: "cmd/\npkg/\n", Rounds: 2}
	require.NoError(t, payload.PutData("plan_structure", in))

	var out snapshot
	found, err := payload.GetData("plan_structure", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestStatePayload_GetData_Missing(t *testing.T) {
	payload := NewStatePayload()
	var out string
	found, err := payload.GetData("absent", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStatePayload_HasCompleted(t *testing.T) {
	payload := NewStatePayload()
	payload.CompletedPhases = []Phase{"analyze_requirements", "plan_structure"}

	assert.True(t, payload.HasCompleted("plan_structure"))
	assert.False(t, payload.HasCompleted("generate_modules"))
}

func TestJobCheckpoint_JSONRoundTrip(t *testing.T) {
	cp := JobCheckpoint{
		JobID:           "job-42",
		WorkflowType:    WorkflowBlueprint,
		Phase:           "plan_structure",
		Status:          StatusPaused,
		ProgressPercent: 50,
		ProgressMessage: "paused by operator",
		State:           NewStatePayload(),
	}

	raw, err := json.Marshal(cp)
	require.NoError(t, err)

	var decoded JobCheckpoint
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, cp.JobID, decoded.JobID)
	assert.Equal(t, StatusPaused, decoded.Status)
	assert.Equal(t, StateSchemaVersion, decoded.State.SchemaVersion)
}

// =============================================================================
// PipelineEvent Builder Tests
// =============================================================================

func TestNewPipelineEvent_Builders(t *testing.T) {
	ev := NewPipelineEvent(EventProgress).
		WithPhase("generate_modules").
		WithPercent(75).
		WithMessage("generating modules")

	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, Phase("generate_modules"), ev.Phase)
	assert.Equal(t, 75, ev.Percent)
	assert.Equal(t, "generating modules", ev.Message)
}

func TestPipelineEvent_WithPercent_Clamps(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"negative", -5, 0},
		{"zero", 0, 0},
		{"valid", 55, 55},
		{"over", 140, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewPipelineEvent(EventProgress).WithPercent(tt.in)
			assert.Equal(t, tt.want, ev.Percent)
		})
	}
}

func TestPipelineEvent_WithPayload(t *testing.T) {
	summary := FanOutSummary{Total: 3, Succeeded: 2, Failed: 1,
		Errors: []FanOutError{{Index: 1, Message: "timeout"}}}

	ev := NewPipelineEvent(EventModulesGenerated).WithPayload(summary)
	require.NotEmpty(t, ev.Payload)

	var decoded FanOutSummary
	require.NoError(t, json.Unmarshal(ev.Payload, &decoded))
	assert.Equal(t, summary, decoded)
}

func TestPipelineEvent_WithPayload_Unmarshalable(t *testing.T) {
	ev := NewPipelineEvent(EventComplete).WithPayload(func() {})
	assert.Empty(t, ev.Payload)
}
