// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantErr bool
	}{
		{
			name: "bare json",
			raw:  `{"overall": 0.85, "dimensions": {"coherence": 0.9}, "issues": ["thin on risks"]}`,
			want: 0.85,
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"overall\": 0.7, \"issues\": []}\n```",
			want: 0.7,
		},
		{
			name: "prose preamble",
			raw:  `Here is my verdict: {"overall": 0.5, "issues": ["vague"]}`,
			want: 0.5,
		},
		{
			name:    "no json at all",
			raw:     "looks pretty good to me",
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `{"overall": "high"}`,
			wantErr: true,
		},
		{
			name: "score above range clamps to 1",
			raw:  `{"overall": 1.5}`,
			want: 1.0,
		},
		{
			name: "negative score clamps to 0",
			raw:  `{"overall": -0.1}`,
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := parseScore(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, score.Overall)
		})
	}
}

func TestLLMEvaluator_Evaluate(t *testing.T) {
	client := &fakeClient{respond: func(prompt string) (string, error) {
		assert.Contains(t, prompt, "project structure")
		return `{"overall": 0.75, "dimensions": {"completeness": 0.8}, "issues": ["missing data layer"]}`, nil
	}}

	score, err := NewLLMEvaluator(client).Evaluate(context.Background(), "project structure", "STRUCTURE")
	require.NoError(t, err)
	assert.Equal(t, 0.75, score.Overall)
	assert.Equal(t, 0.8, score.Dimensions["completeness"])
	assert.Equal(t, []string{"missing data layer"}, score.Issues)
}

func TestLLMEvaluator_GarbageVerdict(t *testing.T) {
	client := &fakeClient{respond: func(prompt string) (string, error) {
		return "ship it", nil
	}}

	_, err := NewLLMEvaluator(client).Evaluate(context.Background(), "project structure", "STRUCTURE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}
