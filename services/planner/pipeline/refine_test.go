// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

func constScore(overall float64) EvaluateFunc[string] {
	return func(ctx context.Context, candidate string) (datatypes.QualityScore, error) {
		return datatypes.QualityScore{Overall: overall, Issues: []string{"too vague"}}, nil
	}
}

func TestRefine_AcceptsFirstCandidate(t *testing.T) {
	refineCalls := 0

	outcome, err := Refine(context.Background(),
		RefineConfig{Threshold: 0.8, MaxRounds: 3},
		func(ctx context.Context) (string, error) { return "draft", nil },
		constScore(0.9),
		func(ctx context.Context, c string, s datatypes.QualityScore) (string, error) {
			refineCalls++
			return c + "+", nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, "draft", outcome.Candidate)
	assert.Equal(t, 0, outcome.Rounds)
	assert.Equal(t, 0, refineCalls)
	assert.True(t, outcome.MetThreshold)
	assert.Equal(t, 0.9, outcome.FinalScore.Overall)
}

// TestRefine_ExhaustsRounds drives the loop with a score that never
// clears the threshold and verifies exactly MaxRounds refinements run
// and the outcome reports the shortfall without erroring.
func TestRefine_ExhaustsRounds(t *testing.T) {
	refineCalls := 0
	var rounds []int

	outcome, err := Refine(context.Background(),
		RefineConfig{
			Threshold: 0.8,
			MaxRounds: 3,
			OnEvaluated: func(s datatypes.QualityScore) {
				rounds = append(rounds, s.Round)
			},
		},
		func(ctx context.Context) (string, error) { return "draft", nil },
		constScore(0.5),
		func(ctx context.Context, c string, s datatypes.QualityScore) (string, error) {
			refineCalls++
			return c + "+", nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 3, refineCalls)
	assert.Equal(t, 3, outcome.Rounds)
	assert.False(t, outcome.MetThreshold)
	assert.Equal(t, 0.5, outcome.FinalScore.Overall)
	assert.Equal(t, []int{0, 1, 2, 3}, rounds)
	// Each round refined the previous round's candidate.
	assert.Equal(t, "draft+++", outcome.Candidate)
}

func TestRefine_StopsWhenThresholdMet(t *testing.T) {
	scores := []float64{0.4, 0.6, 0.85}
	call := 0

	outcome, err := Refine(context.Background(),
		RefineConfig{Threshold: 0.8, MaxRounds: 5},
		func(ctx context.Context) (string, error) { return "v0", nil },
		func(ctx context.Context, c string) (datatypes.QualityScore, error) {
			s := datatypes.QualityScore{Overall: scores[call]}
			call++
			return s, nil
		},
		func(ctx context.Context, c string, s datatypes.QualityScore) (string, error) {
			return c + "+", nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Rounds)
	assert.True(t, outcome.MetThreshold)
	assert.Equal(t, "v0++", outcome.Candidate)
	assert.Equal(t, 0.4, outcome.InitialScore.Overall)
	assert.Equal(t, 0.85, outcome.FinalScore.Overall)
}

// TestRefine_ReturnsLatestCandidate verifies the round cap terminates
// the loop unconditionally: the final refinement stands with its own
// score, even when it regressed on an earlier round.
func TestRefine_ReturnsLatestCandidate(t *testing.T) {
	scores := []float64{0.6, 0.7, 0.5}
	call := 0

	outcome, err := Refine(context.Background(),
		RefineConfig{Threshold: 0.9, MaxRounds: 2},
		func(ctx context.Context) (string, error) { return "v0", nil },
		func(ctx context.Context, c string) (datatypes.QualityScore, error) {
			s := datatypes.QualityScore{Overall: scores[call]}
			call++
			return s, nil
		},
		func(ctx context.Context, c string, s datatypes.QualityScore) (string, error) {
			return c + "+", nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, "v0++", outcome.Candidate)
	assert.Equal(t, 0.6, outcome.InitialScore.Overall)
	assert.Equal(t, 0.5, outcome.FinalScore.Overall)
	assert.Equal(t, 2, outcome.Rounds)
	assert.False(t, outcome.MetThreshold)
}

func TestRefine_GenerateError(t *testing.T) {
	boom := errors.New("backend down")

	_, err := Refine(context.Background(),
		RefineConfig{Threshold: 0.8, MaxRounds: 3},
		func(ctx context.Context) (string, error) { return "", boom },
		constScore(0.5),
		func(ctx context.Context, c string, s datatypes.QualityScore) (string, error) {
			return c, nil
		},
	)
	assert.ErrorIs(t, err, boom)
}

// TestRefine_RefineErrorSurfaces verifies a failed refinement call is
// an error like any other collaborator failure, not a silent stop.
func TestRefine_RefineErrorSurfaces(t *testing.T) {
	boom := errors.New("refine backend down")

	_, err := Refine(context.Background(),
		RefineConfig{Threshold: 0.8, MaxRounds: 3},
		func(ctx context.Context) (string, error) { return "draft", nil },
		constScore(0.5),
		func(ctx context.Context, c string, s datatypes.QualityScore) (string, error) {
			return "", boom
		},
	)

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "refine round 1")
}

func TestRefine_ZeroMaxRounds(t *testing.T) {
	refineCalls := 0

	outcome, err := Refine(context.Background(),
		RefineConfig{Threshold: 0.99, MaxRounds: 0},
		func(ctx context.Context) (string, error) { return "draft", nil },
		constScore(0.1),
		func(ctx context.Context, c string, s datatypes.QualityScore) (string, error) {
			refineCalls++
			return c, nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 0, refineCalls)
	assert.False(t, outcome.MetThreshold)
	assert.Equal(t, "draft", outcome.Candidate)
}
