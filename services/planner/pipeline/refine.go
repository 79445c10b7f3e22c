// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

// GenerateFunc produces the initial candidate artifact.
type GenerateFunc[T any] func(ctx context.Context) (T, error)

// EvaluateFunc scores a candidate. The score's Overall must be in [0, 1].
type EvaluateFunc[T any] func(ctx context.Context, candidate T) (datatypes.QualityScore, error)

// RefineFunc produces an improved candidate from the previous one and
// the issues the evaluator raised against it.
type RefineFunc[T any] func(ctx context.Context, candidate T, score datatypes.QualityScore) (T, error)

// RefineConfig tunes one quality loop.
type RefineConfig struct {
	// Threshold is the minimum acceptable Overall score. Candidates at
	// or above it are accepted without further refinement.
	Threshold float64

	// MaxRounds caps refinement attempts after the initial generation.
	// Values below zero are treated as zero (evaluate once, accept).
	MaxRounds int

	// OnEvaluated, when set, is called after every evaluation with the
	// round's score. Used to surface quality telemetry as events.
	OnEvaluated func(score datatypes.QualityScore)
}

// RefineOutcome is the result of one quality loop.
type RefineOutcome[T any] struct {
	// Candidate is the last artifact produced: the accepted one, or the
	// final refinement when the round budget ran out.
	Candidate T

	// InitialScore is the round-zero evaluation.
	InitialScore datatypes.QualityScore

	// FinalScore scored Candidate.
	FinalScore datatypes.QualityScore

	// Rounds is how many refinement rounds ran (0 when the initial
	// candidate was accepted outright).
	Rounds int

	// MetThreshold reports whether FinalScore cleared the threshold.
	MetThreshold bool
}

// Refine runs the generate -> evaluate -> refine loop: generate a
// candidate, score it, and while the score is below the threshold and
// rounds remain, feed the evaluator's issues back into a refinement
// pass and re-score. Each round refines the previous round's candidate,
// and the last candidate is returned with its score; MaxRounds is an
// unconditional terminator, so a round that regresses the score still
// stands. A below-threshold result is a quality signal, not an error.
//
// Errors from any collaborator abort the loop and surface to the
// caller; transient backend failures are the caller's to handle.
func Refine[T any](
	ctx context.Context,
	cfg RefineConfig,
	generate GenerateFunc[T],
	evaluate EvaluateFunc[T],
	refine RefineFunc[T],
) (RefineOutcome[T], error) {
	var outcome RefineOutcome[T]

	candidate, err := generate(ctx)
	if err != nil {
		return outcome, fmt.Errorf("generate: %w", err)
	}

	score, err := evaluate(ctx, candidate)
	if err != nil {
		return outcome, fmt.Errorf("evaluate round 0: %w", err)
	}
	score.Round = 0
	if cfg.OnEvaluated != nil {
		cfg.OnEvaluated(score)
	}

	outcome.Candidate = candidate
	outcome.InitialScore = score
	outcome.FinalScore = score

	for round := 1; score.Overall < cfg.Threshold && round <= cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		candidate, err = refine(ctx, candidate, score)
		if err != nil {
			return outcome, fmt.Errorf("refine round %d: %w", round, err)
		}

		score, err = evaluate(ctx, candidate)
		if err != nil {
			return outcome, fmt.Errorf("evaluate round %d: %w", round, err)
		}
		score.Round = round
		if cfg.OnEvaluated != nil {
			cfg.OnEvaluated(score)
		}

		outcome.Candidate = candidate
		outcome.FinalScore = score
		outcome.Rounds = round
	}

	outcome.MetThreshold = outcome.FinalScore.Overall >= cfg.Threshold

	refineRounds.Observe(float64(outcome.Rounds))
	return outcome, nil
}
