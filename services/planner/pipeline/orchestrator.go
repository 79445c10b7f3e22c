// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftforge/draftforge/services/planner/checkpoint"
	"github.com/draftforge/draftforge/services/planner/datatypes"
)

var tracer = otel.Tracer("draftforge.planner.pipeline")

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrRunActive indicates another run for the same (job, workflow)
	// is already executing in this process.
	ErrRunActive = errors.New("pipeline run already active for this job and workflow")

	// ErrUnknownPhase indicates a stored checkpoint references phases
	// the current phase list does not contain in the same order. The
	// checkpoint must be cleared before the job can run again.
	ErrUnknownPhase = errors.New("checkpoint references unknown or reordered phase")

	// ErrPaused is returned when a run stops at a phase boundary
	// because a pause was requested. The checkpoint remains resumable.
	ErrPaused = errors.New("pipeline run paused")

	// ErrNoPhases indicates an empty phase list.
	ErrNoPhases = errors.New("workflow has no phases")
)

// =============================================================================
// Phase definitions
// =============================================================================

// RunContext is handed to every phase body.
type RunContext struct {
	JobID    string
	Workflow datatypes.WorkflowType

	// State is the live resumable snapshot. Phases read prior phases'
	// outputs from it and write their own via PutData; the orchestrator
	// persists it at every phase boundary.
	State *datatypes.StatePayload

	// Inputs is the request body that started the run, available to
	// every phase.
	Inputs json.RawMessage

	// Admission is the process-wide concurrency limiter. Phases pass it
	// to fan-out scheduling or acquire it directly around single calls.
	Admission *Admission

	Logger *slog.Logger

	stream *Stream
}

// Emit sends an event on the run's progress stream with the job and
// workflow fields filled in.
func (rc *RunContext) Emit(ctx context.Context, event datatypes.PipelineEvent) error {
	event.JobID = rc.JobID
	event.Workflow = rc.Workflow
	return rc.stream.Emit(ctx, event)
}

// PhaseFunc is the body of one pipeline phase. A returned error pauses
// the run at this phase; the phase is not recorded as completed and
// re-runs on resume. Phase bodies must be idempotent for that reason.
type PhaseFunc func(ctx context.Context, rc *RunContext) error

// PhaseDef declares one ordered phase of a workflow.
type PhaseDef struct {
	// Name is the phase identifier stored in checkpoints and events.
	Name datatypes.Phase

	// Percent is the overall progress when this phase completes. Zero
	// means "spread evenly across the phase list".
	Percent int

	// Message describes the phase for progress events.
	Message string

	Run PhaseFunc
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator executes workflows as resumable phase state machines:
// run each phase in order, checkpoint after every success, pause on
// failure or explicit request, resume past completed phases, delete the
// checkpoint on full success.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent Execute calls for the same
// (job, workflow) pair are rejected with ErrRunActive; distinct pairs
// run independently.
type Orchestrator struct {
	store     *checkpoint.Store
	admission *Admission
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// NewOrchestrator wires the orchestrator to its durable store and the
// shared admission instance.
func NewOrchestrator(store *checkpoint.Store, admission *Admission, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		admission: admission,
		logger:    logger,
		active:    make(map[string]bool),
	}
}

func runKey(jobID string, workflow datatypes.WorkflowType) string {
	return jobID + "/" + string(workflow)
}

// tryClaim registers an in-process run for the pair. Badger gives us
// durable state but no cross-goroutine exclusion, so the claim map is
// what prevents two handlers from running the same job concurrently.
func (o *Orchestrator) tryClaim(jobID string, workflow datatypes.WorkflowType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := runKey(jobID, workflow)
	if o.active[k] {
		return false
	}
	o.active[k] = true
	return true
}

func (o *Orchestrator) releaseClaim(jobID string, workflow datatypes.WorkflowType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, runKey(jobID, workflow))
}

// IsActive reports whether a run for the pair is executing in this
// process.
func (o *Orchestrator) IsActive(jobID string, workflow datatypes.WorkflowType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[runKey(jobID, workflow)]
}

// Execute runs the workflow's phases for jobID, resuming from a stored
// checkpoint when one exists. Events are emitted on stream throughout;
// the stream is closed before Execute returns.
//
// Terminal behavior:
//   - success: checkpoint deleted, EventComplete emitted, nil returned
//   - phase failure: checkpoint saved paused at the failing phase,
//     EventError emitted, the phase error returned
//   - pause observed at a boundary: checkpoint left paused, ErrPaused
//     returned
func (o *Orchestrator) Execute(
	ctx context.Context,
	jobID string,
	workflow datatypes.WorkflowType,
	phases []PhaseDef,
	inputs json.RawMessage,
	stream *Stream,
) (err error) {
	defer stream.Close()

	if len(phases) == 0 {
		return ErrNoPhases
	}
	if !o.tryClaim(jobID, workflow) {
		return ErrRunActive
	}
	defer o.releaseClaim(jobID, workflow)

	ctx, span := tracer.Start(ctx, "pipeline.Execute", trace.WithAttributes(
		attribute.String("job_id", jobID),
		attribute.String("workflow", string(workflow)),
	))
	defer span.End()

	logger := o.logger.With("job_id", jobID, "workflow", workflow)

	state, startIdx, err := o.loadOrInit(ctx, jobID, workflow, phases)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.emitError(ctx, stream, jobID, workflow, "", err)
		runsTotal.WithLabelValues(string(workflow), "failed").Inc()
		return err
	}
	if startIdx > 0 {
		logger.Info("resuming from checkpoint",
			"completed_phases", len(state.CompletedPhases),
			"next_phase", phases[startIdx].Name,
		)
	}

	rc := &RunContext{
		JobID:     jobID,
		Workflow:  workflow,
		State:     &state,
		Inputs:    inputs,
		Admission: o.admission,
		Logger:    logger,
		stream:    stream,
	}

	for i := startIdx; i < len(phases); i++ {
		phase := phases[i]

		// Pause requests land in the stored row; observe them here so
		// a pause takes effect at the next boundary, never mid-phase.
		if i > startIdx {
			if paused, perr := o.pauseRequested(ctx, jobID, workflow); perr == nil && paused {
				logger.Info("pause observed at phase boundary", "phase", phase.Name)
				_ = rc.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress).
					WithPhase(phase.Name).
					WithPercent(phasePercent(phases, i-1)).
					WithMessage("run paused"))
				runsTotal.WithLabelValues(string(workflow), "paused").Inc()
				return ErrPaused
			}
		}

		percent := phasePercent(phases, i)
		startPercent := phasePercent(phases, i-1)

		// The run's first write forces status running: restarting a
		// paused job is an implicit resume. Later writes go through
		// SaveProgress so they cannot erase a pause requested since the
		// boundary check above.
		var saveErr error
		if i == startIdx {
			_, saveErr = o.store.Save(ctx, jobID, workflow, phase.Name, state,
				startPercent, phase.Message, datatypes.StatusRunning)
		} else {
			_, saveErr = o.store.SaveProgress(ctx, jobID, workflow, phase.Name, state,
				startPercent, phase.Message)
		}
		if saveErr != nil {
			span.SetStatus(codes.Error, saveErr.Error())
			o.emitError(ctx, stream, jobID, workflow, phase.Name, saveErr)
			runsTotal.WithLabelValues(string(workflow), "failed").Inc()
			return saveErr
		}

		_ = rc.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress).
			WithPhase(phase.Name).
			WithPercent(startPercent).
			WithMessage(phase.Message))

		phaseStart := time.Now()
		err := o.runPhase(ctx, phase, rc)
		if err != nil {
			phaseDurationSeconds.WithLabelValues(string(workflow), string(phase.Name), "failed").
				Observe(time.Since(phaseStart).Seconds())
			logger.Error("phase failed", "phase", phase.Name, "error", err)
			span.SetStatus(codes.Error, err.Error())

			// Persist the failure even when ctx is already dead so the
			// job stays resumable.
			state.Error = err.Error()
			saveCtx := context.WithoutCancel(ctx)
			if _, serr := o.store.Save(saveCtx, jobID, workflow, phase.Name, state,
				startPercent, fmt.Sprintf("failed in %s: %v", phase.Name, err),
				datatypes.StatusPaused); serr != nil {
				logger.Error("failed to checkpoint failure", "error", serr)
			}

			o.emitError(ctx, stream, jobID, workflow, phase.Name, err)
			runsTotal.WithLabelValues(string(workflow), "failed").Inc()
			return err
		}

		phaseDurationSeconds.WithLabelValues(string(workflow), string(phase.Name), "ok").
			Observe(time.Since(phaseStart).Seconds())

		state.CompletedPhases = append(state.CompletedPhases, phase.Name)
		state.Error = ""
		// SaveProgress keeps a pause that arrived while the phase ran, so
		// the next boundary check observes it.
		if _, err := o.store.SaveProgress(ctx, jobID, workflow, phase.Name, state,
			percent, phase.Message+" complete"); err != nil {
			span.SetStatus(codes.Error, err.Error())
			o.emitError(ctx, stream, jobID, workflow, phase.Name, err)
			runsTotal.WithLabelValues(string(workflow), "failed").Inc()
			return err
		}

		_ = rc.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress).
			WithPhase(phase.Name).
			WithPercent(percent).
			WithMessage(phase.Message+" complete"))

		logger.Info("phase complete",
			"phase", phase.Name,
			"percent", percent,
			"duration_ms", time.Since(phaseStart).Milliseconds(),
		)
	}

	// Successful runs leave no checkpoint behind.
	if _, err := o.store.Delete(context.WithoutCancel(ctx), jobID, workflow); err != nil {
		logger.Error("failed to delete checkpoint after completion", "error", err)
	}

	complete := datatypes.NewPipelineEvent(datatypes.EventComplete).
		WithPercent(100).
		WithMessage("pipeline complete")
	if result, ok := state.Data["result"]; ok {
		complete.Payload = result
	}
	_ = rc.Emit(ctx, complete)

	runsTotal.WithLabelValues(string(workflow), "completed").Inc()
	logger.Info("pipeline complete")
	return nil
}

// loadOrInit returns the run state and the index of the first phase to
// execute. A missing checkpoint starts fresh; a stored one resumes
// after validating that its completed phases are a prefix of the
// current phase list.
func (o *Orchestrator) loadOrInit(
	ctx context.Context,
	jobID string,
	workflow datatypes.WorkflowType,
	phases []PhaseDef,
) (datatypes.StatePayload, int, error) {
	cp, err := o.store.GetActive(ctx, jobID, workflow)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return datatypes.NewStatePayload(), 0, nil
	}
	if err != nil {
		return datatypes.StatePayload{}, 0, err
	}

	completed := cp.State.CompletedPhases
	if len(completed) > len(phases) {
		return datatypes.StatePayload{}, 0, fmt.Errorf("%w: %d completed phases, workflow has %d",
			ErrUnknownPhase, len(completed), len(phases))
	}
	for i, name := range completed {
		if phases[i].Name != name {
			return datatypes.StatePayload{}, 0, fmt.Errorf("%w: stored %q at position %d, expected %q",
				ErrUnknownPhase, name, i, phases[i].Name)
		}
	}

	state := cp.State
	// A restart is an implicit resume; stale pause markers would stop
	// the run at the first boundary check.
	state.PauseReason = ""
	state.Error = ""
	return state, len(completed), nil
}

// pauseRequested reloads the stored row and reports whether its status
// flipped to paused since the run last wrote it.
func (o *Orchestrator) pauseRequested(ctx context.Context, jobID string, workflow datatypes.WorkflowType) (bool, error) {
	cp, err := o.store.GetActive(ctx, jobID, workflow)
	if err != nil {
		return false, err
	}
	return cp.Status == datatypes.StatusPaused, nil
}

// runPhase invokes the phase body, converting panics into errors so a
// buggy phase pauses its own job instead of killing the process.
func (o *Orchestrator) runPhase(ctx context.Context, phase PhaseDef, rc *RunContext) (err error) {
	ctx, span := tracer.Start(ctx, "pipeline.phase", trace.WithAttributes(
		attribute.String("phase", string(phase.Name)),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			rc.Logger.Error("phase panicked",
				"phase", phase.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("phase %s panicked: %v", phase.Name, r)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return phase.Run(ctx, rc)
}

func (o *Orchestrator) emitError(
	ctx context.Context,
	stream *Stream,
	jobID string,
	workflow datatypes.WorkflowType,
	phase datatypes.Phase,
	cause error,
) {
	ev := datatypes.NewPipelineEvent(datatypes.EventError).
		WithPhase(phase).
		WithError(cause.Error())
	ev.JobID = jobID
	ev.Workflow = workflow

	// Best effort: the consumer may already be gone. Bounded wait so a
	// full buffer cannot wedge the run's teardown.
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	_ = stream.Emit(emitCtx, ev)
}

// phasePercent returns overall progress after phase i completes. An
// index of -1 means "nothing done yet". Explicit PhaseDef.Percent wins;
// otherwise progress is spread evenly.
func phasePercent(phases []PhaseDef, i int) int {
	if i < 0 {
		return 0
	}
	if i >= len(phases) {
		i = len(phases) - 1
	}
	if p := phases[i].Percent; p > 0 {
		return p
	}
	return (i + 1) * 100 / len(phases)
}
