// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the planner's HTTP control surface: run
// start with SSE streaming, pause, status, clear and the websocket
// event feed.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/draftforge/draftforge/services/planner/checkpoint"
	"github.com/draftforge/draftforge/services/planner/datatypes"
	"github.com/draftforge/draftforge/services/planner/pipeline"
	"github.com/draftforge/draftforge/services/planner/workflow"
)

const keepAliveInterval = 15 * time.Second

// PipelineHandler serves the pipeline control surface.
type PipelineHandler struct {
	store       *checkpoint.Store
	orch        *pipeline.Orchestrator
	builder     *workflow.Builder
	broadcaster *Broadcaster
	logger      *slog.Logger

	// streamCapacity sizes the per-run event buffer.
	streamCapacity int
}

// NewPipelineHandler wires the handler to its collaborators.
func NewPipelineHandler(
	store *checkpoint.Store,
	orch *pipeline.Orchestrator,
	builder *workflow.Builder,
	broadcaster *Broadcaster,
	logger *slog.Logger,
	streamCapacity int,
) *PipelineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster()
	}
	return &PipelineHandler{
		store:          store,
		orch:           orch,
		builder:        builder,
		broadcaster:    broadcaster,
		logger:         logger,
		streamCapacity: streamCapacity,
	}
}

// workflowParam resolves the workflow query parameter. Defaults to
// blueprint; unknown types are rejected before any work starts.
func (h *PipelineHandler) workflowParam(c *gin.Context) (datatypes.WorkflowType, bool) {
	wf := datatypes.WorkflowType(c.DefaultQuery("workflow", string(datatypes.WorkflowBlueprint)))
	if !h.builder.Known(wf) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown workflow type: " + string(wf)})
		return "", false
	}
	return wf, true
}

// validateInputs parses and validates the request body for the
// workflow. An empty body is allowed only when a resumable checkpoint
// already exists (the stored snapshot carries the original inputs).
func (h *PipelineHandler) validateInputs(c *gin.Context, jobID string, wf datatypes.WorkflowType) (json.RawMessage, bool) {
	var raw json.RawMessage
	if err := c.ShouldBindBodyWith(&raw, binding.JSON); err != nil || len(raw) == 0 {
		if _, gerr := h.store.GetActive(c.Request.Context(), jobID, wf); gerr == nil {
			return nil, true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body required to start a new run"})
		return nil, false
	}

	switch wf {
	case datatypes.WorkflowBlueprint:
		var req datatypes.BlueprintRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid blueprint request: " + err.Error()})
			return nil, false
		}
	case datatypes.WorkflowModuleBatch:
		var req datatypes.ModuleBatchRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid module batch request: " + err.Error()})
			return nil, false
		}
	}
	return raw, true
}

// StartPipeline runs (or resumes) a pipeline and streams its events as
// SSE until the run reaches a terminal state.
//
// POST /v1/pipelines/:jobId/start?workflow=blueprint
func (h *PipelineHandler) StartPipeline(c *gin.Context) {
	jobID := c.Param("jobId")
	wf, ok := h.workflowParam(c)
	if !ok {
		return
	}

	if h.orch.IsActive(jobID, wf) {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already active for this job and workflow"})
		return
	}

	inputs, ok := h.validateInputs(c, jobID, wf)
	if !ok {
		return
	}

	phases, err := h.builder.Phases(wf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	stream := pipeline.NewStream(h.streamCapacity)

	execDone := make(chan error, 1)
	go func() {
		execDone <- h.orch.Execute(ctx, jobID, wf, phases, inputs, stream)
	}()

	// Pump: forward events to the SSE client and the websocket feed,
	// pinging through quiet stretches.
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	defer h.broadcaster.CloseRun(jobID, wf)

	for {
		select {
		case ev, open := <-stream.Events():
			if !open {
				if err := <-execDone; err != nil &&
					!errors.Is(err, pipeline.ErrPaused) && ctx.Err() == nil {
					h.logger.Error("pipeline run failed",
						"job_id", jobID, "workflow", wf, "error", err)
				}
				return
			}
			h.broadcaster.Publish(ev)
			if err := writer.WriteEvent(ev); err != nil {
				// Client gone. The request context cancels, the run
				// pauses at its next cancellation point and stays
				// resumable; drain what it emits on the way down.
				h.logger.Info("SSE client disconnected",
					"job_id", jobID, "workflow", wf, "error", err)
				h.drain(stream)
				<-execDone
				return
			}
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.drain(stream)
				<-execDone
				return
			}
		}
	}
}

// drain consumes remaining events so the producer never blocks on a
// departed client, still feeding the websocket subscribers.
func (h *PipelineHandler) drain(stream *pipeline.Stream) {
	for ev := range stream.Events() {
		h.broadcaster.Publish(ev)
	}
}

// RequestPause marks the stored checkpoint paused. The running
// pipeline observes it at its next phase boundary.
//
// POST /v1/pipelines/:jobId/pause?workflow=
func (h *PipelineHandler) RequestPause(c *gin.Context) {
	jobID := c.Param("jobId")
	wf, ok := h.workflowParam(c)
	if !ok {
		return
	}

	var req datatypes.PauseRequest
	_ = c.ShouldBindJSON(&req) // body optional

	err := h.store.RequestPause(c.Request.Context(), jobID, wf, req.Reason)
	if errors.Is(err, checkpoint.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no checkpoint for this job and workflow"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   jobID,
		"workflow": wf,
		"status":   datatypes.StatusPaused,
	})
}

// GetStatus reports the stored disposition of a job.
//
// GET /v1/pipelines/:jobId/status?workflow=
func (h *PipelineHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("jobId")
	wf, ok := h.workflowParam(c)
	if !ok {
		return
	}

	resp := datatypes.StatusResponse{JobID: jobID, Workflow: wf}

	cp, err := h.store.GetActive(c.Request.Context(), jobID, wf)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		c.JSON(http.StatusOK, resp)
		return
	case errors.Is(err, checkpoint.ErrSchemaVersion):
		c.JSON(http.StatusConflict, gin.H{
			"error": "stored checkpoint uses an unsupported schema version; clear the job to restart",
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp.HasCheckpoint = true
	resp.HasPaused = cp.Status == datatypes.StatusPaused
	resp.Phase = cp.Phase
	resp.Status = cp.Status
	resp.Percent = cp.ProgressPercent
	resp.Message = cp.ProgressMessage
	c.JSON(http.StatusOK, resp)
}

// Clear deletes the stored checkpoint. Idempotent; clearing an
// actively-running job is rejected.
//
// DELETE /v1/pipelines/:jobId?workflow=
func (h *PipelineHandler) Clear(c *gin.Context) {
	jobID := c.Param("jobId")
	wf, ok := h.workflowParam(c)
	if !ok {
		return
	}

	if h.orch.IsActive(jobID, wf) {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot clear while a run is active; pause it first"})
		return
	}

	if _, err := h.store.Delete(c.Request.Context(), jobID, wf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Health reports liveness.
//
// GET /health
func (h *PipelineHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
