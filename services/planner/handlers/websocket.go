// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The planner sits behind the deployment's own ingress auth; no
	// origin restrictions at this layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamEvents serves the websocket event feed for one run key. It
// carries the same event envelope as the SSE stream, for consumers
// that cannot hold an SSE response open. Subscribers are best-effort:
// a reader that lags too far behind is disconnected.
//
// GET /v1/pipelines/:jobId/events/ws?workflow=
func (h *PipelineHandler) StreamEvents(c *gin.Context) {
	jobID := c.Param("jobId")
	wf, ok := h.workflowParam(c)
	if !ok {
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Info("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.broadcaster.Subscribe(jobID, wf)
	defer cancel()

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice closes and to process control frames.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				// Run ended (or we were dropped as a slow reader).
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
					deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsEnvelope(ev)); err != nil {
				h.logger.Info("websocket client write failed",
					"job_id", jobID, "workflow", wf, "error", err)
				return
			}
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// wsEnvelope stamps per-delivery metadata. The hash chain is omitted
// on the websocket feed: subscribers can join mid-run, so a chain
// anchored at the first event cannot be offered to them.
func wsEnvelope(ev datatypes.PipelineEvent) datatypes.PipelineEvent {
	ev.CreatedAt = time.Now().UnixMilli()
	return ev
}
