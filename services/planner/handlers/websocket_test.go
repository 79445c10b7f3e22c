// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func subscriberCount(b *Broadcaster, jobID string, wf datatypes.WorkflowType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[subKey(jobID, wf)])
}

func TestStreamEvents_DeliversRunEvents(t *testing.T) {
	stack := newTestStack(t, okBackend)
	srv := httptest.NewServer(stack.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "/v1/pipelines/job-ws/events/ws?workflow=module_batch"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Publishing before the handler has registered its subscription
	// would silently drop the event.
	broadcaster := stack.handler.broadcaster
	require.Eventually(t, func() bool {
		return subscriberCount(broadcaster, "job-ws", datatypes.WorkflowModuleBatch) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent := []datatypes.PipelineEvent{
		{Type: datatypes.EventProgress, JobID: "job-ws",
			Workflow: datatypes.WorkflowModuleBatch, Percent: 10, Message: "preparing batch"},
		{Type: datatypes.EventComplete, JobID: "job-ws",
			Workflow: datatypes.WorkflowModuleBatch, Percent: 100, Message: "batch complete"},
	}
	for _, ev := range sent {
		broadcaster.Publish(ev)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range sent {
		var got datatypes.PipelineEvent
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Percent, got.Percent)
		assert.Equal(t, want.Message, got.Message)
		assert.Positive(t, got.CreatedAt)
		// The hash chain is an SSE-only property.
		assert.Empty(t, got.Hash)
	}

	// Ending the run closes the feed with a normal-closure frame.
	broadcaster.CloseRun("job-ws", datatypes.WorkflowModuleBatch)
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"expected normal closure, got: %v", err)
}

func TestStreamEvents_RejectsUnknownWorkflow(t *testing.T) {
	stack := newTestStack(t, okBackend)
	srv := httptest.NewServer(stack.router)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "/v1/pipelines/job-ws/events/ws?workflow=launch_rockets"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
