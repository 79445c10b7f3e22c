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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

func TestStream_OrderPreserved(t *testing.T) {
	stream := NewStream(8)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := datatypes.NewPipelineEvent(datatypes.EventProgress).
			WithMessage(fmt.Sprintf("event-%d", i))
		require.NoError(t, stream.Emit(ctx, ev))
	}
	stream.Close()

	var got []string
	for ev := range stream.Events() {
		got = append(got, ev.Message)
	}
	assert.Equal(t, []string{"event-0", "event-1", "event-2", "event-3", "event-4"}, got)
}

// TestStream_Backpressure verifies the producer blocks once the buffer
// is full instead of accumulating unbounded memory.
func TestStream_Backpressure(t *testing.T) {
	stream := NewStream(2)
	ctx := context.Background()

	require.NoError(t, stream.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress)))
	require.NoError(t, stream.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress)))

	blocked := make(chan error, 1)
	go func() {
		blocked <- stream.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress))
	}()

	select {
	case <-blocked:
		t.Fatal("Emit should block on a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	// Draining one event unblocks the producer.
	<-stream.Events()
	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Emit did not unblock after consumer drained")
	}
}

func TestStream_Emit_ConsumerGone(t *testing.T) {
	stream := NewStream(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, stream.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress)))

	cancel()
	err := stream.Emit(ctx, datatypes.NewPipelineEvent(datatypes.EventProgress))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_Close_Idempotent(t *testing.T) {
	stream := NewStream(1)
	stream.Close()
	assert.NotPanics(t, func() { stream.Close() })

	_, open := <-stream.Events()
	assert.False(t, open)
}
