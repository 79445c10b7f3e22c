// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"sync"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

// DefaultStreamCapacity bounds how far the producer may run ahead of a
// slow consumer before Emit blocks.
const DefaultStreamCapacity = 16

// Stream is the ordered, backpressured progress-event channel between
// one pipeline run (producer) and one consumer.
//
// Emit blocks once the buffer is full, so a stalled consumer stalls
// production with bounded memory. Events are delivered in emit order.
// The producer must Close the stream when the run ends so the consumer
// can drain and exit.
//
// # Thread Safety
//
// Emit is safe from multiple goroutines of one run (phase bodies and
// their fan-out callbacks). Close must happen after every Emit has
// returned; the orchestrator closes the stream when the run ends.
type Stream struct {
	ch        chan datatypes.PipelineEvent
	closeOnce sync.Once
}

// NewStream creates a Stream with the given buffer capacity.
// Capacities below 1 use DefaultStreamCapacity.
func NewStream(capacity int) *Stream {
	if capacity < 1 {
		capacity = DefaultStreamCapacity
	}
	return &Stream{
		ch: make(chan datatypes.PipelineEvent, capacity),
	}
}

// Emit queues one event, blocking when the consumer is behind. It
// returns ctx's error when the consumer's context ends first; the
// producer uses that to wind down without emitting further.
func (s *Stream) Emit(ctx context.Context, event datatypes.PipelineEvent) error {
	select {
	case s.ch <- event:
		eventsEmittedTotal.WithLabelValues(string(event.Type)).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the consumer side of the stream. The channel is
// closed when the producer calls Close.
func (s *Stream) Events() <-chan datatypes.PipelineEvent {
	return s.ch
}

// Close ends the stream. Idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
