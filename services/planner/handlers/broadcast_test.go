// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

func testEvent(jobID string, wf datatypes.WorkflowType, msg string) datatypes.PipelineEvent {
	ev := datatypes.NewPipelineEvent(datatypes.EventProgress).WithMessage(msg)
	ev.JobID = jobID
	ev.Workflow = wf
	return ev
}

func TestBroadcaster_PublishToSubscribers(t *testing.T) {
	b := NewBroadcaster()

	ch1, cancel1 := b.Subscribe("job-1", datatypes.WorkflowBlueprint)
	ch2, cancel2 := b.Subscribe("job-1", datatypes.WorkflowBlueprint)
	defer cancel1()
	defer cancel2()

	other, cancelOther := b.Subscribe("job-2", datatypes.WorkflowBlueprint)
	defer cancelOther()

	b.Publish(testEvent("job-1", datatypes.WorkflowBlueprint, "hello"))

	assert.Equal(t, "hello", (<-ch1).Message)
	assert.Equal(t, "hello", (<-ch2).Message)
	select {
	case ev := <-other:
		t.Fatalf("subscriber of another run received %+v", ev)
	default:
	}
}

func TestBroadcaster_KeyedByWorkflow(t *testing.T) {
	b := NewBroadcaster()

	bp, cancelBP := b.Subscribe("job-1", datatypes.WorkflowBlueprint)
	defer cancelBP()
	mb, cancelMB := b.Subscribe("job-1", datatypes.WorkflowModuleBatch)
	defer cancelMB()

	b.Publish(testEvent("job-1", datatypes.WorkflowModuleBatch, "batch"))

	assert.Equal(t, "batch", (<-mb).Message)
	select {
	case <-bp:
		t.Fatal("blueprint subscriber received module_batch event")
	default:
	}
}

// TestBroadcaster_SlowSubscriberDropped verifies a subscriber that
// stops reading is disconnected instead of blocking Publish.
func TestBroadcaster_SlowSubscriberDropped(t *testing.T) {
	b := NewBroadcaster()

	ch, cancel := b.Subscribe("job-1", datatypes.WorkflowBlueprint)
	defer cancel()

	// Fill the buffer plus one; the overflow publish drops and closes.
	for i := 0; i <= subscriberBuffer; i++ {
		b.Publish(testEvent("job-1", datatypes.WorkflowBlueprint, "ev"))
	}

	received := 0
	for range ch {
		received++
	}
	assert.Equal(t, subscriberBuffer, received)

	// cancel after the drop must not panic (double close guard).
	assert.NotPanics(t, cancel)
}

func TestBroadcaster_CloseRun(t *testing.T) {
	b := NewBroadcaster()

	ch, cancel := b.Subscribe("job-1", datatypes.WorkflowBlueprint)
	defer cancel()

	b.CloseRun("job-1", datatypes.WorkflowBlueprint)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after close is a no-op.
	require.NotPanics(t, func() {
		b.Publish(testEvent("job-1", datatypes.WorkflowBlueprint, "late"))
	})
}
