// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"sync"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

// subscriberBuffer bounds how far a websocket subscriber may lag. A
// subscriber that falls further behind is dropped rather than allowed
// to stall the run.
const subscriberBuffer = 64

// Broadcaster fans run events out to websocket subscribers. The SSE
// pump remains the primary, backpressured consumer; subscribers are
// best-effort listeners keyed by (job_id, workflow).
//
// # Thread Safety
//
// Safe for concurrent use.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan datatypes.PipelineEvent]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[chan datatypes.PipelineEvent]struct{}),
	}
}

func subKey(jobID string, workflow datatypes.WorkflowType) string {
	return jobID + "/" + string(workflow)
}

// Subscribe registers a listener for one run key. The returned cancel
// function must be called when the listener is done; it closes the
// channel.
func (b *Broadcaster) Subscribe(jobID string, workflow datatypes.WorkflowType) (<-chan datatypes.PipelineEvent, func()) {
	ch := make(chan datatypes.PipelineEvent, subscriberBuffer)
	k := subKey(jobID, workflow)

	b.mu.Lock()
	if b.subs[k] == nil {
		b.subs[k] = make(map[chan datatypes.PipelineEvent]struct{})
	}
	b.subs[k][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[k]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, k)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its run key.
// Subscribers with a full buffer are dropped on the spot.
func (b *Broadcaster) Publish(event datatypes.PipelineEvent) {
	k := subKey(event.JobID, event.Workflow)

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[k]
	if !ok {
		return
	}
	for ch := range set {
		select {
		case ch <- event:
		default:
			delete(set, ch)
			close(ch)
		}
	}
	if len(set) == 0 {
		delete(b.subs, k)
	}
}

// CloseRun closes every subscriber of the run key, signalling that no
// further events will arrive.
func (b *Broadcaster) CloseRun(jobID string, workflow datatypes.WorkflowType) {
	k := subKey(jobID, workflow)

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[k] {
		close(ch)
	}
	delete(b.subs, k)
}
