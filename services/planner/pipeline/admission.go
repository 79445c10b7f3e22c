// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements the staged generation pipeline core:
// concurrency admission, fan-out scheduling, the quality refinement
// loop, the ordered progress-event stream and the phase orchestrator.
//
// One Admission instance exists per process and is shared by every
// pipeline run; it is constructed at startup and passed by reference
// to the components that need it (never looked up globally).
package pipeline

import (
	"context"
	"sync"
	"time"
)

// Admission is a counting semaphore bounding concurrent calls into the
// external generative service across all jobs and all fan-out items.
//
// At no instant do more than Capacity holders exist. No fairness
// ordering is guaranteed beyond eventual admission of every waiter.
//
// Thread Safety: Safe for concurrent use.
type Admission struct {
	ch chan struct{}

	mu        sync.Mutex
	inFlight  int
	highWater int
}

// NewAdmission creates an Admission with the given capacity.
// Capacity values below 1 are clamped to 1.
func NewAdmission(capacity int) *Admission {
	if capacity <= 0 {
		capacity = 1
	}
	return &Admission{
		ch: make(chan struct{}, capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done.
//
// Every successful Acquire must be paired with exactly one Release on
// every exit path of the protected section, including error paths.
func (a *Admission) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case a.ch <- struct{}{}:
		admissionWaitSeconds.Observe(time.Since(start).Seconds())
		a.noteAcquire()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire acquires a slot without blocking.
func (a *Admission) TryAcquire() bool {
	select {
	case a.ch <- struct{}{}:
		a.noteAcquire()
		return true
	default:
		return false
	}
}

// Release returns a slot. Must be called exactly once after a
// successful Acquire/TryAcquire.
func (a *Admission) Release() {
	select {
	case <-a.ch:
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
		admissionInFlight.Dec()
	default:
		// Semaphore was empty - this is a bug in the caller
		panic("admission: release without acquire")
	}
}

// Capacity returns the configured slot count.
func (a *Admission) Capacity() int {
	return cap(a.ch)
}

// Available returns the number of free slots.
func (a *Admission) Available() int {
	return cap(a.ch) - len(a.ch)
}

// InFlight returns the number of currently held slots.
func (a *Admission) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

// HighWater returns the maximum number of slots ever held concurrently
// over the lifetime of this instance.
func (a *Admission) HighWater() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.highWater
}

func (a *Admission) noteAcquire() {
	a.mu.Lock()
	a.inFlight++
	if a.inFlight > a.highWater {
		a.highWater = a.inFlight
	}
	a.mu.Unlock()
	admissionInFlight.Inc()
}
