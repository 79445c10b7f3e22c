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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdmission_ClampsCapacity(t *testing.T) {
	assert.Equal(t, 1, NewAdmission(0).Capacity())
	assert.Equal(t, 1, NewAdmission(-3).Capacity())
	assert.Equal(t, 5, NewAdmission(5).Capacity())
}

func TestAdmission_AcquireRelease(t *testing.T) {
	adm := NewAdmission(2)
	ctx := context.Background()

	require.NoError(t, adm.Acquire(ctx))
	require.NoError(t, adm.Acquire(ctx))
	assert.Equal(t, 0, adm.Available())
	assert.Equal(t, 2, adm.InFlight())

	assert.False(t, adm.TryAcquire())

	adm.Release()
	assert.Equal(t, 1, adm.Available())
	assert.True(t, adm.TryAcquire())

	adm.Release()
	adm.Release()
	assert.Equal(t, 2, adm.Available())
}

func TestAdmission_Acquire_ContextCancelled(t *testing.T) {
	adm := NewAdmission(1)
	require.NoError(t, adm.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := adm.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	adm.Release()
}

func TestAdmission_Release_WithoutAcquire_Panics(t *testing.T) {
	adm := NewAdmission(1)
	assert.Panics(t, func() { adm.Release() })
}

// TestAdmission_HighWaterMark launches many more waiters than slots and
// verifies the concurrent-holder high-water mark equals the capacity
// exactly, with every waiter eventually admitted.
func TestAdmission_HighWaterMark(t *testing.T) {
	const capacity = 4
	const waiters = 32

	adm := NewAdmission(capacity)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, adm.Acquire(ctx))
			defer adm.Release()
			time.Sleep(time.Millisecond)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("deadlock: waiters did not complete")
	}

	assert.Equal(t, capacity, adm.HighWater())
	assert.Equal(t, 0, adm.InFlight())
	assert.Equal(t, capacity, adm.Available())
}
