// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

// Item is one independently-schedulable unit of work within a phase.
type Item struct {
	// Index is the item's position in the input list, reported in the
	// failure summary.
	Index int

	// Name identifies the item in logs.
	Name string

	// Run executes the item. It receives the run context and should
	// respect cancellation. Retry policy, if any, lives inside Run;
	// the scheduler never retries.
	Run func(ctx context.Context) error
}

// ItemResult is the outcome of one item.
type ItemResult struct {
	Index    int
	Name     string
	Err      error
	Duration time.Duration
}

// ProgressFunc is called after each item completes.
type ProgressFunc func(completed, total int, last ItemResult)

// FanOut runs independent items concurrently through the shared
// admission semaphore with per-item failure isolation: one item's
// failure never aborts its siblings or the owning phase.
//
// Thread Safety: Safe for concurrent use; distinct Run calls share
// only the admission semaphore.
type FanOut struct {
	admission *Admission
	logger    *slog.Logger
}

// NewFanOut creates a scheduler bound to the process-wide admission
// instance.
func NewFanOut(admission *Admission, logger *slog.Logger) *FanOut {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{admission: admission, logger: logger}
}

// Run executes all items and aggregates the outcome. Each item is
// attempted exactly once: acquire a slot, invoke the thunk, release the
// slot unconditionally, record the result. Completion order across
// items is unspecified; the summary's error list is ordered by index.
func (f *FanOut) Run(ctx context.Context, items []Item, progress ProgressFunc) datatypes.FanOutSummary {
	resultCh := make(chan ItemResult, len(items))

	var wg sync.WaitGroup
	var completed int32

	for _, item := range items {
		item := item

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := f.admission.Acquire(ctx); err != nil {
				resultCh <- ItemResult{Index: item.Index, Name: item.Name, Err: err}
				return
			}
			defer f.admission.Release()

			start := time.Now()
			err := item.Run(ctx)
			result := ItemResult{
				Index:    item.Index,
				Name:     item.Name,
				Err:      err,
				Duration: time.Since(start),
			}
			resultCh <- result

			count := atomic.AddInt32(&completed, 1)
			if progress != nil {
				progress(int(count), len(items), result)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	summary := datatypes.FanOutSummary{Total: len(items)}
	for result := range resultCh {
		if result.Err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, datatypes.FanOutError{
				Index:   result.Index,
				Message: result.Err.Error(),
			})
			fanoutItemsTotal.WithLabelValues("failed").Inc()
			f.logger.Warn("fan-out item failed",
				"index", result.Index,
				"name", result.Name,
				"error", result.Err,
			)
		} else {
			summary.Succeeded++
			fanoutItemsTotal.WithLabelValues("succeeded").Inc()
		}
	}

	sort.Slice(summary.Errors, func(i, j int) bool {
		return summary.Errors[i].Index < summary.Errors[j].Index
	})
	return summary
}
