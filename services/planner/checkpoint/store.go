// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates no checkpoint exists for the key.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrSchemaVersion indicates a stored payload uses an unrecognized
	// schema version. The run cannot be resumed; the caller must clear
	// the checkpoint and restart from phase one.
	ErrSchemaVersion = errors.New("checkpoint schema version mismatch")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store is closed")
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	saveDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "draftforge",
		Subsystem: "checkpoint",
		Name:      "save_duration_seconds",
		Help:      "Time to durably write one checkpoint",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"workflow", "status"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftforge",
		Subsystem: "checkpoint",
		Name:      "operations_total",
		Help:      "Checkpoint store operations by type and outcome",
	}, []string{"operation", "outcome"})
)

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is the durable key-value checkpoint store keyed by
// (job_id, workflow_type).
//
// # Thread Safety
//
// Safe for concurrent use. Writes for one key are serialized through
// BadgerDB transactions; callers additionally Save synchronously
// relative to phase execution, so writes per key are strictly
// monotonic.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewStore opens the backing database and returns a ready Store.
// Callers must Close() the store on shutdown.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

// key builds the storage key for one (job, workflow) pair.
func key(jobID string, workflow datatypes.WorkflowType) []byte {
	return []byte("checkpoint/" + jobID + "/" + string(workflow))
}

// GetActive returns the checkpoint for (jobID, workflow) regardless of
// status, or ErrNotFound.
func (s *Store) GetActive(ctx context.Context, jobID string, workflow datatypes.WorkflowType) (*datatypes.JobCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cp datatypes.JobCheckpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(jobID, workflow))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		operationsTotal.WithLabelValues("get", "miss").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		operationsTotal.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("read checkpoint %s/%s: %w", jobID, workflow, err)
	}
	if cp.State.SchemaVersion != datatypes.StateSchemaVersion {
		operationsTotal.WithLabelValues("get", "schema_drift").Inc()
		return nil, fmt.Errorf("%w: stored=%d supported=%d",
			ErrSchemaVersion, cp.State.SchemaVersion, datatypes.StateSchemaVersion)
	}
	operationsTotal.WithLabelValues("get", "hit").Inc()
	return &cp, nil
}

// GetPaused returns the checkpoint only when its status is paused;
// otherwise ErrNotFound.
func (s *Store) GetPaused(ctx context.Context, jobID string, workflow datatypes.WorkflowType) (*datatypes.JobCheckpoint, error) {
	cp, err := s.GetActive(ctx, jobID, workflow)
	if err != nil {
		return nil, err
	}
	if cp.Status != datatypes.StatusPaused {
		return nil, ErrNotFound
	}
	return cp, nil
}

// Save upserts the checkpoint for (jobID, workflow). The write is
// committed (and fsynced when SyncWrites is on) before Save returns.
func (s *Store) Save(ctx context.Context, jobID string, workflow datatypes.WorkflowType,
	phase datatypes.Phase, state datatypes.StatePayload, percent int, message string,
	status datatypes.JobStatus) (*datatypes.JobCheckpoint, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cp := datatypes.JobCheckpoint{
		JobID:           jobID,
		WorkflowType:    workflow,
		Phase:           phase,
		Status:          status,
		ProgressPercent: percent,
		ProgressMessage: message,
		State:           state,
		UpdatedAt:       time.Now().UTC(),
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint %s/%s: %w", jobID, workflow, err)
	}

	start := time.Now()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(jobID, workflow), raw)
	})
	if err != nil {
		operationsTotal.WithLabelValues("save", "error").Inc()
		return nil, fmt.Errorf("write checkpoint %s/%s: %w", jobID, workflow, err)
	}
	saveDurationHistogram.WithLabelValues(string(workflow), string(status)).
		Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues("save", "ok").Inc()

	s.logger.Debug("checkpoint saved",
		"job_id", jobID,
		"workflow", workflow,
		"phase", phase,
		"status", status,
		"percent", percent,
	)
	return &cp, nil
}

// SaveProgress writes a phase progress update with status running,
// except when a pause landed on the stored row in the meantime: then
// the row stays paused and keeps its stored pause reason, so the
// request survives until the pipeline's next boundary check. Progress
// fields still advance either way. The returned checkpoint reflects
// what was written.
func (s *Store) SaveProgress(ctx context.Context, jobID string, workflow datatypes.WorkflowType,
	phase datatypes.Phase, state datatypes.StatePayload, percent int, message string) (*datatypes.JobCheckpoint, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cp := datatypes.JobCheckpoint{
		JobID:           jobID,
		WorkflowType:    workflow,
		Phase:           phase,
		Status:          datatypes.StatusRunning,
		ProgressPercent: percent,
		ProgressMessage: message,
		State:           state,
		UpdatedAt:       time.Now().UTC(),
	}

	start := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(jobID, workflow))
		if err == nil {
			var prev datatypes.JobCheckpoint
			if verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &prev)
			}); verr != nil {
				return verr
			}
			if prev.Status == datatypes.StatusPaused {
				cp.Status = datatypes.StatusPaused
				cp.State.PauseReason = prev.State.PauseReason
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		raw, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		return txn.Set(key(jobID, workflow), raw)
	})
	if err != nil {
		operationsTotal.WithLabelValues("save", "error").Inc()
		return nil, fmt.Errorf("write checkpoint %s/%s: %w", jobID, workflow, err)
	}
	saveDurationHistogram.WithLabelValues(string(workflow), string(cp.Status)).
		Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues("save", "ok").Inc()

	s.logger.Debug("checkpoint saved",
		"job_id", jobID,
		"workflow", workflow,
		"phase", phase,
		"status", cp.Status,
		"percent", percent,
	)
	return &cp, nil
}

// RequestPause marks the stored row paused with the given reason. The
// running pipeline observes the pause at its next phase boundary.
// Returns ErrNotFound when no checkpoint exists (no active run).
func (s *Store) RequestPause(ctx context.Context, jobID string, workflow datatypes.WorkflowType, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(jobID, workflow))
		if err != nil {
			return err
		}
		var cp datatypes.JobCheckpoint
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		}); err != nil {
			return err
		}
		cp.Status = datatypes.StatusPaused
		cp.State.PauseReason = reason
		if reason != "" {
			cp.ProgressMessage = "pause requested: " + reason
		} else {
			cp.ProgressMessage = "pause requested"
		}
		cp.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		return txn.Set(key(jobID, workflow), raw)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		operationsTotal.WithLabelValues("pause", "miss").Inc()
		return ErrNotFound
	}
	if err != nil {
		operationsTotal.WithLabelValues("pause", "error").Inc()
		return fmt.Errorf("pause checkpoint %s/%s: %w", jobID, workflow, err)
	}
	operationsTotal.WithLabelValues("pause", "ok").Inc()
	s.logger.Info("pause requested", "job_id", jobID, "workflow", workflow, "reason", reason)
	return nil
}

// Delete removes the checkpoint. Deleting an absent row is not an
// error; the boolean reports whether a row existed.
func (s *Store) Delete(ctx context.Context, jobID string, workflow datatypes.WorkflowType) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(jobID, workflow)); err == nil {
			existed = true
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(key(jobID, workflow))
	})
	if err != nil {
		operationsTotal.WithLabelValues("delete", "error").Inc()
		return false, fmt.Errorf("delete checkpoint %s/%s: %w", jobID, workflow, err)
	}
	operationsTotal.WithLabelValues("delete", "ok").Inc()
	s.logger.Debug("checkpoint deleted", "job_id", jobID, "workflow", workflow, "existed", existed)
	return existed, nil
}
