// Copyright 2025 The Grimoire Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

const (
	defaultRepairBatch    = 64
	defaultRepairAttempts = 3
	defaultRepairDelay    = 500 * time.Millisecond
)

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Repaired       int
	FlaggedReview  int
	OrphansRemoved int
	RecordsSwept   int
	BlobsSwept     int
}

// Reconciler is the background repair loop for degraded records. Each
// pass re-runs the failed legs from the stored body with retries; a
// record that keeps failing, or that has no stored body to repair
// from, is flagged for manual review instead of retrying forever.
type Reconciler struct {
	coordinator *Coordinator
	records     storage.RecordRepository
	vectors     storage.VectorStore
	blobs       storage.BlobStore
	pool        *ants.Pool

	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	gcGrace     time.Duration
	logger      *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler) error

// WithRepairBatch bounds how many degraded records one pass picks up.
func WithRepairBatch(size int) ReconcilerOption {
	return func(r *Reconciler) error {
		if size < 1 {
			return fmt.Errorf("%w: repair batch must be positive", core.ErrValidation)
		}
		r.batchSize = size
		return nil
	}
}

// WithRepairRetries sets the per-record retry budget and base delay.
func WithRepairRetries(maxAttempts int, baseDelay time.Duration) ReconcilerOption {
	return func(r *Reconciler) error {
		if maxAttempts < 1 {
			return ErrInvalidMaxAttempts
		}
		r.maxAttempts = maxAttempts
		r.baseDelay = baseDelay
		return nil
	}
}

// WithRepairWorkers sets the worker pool size for concurrent repairs.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithRepairWorkers(size int) ReconcilerOption {
	return func(r *Reconciler) error {
		if size < 1 {
			size = 1
		}
		if r.pool != nil {
			r.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		r.pool = pool
		return nil
	}
}

// WithGCGraceSweep sets the grace period used when sweeping marked and
// orphaned vector points. It should match the consistency mapper's.
func WithGCGraceSweep(grace time.Duration) ReconcilerOption {
	return func(r *Reconciler) error {
		if grace <= 0 {
			return fmt.Errorf("%w: gc grace must be positive", core.ErrValidation)
		}
		r.gcGrace = grace
		return nil
	}
}

// WithReconcilerLogger sets a custom logger.
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewReconciler creates a reconciler over the same stores the
// coordinator writes.
func NewReconciler(coordinator *Coordinator, opts ...ReconcilerOption) (*Reconciler, error) {
	if coordinator == nil {
		return nil, errors.New("coordinator required")
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	r := &Reconciler{
		coordinator: coordinator,
		records:     coordinator.records,
		vectors:     coordinator.vectors,
		blobs:       coordinator.blobs,
		pool:        pool,
		batchSize:   defaultRepairBatch,
		maxAttempts: defaultRepairAttempts,
		baseDelay:   defaultRepairDelay,
		gcGrace:     coordinator.mapper.GCGrace(),
		logger:      slog.Default().With("component", "reconciler"),
	}
	for _, opt := range opts {
		if optErr := opt(r); optErr != nil {
			r.Release()
			return nil, optErr
		}
	}
	return r, nil
}

// Release frees the worker pool.
func (r *Reconciler) Release() {
	if r.pool != nil {
		r.pool.Release()
	}
}

// Sweep runs one reconciliation pass: repair degraded records, then
// clean up vector-store garbage past its grace period.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	degraded, err := r.records.ListByStatus(ctx, core.StatusDegraded, r.batchSize)
	if err != nil {
		return report, fmt.Errorf("listing degraded records: %w", err)
	}

	var repaired, flagged atomic.Int64
	var wg sync.WaitGroup
	for _, record := range degraded {
		if record.NeedsReview {
			continue
		}

		wg.Add(1)
		rec := record
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			if r.repair(ctx, rec) {
				repaired.Add(1)
			} else {
				flagged.Add(1)
			}
		})
		if submitErr != nil {
			wg.Done()
			r.logger.Error("submitting repair", "record", rec.Id, "err", submitErr)
		}
	}
	wg.Wait()

	report.Repaired = int(repaired.Load())
	report.FlaggedReview = int(flagged.Load())

	now := time.Now().UTC()
	if removed, err := r.vectors.SweepOrphans(ctx, now, r.gcGrace); err != nil {
		r.logger.Error("sweeping orphaned points", "err", err)
	} else {
		report.OrphansRemoved = removed
	}
	if swept, err := r.vectors.SweepGC(ctx, now, r.gcGrace); err != nil {
		r.logger.Error("sweeping marked points", "err", err)
	} else {
		report.RecordsSwept = swept
	}
	if swept, err := r.blobs.SweepBlobGC(ctx, now, r.gcGrace); err != nil {
		r.logger.Error("sweeping marked blobs", "err", err)
	} else {
		report.BlobsSwept = swept
	}

	if report.Repaired > 0 || report.FlaggedReview > 0 || report.OrphansRemoved > 0 ||
		report.RecordsSwept > 0 || report.BlobsSwept > 0 {
		r.logger.Info("reconciliation pass",
			"repaired", report.Repaired,
			"flagged", report.FlaggedReview,
			"orphans", report.OrphansRemoved,
			"swept", report.RecordsSwept,
			"blobs", report.BlobsSwept)
	}
	return report, nil
}

// repair retries one record's legs; on an exhausted budget or a record
// with no stored body it flags the record for review. Returns true if
// the record was repaired.
func (r *Reconciler) repair(ctx context.Context, record *core.ContentRecord) bool {
	err := RetryWithBackoff(ctx, func() error {
		opErr := r.coordinator.Repair(ctx, record)
		if errors.Is(opErr, ErrContentUnavailable) {
			// No body to repair from; retrying cannot help.
			return nil
		}
		return opErr
	}, r.maxAttempts, r.baseDelay)

	if err == nil && record.Status == core.StatusReady {
		r.logger.Info("record repaired", "record", record.Id)
		return true
	}

	if err != nil {
		r.logger.Warn("repair failed, flagging for review",
			"record", record.Id, "attempts", r.maxAttempts, "err", err)
	} else {
		r.logger.Warn("record has no stored body, flagging for review", "record", record.Id)
	}
	if uErr := r.records.UpdateStatus(ctx, record.Id, core.StatusDegraded, true); uErr != nil {
		r.logger.Error("flagging record for review", "record", record.Id, "err", uErr)
	}
	return false
}
