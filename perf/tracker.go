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


package perf

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

const recordTimeout = 5 * time.Second

// Tracker appends performance samples asynchronously. Record never
// blocks the caller; a sample that cannot be queued is dropped and
// logged, never propagated to the query path.
type Tracker struct {
	samples storage.SampleRepository
	pool    *ants.Pool
	logger  *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker) error

// WithPoolSize sets the worker pool size for sample writes.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) TrackerOption {
	return func(t *Tracker) error {
		if size < 1 {
			size = 1
		}
		if t.pool != nil {
			t.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		t.pool = pool
		return nil
	}
}

// WithTrackerLogger sets a custom logger.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) error {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger
		return nil
	}
}

// NewTracker creates a tracker over the sample repository.
func NewTracker(samples storage.SampleRepository, opts ...TrackerOption) (*Tracker, error) {
	if samples == nil {
		return nil, ErrSampleRepositoryRequired
	}

	size := runtime.NumCPU() / 2
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		samples: samples,
		pool:    pool,
		logger:  slog.Default().With("component", "perf"),
	}
	for _, opt := range opts {
		if optErr := opt(t); optErr != nil {
			t.Release()
			return nil, optErr
		}
	}
	return t, nil
}

// Record queues one sample for appending. Errors during the write are
// logged, not returned: observability must not fail queries.
func (t *Tracker) Record(sample *core.PerformanceSample) {
	if sample == nil {
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	err := t.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := t.samples.AppendSample(ctx, sample); err != nil {
			t.logger.Warn("appending performance sample", "err", err)
		}
	})
	if err != nil {
		t.logger.Warn("dropping performance sample", "err", err)
	}
}

// Release frees the worker pool. Queued samples already submitted keep
// running.
func (t *Tracker) Release() {
	if t.pool != nil {
		t.pool.Release()
	}
}
