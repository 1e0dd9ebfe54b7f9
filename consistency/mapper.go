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


package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

const defaultGCGrace = time.Hour

// Mapper owns the location pointer discipline: a pointer only ever
// moves to a location that has been verified readable, and old vector
// data is garbage-collected on a grace period rather than deleted under
// readers.
type Mapper struct {
	records storage.RecordRepository
	blobs   storage.BlobStore
	vectors storage.VectorStore
	gcGrace time.Duration
	logger  *slog.Logger
}

// Option configures a Mapper.
type Option func(*Mapper) error

// WithGCGrace sets the grace period before swapped-out vector data is
// eligible for the GC sweep. Default is one hour.
func WithGCGrace(grace time.Duration) Option {
	return func(m *Mapper) error {
		if grace <= 0 {
			return fmt.Errorf("%w: gc grace must be positive", core.ErrValidation)
		}
		m.gcGrace = grace
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// NewMapper creates a consistency mapper over the two stores.
func NewMapper(records storage.RecordRepository, blobs storage.BlobStore, vectors storage.VectorStore, opts ...Option) (*Mapper, error) {
	if records == nil {
		return nil, ErrRecordRepositoryRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}

	m := &Mapper{
		records: records,
		blobs:   blobs,
		vectors: vectors,
		gcGrace: defaultGCGrace,
		logger:  slog.Default().With("component", "consistency"),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// GCGrace returns the configured grace period.
func (m *Mapper) GCGrace() time.Duration {
	return m.gcGrace
}

// Verify reads the location back from the stores and checks that every
// leg the strategy requires is fully readable. It never mutates.
func (m *Mapper) Verify(ctx context.Context, recordID core.ID, loc core.Location, strategy core.Strategy) error {
	if strategy.NeedsBlob() || loc.HasBlob {
		if loc.ContentHash == "" {
			return fmt.Errorf("%w: record %s has no content hash", core.ErrConsistencyViolation, recordID)
		}
		ok, err := m.blobs.HasBlob(ctx, loc.ContentHash)
		if err != nil {
			return fmt.Errorf("verifying blob for %s: %w", recordID, err)
		}
		if !ok {
			return fmt.Errorf("%w: blob %s unreadable for record %s",
				core.ErrConsistencyViolation, loc.ContentHash, recordID)
		}
	}

	if strategy.NeedsVectors() {
		if loc.Collection == "" {
			return fmt.Errorf("%w: record %s has no collection", core.ErrConsistencyViolation, recordID)
		}
		mappings, err := m.vectors.Mappings(ctx, loc.Collection, recordID)
		if err == storage.ErrNoCompletion {
			return fmt.Errorf("%w: no completion marker for record %s in %s",
				core.ErrConsistencyViolation, recordID, loc.Collection)
		}
		if err != nil {
			return fmt.Errorf("verifying vectors for %s: %w", recordID, err)
		}
		if len(mappings) != loc.ChunkCount {
			return fmt.Errorf("%w: record %s has %d chunks committed, location claims %d",
				core.ErrConsistencyViolation, recordID, len(mappings), loc.ChunkCount)
		}
	}

	return nil
}

// Publish verifies a freshly written location and then atomically
// publishes it, moving the record to ready. Used on the ingestion path,
// only after the completion marker (if any) has been committed.
func (m *Mapper) Publish(ctx context.Context, recordID core.ID, loc core.Location, strategy core.Strategy, policyVersion string) error {
	if err := m.Verify(ctx, recordID, loc, strategy); err != nil {
		m.logger.Error("publish verification failed, pointer untouched",
			"record", recordID, "err", err)
		return err
	}
	return m.records.SetLocation(ctx, recordID, loc, strategy, policyVersion, core.StatusReady)
}

// Swap moves a record from its current location to a fully written new
// one: verify the new location, atomically swap the pointer, then
// schedule the old location's data for deferred collection. On any
// verification failure the original pointer stays authoritative.
func (m *Mapper) Swap(ctx context.Context, record *core.ContentRecord, newLoc core.Location, newStrategy core.Strategy, policyVersion string) error {
	if err := m.Verify(ctx, record.Id, newLoc, newStrategy); err != nil {
		m.logger.Error("swap verification failed, original location stays authoritative",
			"record", record.Id, "err", err)
		return err
	}

	if err := ctx.Err(); err != nil {
		// Cancelled before the swap: nothing published, original intact.
		return err
	}

	if err := m.records.SetLocation(ctx, record.Id, newLoc, newStrategy, policyVersion, core.StatusReady); err != nil {
		return fmt.Errorf("swapping location pointer for %s: %w", record.Id, err)
	}

	old := record.Location

	// Old vector data stays readable for the grace period so readers
	// holding the previous pointer are covered.
	if old.Collection != "" && (old.Collection != newLoc.Collection || !newStrategy.NeedsVectors()) {
		if err := m.vectors.MarkForGC(ctx, old.Collection, record.Id, time.Now().UTC()); err != nil {
			m.logger.Warn("marking old vectors for gc failed, orphan sweep will cover it",
				"record", record.Id, "collection", old.Collection, "err", err)
		}
	}

	// The old blob gets the same treatment when the new location no
	// longer references it: marked, swept past the grace period.
	if old.HasBlob && old.ContentHash != "" &&
		(!newLoc.HasBlob || old.ContentHash != newLoc.ContentHash) {
		if err := m.blobs.MarkBlobForGC(ctx, old.ContentHash, time.Now().UTC()); err != nil {
			m.logger.Warn("marking old blob for gc failed",
				"record", record.Id, "hash", old.ContentHash, "err", err)
		}
	}

	record.Location = newLoc
	record.Strategy = newStrategy
	record.PolicyVersion = policyVersion
	record.Status = core.StatusReady
	return nil
}
