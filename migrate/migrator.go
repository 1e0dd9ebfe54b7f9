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


package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/grimoiredb/grimoire/consistency"
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/ingest"
	"github.com/grimoiredb/grimoire/policy"
	"github.com/grimoiredb/grimoire/storage"
)

// Config holds configuration for a migration run.
type Config struct {
	// BatchSize is the number of stale records fetched per batch.
	BatchSize int

	// ReportInterval is how often to report progress (number of records).
	ReportInterval int

	// MaxRetries is the maximum number of attempts for writing a
	// record's new legs.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// RatePerSecond throttles record migrations so a background run
	// doesn't starve foreground queries.
	RatePerSecond float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		RatePerSecond:  10,
	}
}

// Summary reports the outcome of a migration run.
type Summary struct {
	Migrated    int
	Republished int
	Skipped     int
	Failed      int
}

// outcome classifies the result of migrating one record.
type outcome int

const (
	outcomeMigrated outcome = iota
	outcomeRepublished
	outcomeSkipped
	outcomeFailed
)

// Migrator re-places stale records under the active policy.
type Migrator struct {
	records         storage.RecordRepository
	recommendations storage.RecommendationRepository
	coordinator     *ingest.Coordinator
	mapper          *consistency.Mapper
	policy          *policy.Policy

	cfg      *Config
	limiter  *rate.Limiter
	progress io.Writer
	logger   *slog.Logger
}

// Option configures a Migrator.
type Option func(*Migrator) error

// WithConfig replaces the default run configuration.
func WithConfig(cfg *Config) Option {
	return func(m *Migrator) error {
		if cfg == nil {
			return fmt.Errorf("%w: config required", core.ErrValidation)
		}
		if cfg.BatchSize < 1 || cfg.MaxRetries < 1 || cfg.RatePerSecond <= 0 {
			return fmt.Errorf("%w: batch size, retries, and rate must be positive", core.ErrValidation)
		}
		m.cfg = cfg
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
		return nil
	}
}

// WithProgressWriter directs progress output. Default is io.Discard.
func WithProgressWriter(w io.Writer) Option {
	return func(m *Migrator) error {
		if w == nil {
			w = io.Discard
		}
		m.progress = w
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// NewMigrator creates a migration engine.
func NewMigrator(
	records storage.RecordRepository,
	recommendations storage.RecommendationRepository,
	coordinator *ingest.Coordinator,
	mapper *consistency.Mapper,
	pol *policy.Policy,
	opts ...Option,
) (*Migrator, error) {
	if records == nil {
		return nil, ErrRecordRepositoryRequired
	}
	if recommendations == nil {
		return nil, ErrRecommendationRepositoryRequired
	}
	if coordinator == nil {
		return nil, ErrCoordinatorRequired
	}
	if mapper == nil {
		return nil, ErrMapperRequired
	}
	if pol == nil {
		return nil, ErrPolicyRequired
	}

	cfg := DefaultConfig()
	m := &Migrator{
		records:         records,
		recommendations: recommendations,
		coordinator:     coordinator,
		mapper:          mapper,
		policy:          pol,
		cfg:             cfg,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		progress:        io.Discard,
		logger:          slog.Default().With("component", "migrate"),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Run migrates every record placed under an older policy version.
// Records that fail stay stale and are not retried within the run;
// cancellation between records stops cleanly with the counts so far.
func (m *Migrator) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	tracker := NewProgressTracker(m.progress, m.cfg.ReportInterval)
	tracker.Start()
	defer tracker.Finish()

	seen := make(map[core.ID]bool)
	for {
		batch, err := m.records.ListStale(ctx, m.policy.Version(), m.cfg.BatchSize)
		if err != nil {
			return summary, fmt.Errorf("listing stale records: %w", err)
		}

		progressed := false
		for _, record := range batch {
			if seen[record.Id] {
				continue
			}
			seen[record.Id] = true
			progressed = true

			if err := m.limiter.Wait(ctx); err != nil {
				return summary, err
			}

			switch m.migrateRecord(ctx, record) {
			case outcomeMigrated:
				summary.Migrated++
			case outcomeRepublished:
				summary.Republished++
			case outcomeSkipped:
				summary.Skipped++
			case outcomeFailed:
				summary.Failed++
			}
			tracker.Increment(1)
		}

		if !progressed {
			break
		}
	}

	m.logger.Info("migration run finished",
		"migrated", summary.Migrated,
		"republished", summary.Republished,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"elapsed", tracker.Elapsed())
	return summary, nil
}

// ApplyRecommendation routes a pending migrate_strategy recommendation
// through the migrator and transitions it to applied or failed.
func (m *Migrator) ApplyRecommendation(ctx context.Context, id string) error {
	rec, err := m.recommendations.GetRecommendation(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != core.RecommendationPending {
		return fmt.Errorf("%w: recommendation %s is %s", core.ErrValidation, id, rec.Status)
	}
	if rec.Type != core.RecommendMigrateStrategy {
		return fmt.Errorf("%w: %s recommendations are applied by an operator", ErrNotApplicable, rec.Type)
	}

	applyErr := m.applyTarget(ctx, rec.Target)

	status := core.RecommendationApplied
	if applyErr != nil {
		status = core.RecommendationFailed
	}
	if uErr := m.recommendations.UpdateRecommendationStatus(ctx, id, status); uErr != nil {
		m.logger.Error("updating recommendation status", "recommendation", id, "err", uErr)
	}
	return applyErr
}

// applyTarget migrates whatever a recommendation target names: a single
// record or a domain's stale records.
func (m *Migrator) applyTarget(ctx context.Context, target string) error {
	if recordID, ok := strings.CutPrefix(target, "record:"); ok {
		record, err := m.records.GetRecord(ctx, core.ID(recordID))
		if err != nil {
			return err
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		if out := m.migrateRecord(ctx, record); out == outcomeFailed {
			return fmt.Errorf("migrating record %s failed", recordID)
		}
		return nil
	}

	if domain, ok := strings.CutPrefix(target, "domain:"); ok {
		seen := make(map[core.ID]bool)
		for {
			batch, err := m.records.ListStale(ctx, m.policy.Version(), m.cfg.BatchSize)
			if err != nil {
				return err
			}
			progressed := false
			var failed int
			for _, record := range batch {
				if record.Domain != domain || seen[record.Id] {
					continue
				}
				seen[record.Id] = true
				progressed = true
				if err := m.limiter.Wait(ctx); err != nil {
					return err
				}
				if out := m.migrateRecord(ctx, record); out == outcomeFailed {
					failed++
				}
			}
			if !progressed {
				if failed > 0 {
					return fmt.Errorf("%d records in domain %s failed to migrate", failed, domain)
				}
				return nil
			}
		}
	}

	return fmt.Errorf("%w: unknown target %q", ErrNotApplicable, target)
}

// migrateRecord re-decides one record's placement and moves it. The old
// location stays authoritative until the mapper swaps the pointer.
func (m *Migrator) migrateRecord(ctx context.Context, record *core.ContentRecord) outcome {
	decision, err := m.policy.Decide(record.DeclaredSize, record.Profile, record.Domain)
	if err != nil {
		m.logger.Error("re-deciding placement", "record", record.Id, "err", err)
		return outcomeFailed
	}

	// Same strategy under the new policy: the data doesn't move, the
	// record is re-verified and stamped with the current version.
	if decision.Strategy == record.Strategy {
		if err := m.mapper.Publish(ctx, record.Id, record.Location, decision.Strategy, decision.PolicyVersion); err != nil {
			return m.reportVerifyFailure(ctx, record, err)
		}
		record.PolicyVersion = decision.PolicyVersion
		return outcomeRepublished
	}

	if !record.Location.HasBlob {
		// Without a stored body the new legs cannot be written.
		m.logger.Warn("record has no stored body, cannot change strategy",
			"record", record.Id, "from", record.Strategy, "to", decision.Strategy)
		return outcomeSkipped
	}

	if err := m.records.UpdateStatus(ctx, record.Id, core.StatusMigrating, false); err != nil {
		m.logger.Error("marking record migrating", "record", record.Id, "err", err)
		return outcomeFailed
	}

	var newLoc core.Location
	err = ingest.RetryWithBackoff(ctx, func() error {
		var matErr error
		newLoc, matErr = m.coordinator.Materialize(ctx, record, decision.Strategy)
		return matErr
	}, m.cfg.MaxRetries, m.cfg.RetryDelay)
	if err != nil {
		m.logger.Error("writing new legs failed, original location stays",
			"record", record.Id, "attempts", m.cfg.MaxRetries, "err", err)
		m.restoreReady(ctx, record)
		return outcomeFailed
	}

	if err := m.mapper.Swap(ctx, record, newLoc, decision.Strategy, decision.PolicyVersion); err != nil {
		if errors.Is(err, core.ErrConsistencyViolation) {
			return m.reportVerifyFailure(ctx, record, err)
		}
		m.logger.Error("pointer swap failed", "record", record.Id, "err", err)
		m.restoreReady(ctx, record)
		return outcomeFailed
	}

	m.logger.Debug("record migrated",
		"record", record.Id, "strategy", decision.Strategy, "policy", decision.PolicyVersion)
	return outcomeMigrated
}

// reportVerifyFailure handles a consistency violation: the original
// pointer is untouched and the record goes to manual review.
func (m *Migrator) reportVerifyFailure(ctx context.Context, record *core.ContentRecord, err error) outcome {
	m.logger.Error("verification failed, record needs review", "record", record.Id, "err", err)
	if uErr := m.records.UpdateStatus(ctx, record.Id, core.StatusDegraded, true); uErr != nil {
		m.logger.Error("flagging record for review", "record", record.Id, "err", uErr)
	}
	return outcomeFailed
}

// restoreReady returns a record to ready after an aborted migration.
// The original location was never unpublished, but it is re-verified
// before the record is declared ready again; a location that no longer
// reads back goes to manual review instead.
func (m *Migrator) restoreReady(ctx context.Context, record *core.ContentRecord) {
	if err := m.mapper.Verify(ctx, record.Id, record.Location, record.Strategy); err != nil {
		m.logger.Error("original location failed re-verification, record needs review",
			"record", record.Id, "err", err)
		if uErr := m.records.UpdateStatus(ctx, record.Id, core.StatusDegraded, true); uErr != nil {
			m.logger.Error("flagging record for review", "record", record.Id, "err", uErr)
		}
		return
	}
	if err := m.records.UpdateStatus(ctx, record.Id, core.StatusReady, record.NeedsReview); err != nil {
		m.logger.Error("restoring record status", "record", record.Id, "err", err)
	}
}
