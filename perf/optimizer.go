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
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/policy"
	"github.com/grimoiredb/grimoire/storage"
)

const (
	defaultWindow           = 24 * time.Hour
	defaultLatencyThreshold = 250 * time.Millisecond
	defaultMinSamples       = 20
	defaultExpiry           = 7 * 24 * time.Hour
	defaultRetention        = 7 * 24 * time.Hour
	defaultStaleBatch       = 100
)

// Report summarizes one analysis pass.
type Report struct {
	Created []*core.Recommendation
	Deduped int
	Expired int
	Pruned  int
}

// Optimizer turns the sample window into placement recommendations.
// Analysis is deterministic for a fixed sample set and clock input.
type Optimizer struct {
	samples storage.SampleRepository
	recs    storage.RecommendationRepository
	records storage.RecordRepository
	policy  *policy.Policy

	window           time.Duration
	latencyThreshold time.Duration
	minSamples       int
	expiry           time.Duration
	retention        time.Duration
	staleBatch       int
	logger           *slog.Logger
}

// OptimizerOption configures an Optimizer.
type OptimizerOption func(*Optimizer) error

// WithWindow sets the rolling analysis window. Default 24h.
func WithWindow(window time.Duration) OptimizerOption {
	return func(o *Optimizer) error {
		if window <= 0 {
			return fmt.Errorf("%w: window must be positive", core.ErrValidation)
		}
		o.window = window
		return nil
	}
}

// WithLatencyThreshold sets the mean latency above which a domain is
// considered slow. Default 250ms.
func WithLatencyThreshold(threshold time.Duration) OptimizerOption {
	return func(o *Optimizer) error {
		if threshold <= 0 {
			return fmt.Errorf("%w: latency threshold must be positive", core.ErrValidation)
		}
		o.latencyThreshold = threshold
		return nil
	}
}

// WithMinSamples sets how many samples a domain needs before its mean
// is trusted. Default 20.
func WithMinSamples(n int) OptimizerOption {
	return func(o *Optimizer) error {
		if n < 1 {
			return fmt.Errorf("%w: min samples must be positive", core.ErrValidation)
		}
		o.minSamples = n
		return nil
	}
}

// WithExpiry sets how long pending recommendations stay actionable.
// Default 7 days.
func WithExpiry(expiry time.Duration) OptimizerOption {
	return func(o *Optimizer) error {
		if expiry <= 0 {
			return fmt.Errorf("%w: expiry must be positive", core.ErrValidation)
		}
		o.expiry = expiry
		return nil
	}
}

// WithRetention sets how long samples are kept. Default 7 days.
func WithRetention(retention time.Duration) OptimizerOption {
	return func(o *Optimizer) error {
		if retention <= 0 {
			return fmt.Errorf("%w: retention must be positive", core.ErrValidation)
		}
		o.retention = retention
		return nil
	}
}

// WithStaleBatch bounds how many stale-policy records one pass
// recommends re-placing. Default 100.
func WithStaleBatch(n int) OptimizerOption {
	return func(o *Optimizer) error {
		if n < 1 {
			return fmt.Errorf("%w: stale batch must be positive", core.ErrValidation)
		}
		o.staleBatch = n
		return nil
	}
}

// WithOptimizerLogger sets a custom logger.
func WithOptimizerLogger(logger *slog.Logger) OptimizerOption {
	return func(o *Optimizer) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// NewOptimizer creates an optimizer.
func NewOptimizer(
	samples storage.SampleRepository,
	recs storage.RecommendationRepository,
	records storage.RecordRepository,
	pol *policy.Policy,
	opts ...OptimizerOption,
) (*Optimizer, error) {
	if samples == nil {
		return nil, ErrSampleRepositoryRequired
	}
	if recs == nil {
		return nil, ErrRecommendationRepositoryRequired
	}
	if records == nil {
		return nil, ErrRecordRepositoryRequired
	}
	if pol == nil {
		return nil, ErrPolicyRequired
	}

	o := &Optimizer{
		samples:          samples,
		recs:             recs,
		records:          records,
		policy:           pol,
		window:           defaultWindow,
		latencyThreshold: defaultLatencyThreshold,
		minSamples:       defaultMinSamples,
		expiry:           defaultExpiry,
		retention:        defaultRetention,
		staleBatch:       defaultStaleBatch,
		logger:           slog.Default().With("component", "optimizer"),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// domainStats accumulates the window's samples for one domain.
type domainStats struct {
	count     int
	total     time.Duration
	textCount int
	partial   int
}

// Analyze runs one pass: expire stale recommendations, inspect the
// sample window per domain, recommend re-placement for records left
// behind by a policy change, and prune old samples.
func (o *Optimizer) Analyze(ctx context.Context, now time.Time) (*Report, error) {
	report := &Report{}

	expired, err := o.recs.ExpirePending(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("expiring recommendations: %w", err)
	}
	report.Expired = expired

	samples, err := o.samples.SamplesSince(ctx, now.Add(-o.window))
	if err != nil {
		return nil, fmt.Errorf("loading sample window: %w", err)
	}

	stats := make(map[string]*domainStats)
	for _, sample := range samples {
		s, ok := stats[sample.Domain]
		if !ok {
			s = &domainStats{}
			stats[sample.Domain] = s
		}
		s.count++
		s.total += sample.Latency
		if sample.Strategy == core.StrategyFullStore {
			s.textCount++
		}
		if sample.Partial {
			s.partial++
		}
	}

	for domain, s := range stats {
		if s.count < o.minSamples {
			continue
		}
		mean := s.total / time.Duration(s.count)
		if mean <= o.latencyThreshold {
			continue
		}
		o.recommendSlowDomain(ctx, now, domain, s, mean, report)
	}

	if err := o.recommendStaleRecords(ctx, now, report); err != nil {
		return nil, err
	}

	pruned, err := o.samples.PruneSamples(ctx, now.Add(-o.retention))
	if err != nil {
		return nil, fmt.Errorf("pruning samples: %w", err)
	}
	report.Pruned = pruned

	o.logger.Info("analysis pass",
		"created", len(report.Created),
		"deduped", report.Deduped,
		"expired", report.Expired,
		"pruned", report.Pruned)
	return report, nil
}

// recommendSlowDomain emits one recommendation for a domain whose mean
// latency exceeds the threshold. A text-dominated load points at the
// relational leg, so it gets an index suggestion; anything else gets a
// strategy migration.
func (o *Optimizer) recommendSlowDomain(ctx context.Context, now time.Time, domain string, s *domainStats, mean time.Duration, report *Report) {
	recType := core.RecommendMigrateStrategy
	description := fmt.Sprintf(
		"domain %q averages %s over %d queries (threshold %s); re-place its records",
		domain, mean.Round(time.Millisecond), s.count, o.latencyThreshold)
	if s.textCount*2 >= s.count {
		recType = core.RecommendAddIndex
		description = fmt.Sprintf(
			"domain %q averages %s over %d text-heavy queries (threshold %s); add an index on its filter columns",
			domain, mean.Round(time.Millisecond), s.count, o.latencyThreshold)
	}

	rec := &core.Recommendation{
		Type:                 recType,
		Target:               "domain:" + domain,
		Description:          description,
		EstimatedImprovement: estimateImprovement(mean, o.latencyThreshold),
		Confidence:           sampleConfidence(s.count, o.minSamples),
		Status:               core.RecommendationPending,
		CreatedAt:            now,
		ExpiresAt:            now.Add(o.expiry),
	}
	o.upsert(ctx, rec, report)
}

// recommendStaleRecords emits re-placement recommendations for ready
// records still placed under an older policy version.
func (o *Optimizer) recommendStaleRecords(ctx context.Context, now time.Time, report *Report) error {
	stale, err := o.records.ListStale(ctx, o.policy.Version(), o.staleBatch)
	if err != nil {
		return fmt.Errorf("listing stale records: %w", err)
	}

	for _, record := range stale {
		rec := &core.Recommendation{
			Type:   core.RecommendMigrateStrategy,
			Target: "record:" + string(record.Id),
			Description: fmt.Sprintf(
				"record %s was placed under policy %s; re-place under %s",
				record.Id, record.PolicyVersion, o.policy.Version()),
			EstimatedImprovement: 0.25,
			Confidence:           0.75,
			Status:               core.RecommendationPending,
			CreatedAt:            now,
			ExpiresAt:            now.Add(o.expiry),
		}
		o.upsert(ctx, rec, report)
	}
	return nil
}

// upsert stores a recommendation, counting auto-rejected duplicates
// separately. Storage failures are logged, not fatal to the pass.
func (o *Optimizer) upsert(ctx context.Context, rec *core.Recommendation, report *Report) {
	stored, err := o.recs.UpsertRecommendation(ctx, rec)
	if err != nil {
		o.logger.Warn("storing recommendation", "target", rec.Target, "err", err)
		return
	}
	if stored.Status == core.RecommendationRejected {
		report.Deduped++
		return
	}
	report.Created = append(report.Created, stored)
}

// estimateImprovement is the fraction of the mean latency sitting above
// the threshold, clamped to [0.05, 0.90].
func estimateImprovement(mean, threshold time.Duration) float64 {
	improvement := 1 - float64(threshold)/float64(mean)
	return math.Min(0.90, math.Max(0.05, improvement))
}

// sampleConfidence grows with sample count and saturates at 0.95 once
// the window holds four times the minimum.
func sampleConfidence(count, minSamples int) float64 {
	ratio := float64(count) / float64(4*minSamples)
	return math.Min(0.95, 0.55+0.40*math.Min(1, ratio))
}
