package perf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/policy"
	"github.com/grimoiredb/grimoire/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestOptimizer(t *testing.T, store *sqlite.Store, opts ...OptimizerOption) *Optimizer {
	t.Helper()
	pol, err := policy.New(policy.DefaultConfig())
	require.NoError(t, err)

	opts = append([]OptimizerOption{
		WithLatencyThreshold(100 * time.Millisecond),
		WithMinSamples(4),
	}, opts...)
	opt, err := NewOptimizer(store.Samples(), store.Recommendations(), store.Records(), pol, opts...)
	require.NoError(t, err)
	return opt
}

func appendSamples(t *testing.T, store *sqlite.Store, domain string, strategy core.Strategy, latency time.Duration, count int, at time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		err := store.Samples().AppendSample(ctx, &core.PerformanceSample{
			QuerySignature: "sig-" + domain,
			Strategy:       strategy,
			Domain:         domain,
			Latency:        latency,
			RowsReturned:   3,
			Timestamp:      at,
		})
		require.NoError(t, err)
	}
}

func TestTrackerRecordsAsynchronously(t *testing.T) {
	store := newTestStore(t)

	tracker, err := NewTracker(store.Samples(), WithPoolSize(2))
	require.NoError(t, err)
	defer tracker.Release()

	tracker.Record(&core.PerformanceSample{
		QuerySignature: "sig",
		Strategy:       core.StrategyHybrid,
		Domain:         "science",
		Latency:        42 * time.Millisecond,
	})

	require.Eventually(t, func() bool {
		samples, err := store.Samples().SamplesSince(context.Background(), time.Time{})
		return err == nil && len(samples) == 1
	}, 2*time.Second, 10*time.Millisecond)

	samples, err := store.Samples().SamplesSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.False(t, samples[0].Timestamp.IsZero(), "timestamp defaulted on record")
}

func TestAnalyzeRecommendsSlowDomains(t *testing.T) {
	store := newTestStore(t)
	opt := newTestOptimizer(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	// Hybrid-dominated slow domain -> migrate_strategy.
	appendSamples(t, store, "science", core.StrategyHybrid, 300*time.Millisecond, 6, now.Add(-time.Hour))
	// Text-dominated slow domain -> add_index.
	appendSamples(t, store, "census", core.StrategyFullStore, 400*time.Millisecond, 6, now.Add(-time.Hour))
	// Fast domain -> nothing.
	appendSamples(t, store, "poetry", core.StrategyFullStore, 10*time.Millisecond, 6, now.Add(-time.Hour))
	// Slow but below min samples -> nothing.
	appendSamples(t, store, "alchemy", core.StrategyHybrid, time.Second, 2, now.Add(-time.Hour))

	report, err := opt.Analyze(ctx, now)
	require.NoError(t, err)
	require.Len(t, report.Created, 2)

	byTarget := map[string]*core.Recommendation{}
	for _, rec := range report.Created {
		byTarget[rec.Target] = rec
	}
	require.Contains(t, byTarget, "domain:science")
	require.Contains(t, byTarget, "domain:census")
	assert.Equal(t, core.RecommendMigrateStrategy, byTarget["domain:science"].Type)
	assert.Equal(t, core.RecommendAddIndex, byTarget["domain:census"].Type)

	science := byTarget["domain:science"]
	assert.InDelta(t, 1-100.0/300.0, science.EstimatedImprovement, 1e-9)
	assert.Greater(t, science.Confidence, 0.5)
	assert.Equal(t, now.Add(opt.expiry), science.ExpiresAt)
}

func TestAnalyzeDedupsAgainstPending(t *testing.T) {
	store := newTestStore(t)
	opt := newTestOptimizer(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	appendSamples(t, store, "science", core.StrategyHybrid, 300*time.Millisecond, 6, now.Add(-time.Hour))

	first, err := opt.Analyze(ctx, now)
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := opt.Analyze(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, second.Created, "existing pending recommendation wins")
	assert.Equal(t, 1, second.Deduped)
}

func TestAnalyzeRecommendsStaleRecords(t *testing.T) {
	store := newTestStore(t)
	opt := newTestOptimizer(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	record, err := store.Records().CreateRecord(ctx, &core.ContentRecord{
		SourceLocator: "doc://old",
		Domain:        "science",
		Strategy:      core.StrategyFullStore,
		PolicyVersion: "v1",
		Status:        core.StatusReady,
	})
	require.NoError(t, err)

	// Degraded records under the old policy are not re-placed until
	// repaired.
	_, err = store.Records().CreateRecord(ctx, &core.ContentRecord{
		SourceLocator: "doc://degraded",
		Domain:        "science",
		Strategy:      core.StrategyFullStore,
		PolicyVersion: "v1",
		Status:        core.StatusDegraded,
	})
	require.NoError(t, err)

	report, err := opt.Analyze(ctx, now)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, "record:"+string(record.Id), report.Created[0].Target)
	assert.Equal(t, core.RecommendMigrateStrategy, report.Created[0].Type)
}

func TestAnalyzeExpiresAndPrunes(t *testing.T) {
	store := newTestStore(t)
	opt := newTestOptimizer(t, store, WithRetention(48*time.Hour))
	ctx := context.Background()
	now := time.Now().UTC()

	// An old pending recommendation past its expiry.
	_, err := store.Recommendations().UpsertRecommendation(ctx, &core.Recommendation{
		Type:      core.RecommendMigrateStrategy,
		Target:    "domain:history",
		Status:    core.RecommendationPending,
		CreatedAt: now.Add(-10 * 24 * time.Hour),
		ExpiresAt: now.Add(-3 * 24 * time.Hour),
	})
	require.NoError(t, err)

	// Samples past retention.
	appendSamples(t, store, "science", core.StrategyHybrid, 10*time.Millisecond, 3, now.Add(-72*time.Hour))

	report, err := opt.Analyze(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 3, report.Pruned)
}

func TestImprovementAndConfidenceBounds(t *testing.T) {
	assert.InDelta(t, 0.05, estimateImprovement(101*time.Millisecond, 100*time.Millisecond), 1e-9)
	assert.InDelta(t, 0.90, estimateImprovement(10*time.Second, 100*time.Millisecond), 1e-9)

	assert.LessOrEqual(t, sampleConfidence(1000, 4), 0.95)
	assert.Greater(t, sampleConfidence(4, 4), 0.5)
}
