package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoiredb/grimoire/core"
)

func TestReconcilerRepairsDegradedRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Break the vector leg so ingestion leaves the record degraded.
	env.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("embedding host unreachable")
	}
	record, err := env.coord.Ingest(ctx, testSubmission("doc://lucretius", "science"))
	require.Error(t, err)
	require.Equal(t, core.StatusDegraded, record.Status)

	env.embedder.EmbedTextsFunc = nil

	rec, err := NewReconciler(env.coord,
		WithRepairRetries(2, time.Millisecond),
		WithRepairWorkers(1),
	)
	require.NoError(t, err)
	defer rec.Release()

	report, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.Zero(t, report.FlaggedReview)

	stored, err := env.store.Records().GetRecord(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, stored.Status)
	assert.Equal(t, "vectors_science", stored.Location.Collection)

	has, err := env.vectors.HasCompletion(ctx, "vectors_science", record.Id)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestReconcilerFlagsExhaustedRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("embedding host unreachable")
	}
	record, err := env.coord.Ingest(ctx, testSubmission("doc://lucretius", "science"))
	require.Error(t, err)

	// The embedder stays broken, so every repair attempt fails.
	rec, err := NewReconciler(env.coord, WithRepairRetries(2, time.Millisecond))
	require.NoError(t, err)
	defer rec.Release()

	report, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Repaired)
	assert.Equal(t, 1, report.FlaggedReview)

	stored, err := env.store.Records().GetRecord(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDegraded, stored.Status)
	assert.True(t, stored.NeedsReview, "exhausted records go to manual review")

	t.Run("flagged records are not retried", func(t *testing.T) {
		report, err := rec.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Repaired)
		assert.Zero(t, report.FlaggedReview)
	})
}

func TestReconcilerFlagsBodylessRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A degraded record with no stored body cannot be repaired
	// automatically.
	record := &core.ContentRecord{
		SourceLocator: "doc://bodyless",
		Domain:        "science",
		Strategy:      core.StrategyHybrid,
		PolicyVersion: "v2",
		Status:        core.StatusDegraded,
	}
	created, err := env.store.Records().CreateRecord(ctx, record)
	require.NoError(t, err)

	rec, err := NewReconciler(env.coord, WithRepairRetries(2, time.Millisecond))
	require.NoError(t, err)
	defer rec.Release()

	report, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FlaggedReview)

	stored, err := env.store.Records().GetRecord(ctx, created.Id)
	require.NoError(t, err)
	assert.True(t, stored.NeedsReview)
}
