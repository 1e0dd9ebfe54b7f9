package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecommendation(target string) *core.Recommendation {
	return &core.Recommendation{
		Type:                 core.RecommendMigrateStrategy,
		Target:               target,
		Description:          "slow hybrid queries, suggest vector_store",
		EstimatedImprovement: 0.4,
		Confidence:           0.8,
		ExpiresAt:            time.Now().UTC().Add(7 * 24 * time.Hour),
	}
}

func TestRecommendationDedup(t *testing.T) {
	store := newTestStore(t)
	repo := store.Recommendations()
	ctx := context.Background()

	first, err := repo.UpsertRecommendation(ctx, testRecommendation("domain:science"))
	require.NoError(t, err)
	assert.Equal(t, core.RecommendationPending, first.Status)

	t.Run("second pending for same target is auto-rejected", func(t *testing.T) {
		second, err := repo.UpsertRecommendation(ctx, testRecommendation("domain:science"))
		require.NoError(t, err)
		assert.Equal(t, core.RecommendationRejected, second.Status)
		assert.NotEqual(t, first.Id, second.Id)
	})

	t.Run("different target stays pending", func(t *testing.T) {
		other, err := repo.UpsertRecommendation(ctx, testRecommendation("domain:literature"))
		require.NoError(t, err)
		assert.Equal(t, core.RecommendationPending, other.Status)
	})

	t.Run("resolved target accepts a new pending", func(t *testing.T) {
		require.NoError(t, repo.UpdateRecommendationStatus(ctx, first.Id, core.RecommendationApplied))

		again, err := repo.UpsertRecommendation(ctx, testRecommendation("domain:science"))
		require.NoError(t, err)
		assert.Equal(t, core.RecommendationPending, again.Status)
	})
}

func TestRecommendationListingAndExpiry(t *testing.T) {
	store := newTestStore(t)
	repo := store.Recommendations()
	ctx := context.Background()

	fresh, err := repo.UpsertRecommendation(ctx, testRecommendation("domain:science"))
	require.NoError(t, err)

	old := testRecommendation("domain:history")
	old.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	_, err = repo.UpsertRecommendation(ctx, old)
	require.NoError(t, err)

	expired, err := repo.ExpirePending(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	pending, err := repo.ListRecommendations(ctx, core.RecommendationPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.Id, pending[0].Id)

	all, err := repo.ListRecommendations(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	t.Run("missing id returns ErrNotFound", func(t *testing.T) {
		_, err := repo.GetRecommendation(ctx, "absent")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = repo.UpdateRecommendationStatus(ctx, "absent", core.RecommendationApplied)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestSamples(t *testing.T) {
	store := newTestStore(t)
	repo := store.Samples()
	ctx := context.Background()

	now := time.Now().UTC()
	for i, age := range []time.Duration{48 * time.Hour, 12 * time.Hour, time.Hour} {
		err := repo.AppendSample(ctx, &core.PerformanceSample{
			QuerySignature: "text:philosophy",
			Strategy:       core.StrategyHybrid,
			Domain:         "philosophy",
			Latency:        time.Duration(i+1) * 100 * time.Millisecond,
			RowsReturned:   10,
			Timestamp:      now.Add(-age),
		})
		require.NoError(t, err)
	}

	recent, err := repo.SamplesSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 200*time.Millisecond, recent[0].Latency)

	pruned, err := repo.PruneSamples(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}
