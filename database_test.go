package grimoire

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoiredb/grimoire/ai"
	"github.com/grimoiredb/grimoire/ai/mock"
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/ingest"
	"github.com/grimoiredb/grimoire/policy"
	"github.com/grimoiredb/grimoire/search"
)

const testDim = 8

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	embedder := mock.NewMockEmbedder()
	embedder.Dim = testDim

	cfg := policy.DefaultConfig()
	cfg.DomainOverrides["science"] = core.StrategyHybrid

	db, err := NewDatabase(t.TempDir(),
		WithEmbedder(embedder),
		WithInMemoryVectors(),
		WithAIConfig(ai.NewConfig(
			ai.WithEmbeddingModel("mock"),
			ai.WithEmbeddingDim(testDim),
		)),
		WithPolicyConfig(cfg),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func TestDatabaseEndToEnd(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	record, err := db.Ingest(ctx, ingest.Submission{
		SourceLocator: "doc://lucretius",
		Title:         "On the Nature of Things",
		Author:        "Lucretius",
		Domain:        "science",
		ContentType:   "prose",
		Content: "Atoms fall through the void and swerve without cause. " +
			"From this swerve comes the freedom of living things.",
	})
	require.NoError(t, err)
	assert.Equal(t, core.StrategyHybrid, record.Strategy)
	assert.Equal(t, core.StatusReady, record.Status)

	resp, err := db.Query(ctx, search.Request{Text: "swerve atoms", Semantic: true})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, record.Id, resp.Results[0].Record.Id)
	assert.False(t, resp.Partial)

	status, err := db.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", status.PolicyVersion)
	assert.Contains(t, status.Collections, "vectors_science")
	assert.Empty(t, status.Degraded)
	assert.Empty(t, status.NeedsReview)

	report, err := db.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Repaired)

	analysis, err := db.Analyze(ctx)
	require.NoError(t, err)
	assert.Empty(t, analysis.Created, "one fast query triggers nothing")

	summary, err := db.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Migrated, "nothing stale under the active policy")
}

func TestDatabaseRecommendationFlow(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	recs, err := db.Recommendations(ctx, core.RecommendationPending)
	require.NoError(t, err)
	assert.Empty(t, recs)

	err = db.Apply(ctx, "no-such-recommendation")
	assert.Error(t, err)
}
