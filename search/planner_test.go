package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoiredb/grimoire/ai/mock"
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
	storebadger "github.com/grimoiredb/grimoire/storage/badger"
	"github.com/grimoiredb/grimoire/storage/sqlite"
)

const testDim = 8

type plannerEnv struct {
	store    *sqlite.Store
	vectors  storage.VectorStore
	embedder *mock.MockEmbedder
	samples  chan *core.PerformanceSample
	planner  *Planner
}

type chanSink struct {
	ch chan *core.PerformanceSample
}

func (s *chanSink) Record(sample *core.PerformanceSample) {
	select {
	case s.ch <- sample:
	default:
	}
}

func newPlannerEnv(t *testing.T) *plannerEnv {
	t.Helper()

	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vectors, _, err := storebadger.NewMemoryVectorStore()
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	embedder := mock.NewMockEmbedder()
	embedder.Dim = testDim

	samples := make(chan *core.PerformanceSample, 16)
	planner, err := NewPlanner(store.Records(), store.Text(), vectors, embedder,
		WithSampleSink(&chanSink{ch: samples}))
	require.NoError(t, err)

	return &plannerEnv{store: store, vectors: vectors, embedder: embedder, samples: samples, planner: planner}
}

// addTextRecord creates a ready record and indexes it for full-text
// search only.
func (e *plannerEnv) addTextRecord(t *testing.T, locator, title, preview string) *core.ContentRecord {
	t.Helper()
	ctx := context.Background()

	record, err := e.store.Records().CreateRecord(ctx, &core.ContentRecord{
		SourceLocator: locator,
		Title:         title,
		Domain:        "science",
		ContentType:   "prose",
		Strategy:      core.StrategyFullStore,
		PolicyVersion: "v2",
		Status:        core.StatusReady,
	})
	require.NoError(t, err)
	require.NoError(t, e.store.Text().IndexRecord(ctx, record, preview))
	return record
}

// addVectorRecord creates a ready record whose only searchable leg is a
// single committed chunk embedded from text.
func (e *plannerEnv) addVectorRecord(t *testing.T, locator, text string) *core.ContentRecord {
	t.Helper()
	ctx := context.Background()

	record, err := e.store.Records().CreateRecord(ctx, &core.ContentRecord{
		SourceLocator: locator,
		Title:         locator,
		Domain:        "science",
		ContentType:   "prose",
		Strategy:      core.StrategyVectorStore,
		PolicyVersion: "v2",
		Status:        core.StatusReady,
	})
	require.NoError(t, err)

	vector, err := e.embedder.EmbedText(ctx, text)
	require.NoError(t, err)

	completionID := string(core.NewID())
	require.NoError(t, e.vectors.EnsureCollection(ctx, "vectors_science", testDim))
	require.NoError(t, e.vectors.StagePoint(ctx, &storage.VectorPoint{
		Mapping: core.VectorMapping{
			Collection: "vectors_science",
			PointID:    string(core.NewID()),
			RecordID:   record.Id,
			Model:      "mock",
		},
		Vector:          vector,
		Generation:      completionID,
		ContentType:     record.ContentType,
		RecordCreatedAt: record.CreatedAt,
	}))
	require.NoError(t, e.vectors.CommitCompletion(ctx, &storage.CompletionMarker{
		CompletionID: completionID,
		Collection:   "vectors_science",
		RecordID:     record.Id,
		ChunkCount:   1,
	}))
	return record
}

func alphaOf(v float64) *float64 {
	return &v
}

func TestQueryValidation(t *testing.T) {
	env := newPlannerEnv(t)
	ctx := context.Background()

	_, err := env.planner.Query(ctx, Request{})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.ErrorIs(t, err, ErrNoQuery)

	_, err = env.planner.Query(ctx, Request{Text: "atoms", Alpha: alphaOf(1.5)})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestTextOnlyQuery(t *testing.T) {
	env := newPlannerEnv(t)
	ctx := context.Background()

	match := env.addTextRecord(t, "doc://a", "On Atoms", "atoms swerve through the void")
	env.addTextRecord(t, "doc://b", "On Rivers", "water flows downhill")

	resp, err := env.planner.Query(ctx, Request{Text: "atoms"})
	require.NoError(t, err)
	assert.False(t, resp.Partial)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, match.Id, resp.Results[0].Record.Id)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9, "single text hit gets full weight")
}

func TestHybridMergesBothLegs(t *testing.T) {
	env := newPlannerEnv(t)
	ctx := context.Background()

	// One record only the text leg knows, one only the vector leg knows.
	textRec := env.addTextRecord(t, "doc://text", "Atoms", "atoms swerve through the void")
	vecRec := env.addVectorRecord(t, "doc://vector", "atoms swerve")

	resp, err := env.planner.Query(ctx, Request{Text: "atoms swerve", Semantic: true, Alpha: alphaOf(0.5)})
	require.NoError(t, err)
	assert.False(t, resp.Partial)
	require.Len(t, resp.Results, 2)

	// Each record tops its own leg, so both merge at 0.5. Ties order
	// by record id.
	got := map[core.ID]*Result{}
	for _, r := range resp.Results {
		got[r.Record.Id] = r
	}
	require.Contains(t, got, textRec.Id)
	require.Contains(t, got, vecRec.Id)
	assert.InDelta(t, 0.5, got[textRec.Id].Score, 1e-9)
	assert.InDelta(t, 0.5, got[vecRec.Id].Score, 1e-9)
	assert.Zero(t, got[textRec.Id].VectorScore)
	assert.Zero(t, got[vecRec.Id].TextRank)

	lo, hi := resp.Results[0].Record.Id, resp.Results[1].Record.Id
	assert.Less(t, string(lo), string(hi), "equal scores order by record id")
}

func TestZeroAlphaWeighsVectorLegOnly(t *testing.T) {
	env := newPlannerEnv(t)
	ctx := context.Background()

	textRec := env.addTextRecord(t, "doc://text", "Atoms", "atoms swerve through the void")
	vecRec := env.addVectorRecord(t, "doc://vector", "atoms swerve")

	// An explicit zero is pure vector weighting, not the default.
	resp, err := env.planner.Query(ctx, Request{Text: "atoms swerve", Semantic: true, Alpha: alphaOf(0)})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, vecRec.Id, resp.Results[0].Record.Id)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)

	assert.Equal(t, textRec.Id, resp.Results[1].Record.Id)
	assert.Zero(t, resp.Results[1].Score, "text-only hit carries no weight at alpha zero")
}

func TestHybridDedupsRecordInBothLegs(t *testing.T) {
	env := newPlannerEnv(t)
	ctx := context.Background()

	record := env.addTextRecord(t, "doc://both", "Atoms", "atoms swerve through the void")

	vector, err := env.embedder.EmbedText(ctx, "atoms swerve")
	require.NoError(t, err)
	completionID := string(core.NewID())
	require.NoError(t, env.vectors.EnsureCollection(ctx, "vectors_science", testDim))
	require.NoError(t, env.vectors.StagePoint(ctx, &storage.VectorPoint{
		Mapping:    core.VectorMapping{Collection: "vectors_science", RecordID: record.Id},
		Vector:     vector,
		Generation: completionID,
	}))
	require.NoError(t, env.vectors.CommitCompletion(ctx, &storage.CompletionMarker{
		CompletionID: completionID,
		Collection:   "vectors_science",
		RecordID:     record.Id,
		ChunkCount:   1,
	}))

	resp, err := env.planner.Query(ctx, Request{Text: "atoms swerve", Semantic: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1, "one record in both legs surfaces once")
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
}

func TestVectorLegDegradesToPartial(t *testing.T) {
	env := newPlannerEnv(t)
	ctx := context.Background()

	env.addTextRecord(t, "doc://a", "Atoms", "atoms swerve through the void")
	env.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding host unreachable")
	}

	resp, err := env.planner.Query(ctx, Request{Text: "atoms", Semantic: true})
	require.NoError(t, err)
	assert.True(t, resp.Partial, "failed vector leg degrades, not fails")
	require.Len(t, resp.Results, 1)
}

func TestBothLegsFailing(t *testing.T) {
	env := newPlannerEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Close())
	env.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding host unreachable")
	}

	_, err := env.planner.Query(ctx, Request{Text: "atoms", Semantic: true})
	assert.ErrorIs(t, err, core.ErrTransientStore)
}

func TestFiltersApplyToVectorLeg(t *testing.T) {
	env := newPlannerEnv(t)
	ctx := context.Background()

	record := env.addVectorRecord(t, "doc://vector", "atoms swerve")

	resp, err := env.planner.Query(ctx, Request{
		Text:     "atoms swerve",
		Semantic: true,
		Filters:  storage.QueryFilter{ContentType: "poetry"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "content-type filter excludes the prose record")

	resp, err = env.planner.Query(ctx, Request{
		Text:     "atoms swerve",
		Semantic: true,
		Filters:  storage.QueryFilter{Domain: "science"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, record.Id, resp.Results[0].Record.Id)

	t.Run("unknown domain searches an absent collection", func(t *testing.T) {
		resp, err := env.planner.Query(ctx, Request{
			Text:     "atoms swerve",
			Semantic: true,
			Filters:  storage.QueryFilter{Domain: "alchemy"},
		})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
		assert.False(t, resp.Partial)
	})
}

func TestQueryTouchesAccessAndFeedsTracker(t *testing.T) {
	env := newPlannerEnv(t)
	ctx := context.Background()

	record := env.addTextRecord(t, "doc://a", "Atoms", "atoms swerve through the void")

	_, err := env.planner.Query(ctx, Request{Text: "atoms"})
	require.NoError(t, err)

	stored, err := env.store.Records().GetRecord(ctx, record.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Access.QueryCount)
	assert.False(t, stored.Access.LastQueriedAt.IsZero())

	select {
	case sample := <-env.samples:
		assert.Equal(t, core.StrategyFullStore, sample.Strategy)
		assert.Equal(t, 1, sample.RowsReturned)
		assert.False(t, sample.Partial)
		assert.NotEmpty(t, sample.QuerySignature)
	case <-time.After(time.Second):
		t.Fatal("no performance sample recorded")
	}
}

func TestQuerySignatureNormalization(t *testing.T) {
	a := querySignature(Request{Text: "the atoms swerve"}, core.StrategyHybrid)
	b := querySignature(Request{Text: "Swerve, atoms!"}, core.StrategyHybrid)
	assert.Equal(t, a, b, "stop words, order, case, punctuation are ignored")

	c := querySignature(Request{Text: "atoms swerve", Filters: storage.QueryFilter{Domain: "science"}}, core.StrategyHybrid)
	assert.NotEqual(t, a, c, "filters change the signature")

	d := querySignature(Request{Text: "atoms swerve"}, core.StrategyFullStore)
	assert.NotEqual(t, a, d, "plan mode changes the signature")
}
