package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
	storebadger "github.com/grimoiredb/grimoire/storage/badger"
	"github.com/grimoiredb/grimoire/storage/sqlite"
)

type mapperEnv struct {
	store   *sqlite.Store
	vectors storage.VectorStore
	mapper  *Mapper
}

func newMapperEnv(t *testing.T) *mapperEnv {
	t.Helper()

	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vectors, _, err := storebadger.NewMemoryVectorStore()
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	mapper, err := NewMapper(store.Records(), store.Blobs(), vectors)
	require.NoError(t, err)

	return &mapperEnv{store: store, vectors: vectors, mapper: mapper}
}

// seedRecord creates a ready record with a stored blob and returns it
// alongside its location.
func (e *mapperEnv) seedRecord(t *testing.T, ctx context.Context, body string) *core.ContentRecord {
	t.Helper()

	hash := core.HashContent([]byte(body))
	require.NoError(t, e.store.Blobs().PutBlob(ctx, &core.FullContentBlob{
		ContentHash: hash,
		Body:        []byte(body),
		ByteSize:    int64(len(body)),
	}))

	record, err := e.store.Records().CreateRecord(ctx, &core.ContentRecord{
		SourceLocator: "doc://" + string(hash[:8]),
		Title:         "seed",
		Domain:        "philosophy",
		Strategy:      core.StrategyFullStore,
		PolicyVersion: "v1",
		Status:        core.StatusDegraded,
	})
	require.NoError(t, err)

	loc := core.Location{HasBlob: true, ContentHash: hash}
	require.NoError(t, e.mapper.Publish(ctx, record.Id, loc, core.StrategyFullStore, "v1"))

	stored, err := e.store.Records().GetRecord(ctx, record.Id)
	require.NoError(t, err)
	return stored
}

// stageVectors writes and commits a full chunk set for the record.
func (e *mapperEnv) stageVectors(t *testing.T, ctx context.Context, collection string, recordID core.ID, chunks int) core.Location {
	t.Helper()

	require.NoError(t, e.vectors.EnsureCollection(ctx, collection, 4))
	completionID := string(core.NewID())
	for seq := 0; seq < chunks; seq++ {
		require.NoError(t, e.vectors.StagePoint(ctx, &storage.VectorPoint{
			Mapping: core.VectorMapping{
				Collection: collection,
				PointID:    string(core.NewID()),
				RecordID:   recordID,
				Dim:        4,
				Model:      "mock",
				ChunkSeq:   seq,
			},
			Vector:     []float32{1, 0, 0, 0},
			Generation: completionID,
		}))
	}
	require.NoError(t, e.vectors.CommitCompletion(ctx, &storage.CompletionMarker{
		CompletionID: completionID,
		Collection:   collection,
		RecordID:     recordID,
		ChunkCount:   chunks,
	}))
	return core.Location{Collection: collection, ChunkCount: chunks, CompletionID: completionID}
}

func TestVerifyChecksEachRequiredLeg(t *testing.T) {
	env := newMapperEnv(t)
	ctx := context.Background()

	record := env.seedRecord(t, ctx, "the body")

	t.Run("ready blob leg passes", func(t *testing.T) {
		assert.NoError(t, env.mapper.Verify(ctx, record.Id, record.Location, core.StrategyFullStore))
	})

	t.Run("missing blob fails", func(t *testing.T) {
		loc := core.Location{HasBlob: true, ContentHash: core.HashContent([]byte("never stored"))}
		err := env.mapper.Verify(ctx, record.Id, loc, core.StrategyFullStore)
		assert.ErrorIs(t, err, core.ErrConsistencyViolation)
	})

	t.Run("staged but uncommitted vectors fail", func(t *testing.T) {
		require.NoError(t, env.vectors.EnsureCollection(ctx, "vectors_science", 4))
		require.NoError(t, env.vectors.StagePoint(ctx, &storage.VectorPoint{
			Mapping: core.VectorMapping{
				Collection: "vectors_science",
				PointID:    string(core.NewID()),
				RecordID:   record.Id,
				Dim:        4,
				Model:      "mock",
			},
			Vector:     []float32{0, 1, 0, 0},
			Generation: string(core.NewID()),
		}))

		loc := core.Location{Collection: "vectors_science", ChunkCount: 1}
		err := env.mapper.Verify(ctx, record.Id, loc, core.StrategyVectorStore)
		assert.ErrorIs(t, err, core.ErrConsistencyViolation)
	})

	t.Run("chunk count mismatch fails", func(t *testing.T) {
		loc := env.stageVectors(t, ctx, "vectors_history", record.Id, 2)
		loc.ChunkCount = 3
		err := env.mapper.Verify(ctx, record.Id, loc, core.StrategyVectorStore)
		assert.ErrorIs(t, err, core.ErrConsistencyViolation)
	})
}

func TestPublishRefusesUnreadableLocation(t *testing.T) {
	env := newMapperEnv(t)
	ctx := context.Background()

	record, err := env.store.Records().CreateRecord(ctx, &core.ContentRecord{
		SourceLocator: "doc://unreadable",
		Domain:        "philosophy",
		Strategy:      core.StrategyFullStore,
		PolicyVersion: "v1",
		Status:        core.StatusDegraded,
	})
	require.NoError(t, err)

	loc := core.Location{HasBlob: true, ContentHash: core.HashContent([]byte("ghost"))}
	err = env.mapper.Publish(ctx, record.Id, loc, core.StrategyFullStore, "v1")
	require.ErrorIs(t, err, core.ErrConsistencyViolation)

	stored, err := env.store.Records().GetRecord(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDegraded, stored.Status, "failed publish must not move the record to ready")
	assert.False(t, stored.Location.HasBlob)
}

func TestSwapMovesPointerAndSchedulesOldData(t *testing.T) {
	env := newMapperEnv(t)
	ctx := context.Background()

	record := env.seedRecord(t, ctx, "first edition")
	oldHash := record.Location.ContentHash

	// New placement: vectors only, no blob.
	newLoc := env.stageVectors(t, ctx, "vectors_science", record.Id, 1)
	require.NoError(t, env.mapper.Swap(ctx, record, newLoc, core.StrategyVectorStore, "v2"))

	assert.Equal(t, core.StrategyVectorStore, record.Strategy)
	assert.Equal(t, "v2", record.PolicyVersion)
	assert.Equal(t, newLoc, record.Location)

	stored, err := env.store.Records().GetRecord(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, stored.Status)
	assert.Equal(t, newLoc.Collection, stored.Location.Collection)

	// The unreferenced old blob stays readable through the grace period
	// and is collected by the sweep afterwards.
	has, err := env.store.Blobs().HasBlob(ctx, oldHash)
	require.NoError(t, err)
	assert.True(t, has, "old blob stays readable during grace")

	now := time.Now().UTC()
	swept, err := env.store.Blobs().SweepBlobGC(ctx, now, env.mapper.GCGrace())
	require.NoError(t, err)
	assert.Zero(t, swept)

	swept, err = env.store.Blobs().SweepBlobGC(ctx, now.Add(env.mapper.GCGrace()+time.Minute), env.mapper.GCGrace())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	has, err = env.store.Blobs().HasBlob(ctx, oldHash)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSwapFailureLeavesOriginalAuthoritative(t *testing.T) {
	env := newMapperEnv(t)
	ctx := context.Background()

	record := env.seedRecord(t, ctx, "the only edition")
	original := record.Location

	badLoc := core.Location{Collection: "vectors_science", ChunkCount: 1}
	err := env.mapper.Swap(ctx, record, badLoc, core.StrategyVectorStore, "v2")
	require.ErrorIs(t, err, core.ErrConsistencyViolation)

	assert.Equal(t, original, record.Location)
	stored, err := env.store.Records().GetRecord(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, original, stored.Location)
	assert.Equal(t, "v1", stored.PolicyVersion)

	has, err := env.store.Blobs().HasBlob(ctx, original.ContentHash)
	require.NoError(t, err)
	assert.True(t, has, "old blob survives a failed swap")
}

func TestSwappedVectorsStayReadableThroughGrace(t *testing.T) {
	env := newMapperEnv(t)
	ctx := context.Background()

	record := env.seedRecord(t, ctx, "chunked body")
	oldLoc := env.stageVectors(t, ctx, "vectors_science", record.Id, 2)
	require.NoError(t, env.mapper.Swap(ctx, record, oldLoc, core.StrategyVectorStore, "v1"))

	body := "chunked body, revised"
	hash := core.HashContent([]byte(body))
	require.NoError(t, env.store.Blobs().PutBlob(ctx, &core.FullContentBlob{
		ContentHash: hash,
		Body:        []byte(body),
		ByteSize:    int64(len(body)),
	}))
	newLoc := core.Location{HasBlob: true, ContentHash: hash}
	require.NoError(t, env.mapper.Swap(ctx, record, newLoc, core.StrategyFullStore, "v2"))

	// Inside the grace period the old points survive the sweep.
	now := time.Now().UTC()
	deleted, err := env.vectors.SweepGC(ctx, now, env.mapper.GCGrace())
	require.NoError(t, err)
	assert.Zero(t, deleted)

	mappings, err := env.vectors.Mappings(ctx, "vectors_science", record.Id)
	require.NoError(t, err)
	assert.Len(t, mappings, 2)

	// Past the grace period they are collected.
	deleted, err = env.vectors.SweepGC(ctx, now.Add(env.mapper.GCGrace()+time.Minute), env.mapper.GCGrace())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = env.vectors.Mappings(ctx, "vectors_science", record.Id)
	assert.ErrorIs(t, err, storage.ErrNoCompletion)
}
