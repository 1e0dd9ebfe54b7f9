package storage

import (
	"context"
	"time"

	"github.com/grimoiredb/grimoire/core"
)

// QueryFilter carries the structured filters that are pushed down into
// sub-queries before execution.
type QueryFilter struct {
	Domain      string
	ContentType string
	Since       time.Time
	Until       time.Time
}

// TextHit is one full-text match from the relational store, with the
// store's native rank (higher is better).
type TextHit struct {
	RecordID core.ID
	Rank     float64
}

// VectorHit is one nearest-neighbor match from the vector store.
type VectorHit struct {
	RecordID core.ID
	ChunkSeq int
	Score    float32
}

// RecordRepository owns ContentRecord rows. Implementations must be safe
// for concurrent use.
type RecordRepository interface {
	// CreateRecord inserts a new record. The source locator is unique;
	// inserting a second record for the same locator returns
	// ErrDuplicateKey so the coordinator can resolve it as a re-scrape.
	CreateRecord(ctx context.Context, record *core.ContentRecord) (*core.ContentRecord, error)

	// GetRecord retrieves a record by ID. Returns ErrNotFound if absent.
	GetRecord(ctx context.Context, id core.ID) (*core.ContentRecord, error)

	// GetRecordByLocator retrieves a record by its source locator.
	// Returns ErrNotFound if absent.
	GetRecordByLocator(ctx context.Context, locator string) (*core.ContentRecord, error)

	// GetRecords retrieves multiple records by ID. Missing IDs are
	// skipped, not errors.
	GetRecords(ctx context.Context, ids ...core.ID) ([]*core.ContentRecord, error)

	// UpdateRecord overwrites a record's mutable fields and bumps
	// UpdatedAt. Returns ErrNotFound if the record doesn't exist.
	UpdateRecord(ctx context.Context, record *core.ContentRecord) (*core.ContentRecord, error)

	// UpdateStatus transitions a record's consistency status.
	UpdateStatus(ctx context.Context, id core.ID, status core.RecordStatus, needsReview bool) error

	// SetLocation atomically publishes a new location pointer together
	// with the strategy, policy version, and status it belongs to. This
	// is the only way a pointer changes; callers must have verified the
	// target location first.
	SetLocation(ctx context.Context, id core.ID, loc core.Location, strategy core.Strategy, policyVersion string, status core.RecordStatus) error

	// TouchAccess bumps the access stats with relaxed semantics: a lost
	// increment under race is acceptable.
	TouchAccess(ctx context.Context, id core.ID, at time.Time) error

	// ListByStatus returns up to limit records in the given status.
	ListByStatus(ctx context.Context, status core.RecordStatus, limit int) ([]*core.ContentRecord, error)

	// ListStale returns up to limit ready records placed under a policy
	// version other than current.
	ListStale(ctx context.Context, current string, limit int) ([]*core.ContentRecord, error)

	// Close releases the underlying store.
	Close() error
}

// BlobStore owns full content bodies, keyed by content hash.
type BlobStore interface {
	// PutBlob stores a blob. Idempotent: a retry with the same hash is
	// a no-op, never a duplicate.
	PutBlob(ctx context.Context, blob *core.FullContentBlob) error

	// GetBlob retrieves a blob by hash. Returns ErrNotFound if absent.
	GetBlob(ctx context.Context, hash core.ContentHash) (*core.FullContentBlob, error)

	// HasBlob reports whether a blob exists without loading the body.
	HasBlob(ctx context.Context, hash core.ContentHash) (bool, error)

	// DeleteBlob removes a blob. Deleting a missing blob is a no-op.
	DeleteBlob(ctx context.Context, hash core.ContentHash) error

	// MarkBlobForGC schedules a blob for deferred deletion. The blob
	// stays readable until SweepBlobGC runs past the grace period, so
	// readers holding an old location pointer are covered. Re-putting
	// the hash clears the mark.
	MarkBlobForGC(ctx context.Context, hash core.ContentHash, at time.Time) error

	// SweepBlobGC deletes blobs whose GC mark is older than grace.
	// Returns the number removed.
	SweepBlobGC(ctx context.Context, now time.Time, grace time.Duration) (int, error)
}

// TextSearcher ranks records by the relational store's native full-text
// scoring over title and content preview.
type TextSearcher interface {
	// IndexRecord adds or replaces the record's full-text entry.
	IndexRecord(ctx context.Context, record *core.ContentRecord, preview string) error

	// DeindexRecord removes the record's full-text entry.
	DeindexRecord(ctx context.Context, id core.ID) error

	// SearchText returns ranked matches with the filter pushed into the
	// query, not applied afterwards.
	SearchText(ctx context.Context, query string, filter QueryFilter, limit int) ([]TextHit, error)
}

// VectorStore owns embedded chunks. Writes are staged: points become
// visible to search only once a completion marker covers them.
type VectorStore interface {
	// EnsureCollection creates the collection if needed and pins its
	// dimensionality.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Collections lists known collection names.
	Collections(ctx context.Context) ([]string, error)

	// StagePoint writes one chunk in staging state under the point's
	// generation. Staged points are invisible to search until a
	// completion marker commits their generation; a previously committed
	// generation stays readable while a replacement is being staged.
	StagePoint(ctx context.Context, point *VectorPoint) error

	// CommitCompletion writes the single completion marker that makes
	// the generation named by the marker's CompletionID readable. It
	// must only be called after every chunk write of that generation has
	// acknowledged. Committing atomically retires the record's previous
	// generation, if any.
	CommitCompletion(ctx context.Context, marker *CompletionMarker) error

	// HasCompletion reports whether a completion marker covers the
	// record in the given collection.
	HasCompletion(ctx context.Context, collection string, recordID core.ID) (bool, error)

	// Mappings returns the committed chunk mappings for a record,
	// ordered by chunk sequence.
	Mappings(ctx context.Context, collection string, recordID core.ID) ([]core.VectorMapping, error)

	// SearchVectors runs cosine top-K over committed points. The filter
	// is evaluated against each point's payload before ranking, so
	// filtered-out points never consume result slots.
	SearchVectors(ctx context.Context, collection string, vector []float32, filter QueryFilter, limit int) ([]VectorHit, error)

	// DeletePoints removes all points and the completion marker for a
	// record.
	DeletePoints(ctx context.Context, collection string, recordID core.ID) error

	// MarkForGC schedules a record's points for deferred deletion after
	// a grace period, covering readers holding the old pointer.
	MarkForGC(ctx context.Context, collection string, recordID core.ID, at time.Time) error

	// SweepGC deletes point sets whose GC mark is older than grace.
	// Returns the number of records swept.
	SweepGC(ctx context.Context, now time.Time, grace time.Duration) (int, error)

	// SweepOrphans deletes staged points older than grace with no
	// completion marker. Returns the number of points removed.
	SweepOrphans(ctx context.Context, now time.Time, grace time.Duration) (int, error)

	// Close releases the underlying store.
	Close() error
}

// SampleRepository owns append-only performance samples.
type SampleRepository interface {
	// AppendSample records one sample. Samples are never mutated.
	AppendSample(ctx context.Context, sample *core.PerformanceSample) error

	// SamplesSince returns samples with Timestamp >= since.
	SamplesSince(ctx context.Context, since time.Time) ([]*core.PerformanceSample, error)

	// PruneSamples is the retention sweep: deletes samples older than
	// before. Returns the number removed.
	PruneSamples(ctx context.Context, before time.Time) (int, error)
}

// RecommendationRepository owns optimizer recommendations, deduplicated
// per (type, target).
type RecommendationRepository interface {
	// UpsertRecommendation stores a recommendation. If a pending one
	// already exists for the same (type, target), the incoming one is
	// stored auto-rejected and returned as such.
	UpsertRecommendation(ctx context.Context, rec *core.Recommendation) (*core.Recommendation, error)

	// GetRecommendation retrieves by ID. Returns ErrNotFound if absent.
	GetRecommendation(ctx context.Context, id string) (*core.Recommendation, error)

	// ListRecommendations returns recommendations in the given status,
	// newest first. An empty status lists all.
	ListRecommendations(ctx context.Context, status core.RecommendationStatus) ([]*core.Recommendation, error)

	// UpdateRecommendationStatus transitions a recommendation.
	UpdateRecommendationStatus(ctx context.Context, id string, status core.RecommendationStatus) error

	// ExpirePending marks pending recommendations past their ExpiresAt
	// as expired. Returns the number expired.
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

// TableRegistry owns the dynamic-table descriptors for the
// specialized-table strategy. It is an explicit repository injected into
// the coordinator, not a process-wide singleton.
type TableRegistry interface {
	// RegisterTable stores a descriptor, bumping its version when the
	// schema changed. Applying the descriptor's DDL is idempotent.
	RegisterTable(ctx context.Context, desc *core.TableDescriptor) (*core.TableDescriptor, error)

	// GetTable retrieves a descriptor. Returns ErrNotFound if absent.
	GetTable(ctx context.Context, name string) (*core.TableDescriptor, error)

	// BumpUsage increments a descriptor's usage counter (relaxed).
	BumpUsage(ctx context.Context, name string) error

	// ListTables returns all descriptors.
	ListTables(ctx context.Context) ([]*core.TableDescriptor, error)
}
