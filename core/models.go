package core

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ID is a unique identifier for a logical content record.
type ID string

// NewID generates a fresh random record ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// ContentHash identifies a content body by its BLAKE2b-256 digest.
// Identical content always produces an identical hash, which is what
// makes blob writes idempotent.
type ContentHash string

// HashContent computes the ContentHash for a content body.
func HashContent(body []byte) ContentHash {
	h, _ := blake2b.New(32, nil)
	h.Write(body)
	return ContentHash(hex.EncodeToString(h.Sum(nil)))
}

// Strategy is the chosen storage placement for a content item.
type Strategy string

const (
	StrategyMetadataOnly     Strategy = "metadata_only"
	StrategyFullStore        Strategy = "full_store"
	StrategyVectorStore      Strategy = "vector_store"
	StrategySpecializedTable Strategy = "specialized_table"
	StrategyHybrid           Strategy = "hybrid"
)

// storageCost ranks strategies by storage cost, cheapest first.
// Ties at a placement threshold resolve to the lower rank.
var storageCost = map[Strategy]int{
	StrategyMetadataOnly:     0,
	StrategyFullStore:        1,
	StrategyVectorStore:      2,
	StrategySpecializedTable: 3,
	StrategyHybrid:           4,
}

// Cheaper returns the strategy with the lower storage cost.
func Cheaper(a, b Strategy) Strategy {
	if storageCost[b] < storageCost[a] {
		return b
	}
	return a
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	_, ok := storageCost[s]
	return ok
}

// NeedsBlob reports whether the strategy requires the full content body
// in the relational store.
func (s Strategy) NeedsBlob() bool {
	return s == StrategyFullStore || s == StrategyHybrid || s == StrategySpecializedTable
}

// NeedsVectors reports whether the strategy requires embeddings in the
// vector store.
func (s Strategy) NeedsVectors() bool {
	return s == StrategyVectorStore || s == StrategyHybrid
}

// RecordStatus describes the consistency state of a ContentRecord.
type RecordStatus string

const (
	// StatusReady means the location pointer refers to fully written,
	// readable data on every leg the strategy requires.
	StatusReady RecordStatus = "ready"

	// StatusDegraded means one storage leg succeeded and another failed.
	// The record is readable but incomplete; reconciliation repairs it.
	StatusDegraded RecordStatus = "degraded"

	// StatusMigrating means a strategy change is in flight. The location
	// pointer still refers to the old, authoritative data.
	StatusMigrating RecordStatus = "migrating"
)

// ContentProfile holds the classifier's deterministic scores, each in [0, 1].
type ContentProfile struct {
	SemanticComplexity float64
	TopicCoherence     float64
	InformationDensity float64
	QueryPotential     float64
}

// Location is the authoritative pointer from a logical record to its
// physical data. On a ready record it always resolves to readable data.
type Location struct {
	HasBlob      bool
	ContentHash  ContentHash
	Collection   string
	ChunkCount   int
	CompletionID string
}

// AccessStats tracks read activity on a record. Updates are relaxed:
// lost increments under race are acceptable because the stats only feed
// placement heuristics.
type AccessStats struct {
	QueryCount      int64
	LastQueriedAt   time.Time
	AccessFrequency float64
}

// ContentRecord is the logical record for one ingested document.
// Exactly one record exists per source locator.
type ContentRecord struct {
	Id            ID
	SourceLocator string
	Title         string
	Author        string
	Domain        string
	ContentType   string
	DeclaredSize  int64

	Profile       ContentProfile
	Strategy      Strategy
	PolicyVersion string
	Confidence    float64

	Status      RecordStatus
	NeedsReview bool
	Location    Location
	Access      AccessStats

	Keywords []string
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullContentBlob is the full text body, keyed by content hash.
// At most one ContentRecord owns a blob at a time.
type FullContentBlob struct {
	ContentHash ContentHash
	Body        []byte
	ByteSize    int64
	CreatedAt   time.Time
}

// VectorMapping describes one embedded chunk of a record in the vector
// store. Chunked documents have many mappings, ordered by ChunkSeq.
type VectorMapping struct {
	Collection string
	PointID    string
	RecordID   ID
	Dim        int
	Model      string
	ChunkSeq   int
	WordCount  int
}

// CollectionForDomain derives the vector collection name for a domain.
// Collections are per-domain so domain filters resolve to collection
// selection instead of post-filtering.
func CollectionForDomain(domain string) string {
	var b strings.Builder
	b.WriteString("vectors_")
	for _, r := range strings.ToLower(domain) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// TableDescriptor is a declarative, versioned schema for the
// specialized-table strategy. The descriptor is authoritative; applying
// its DDL is idempotent.
type TableDescriptor struct {
	Name       string
	Version    int
	Columns    []ColumnDef
	Indexes    []IndexDef
	UsageCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ColumnDef is one column in a TableDescriptor.
type ColumnDef struct {
	Name string
	Type string
}

// IndexDef is one index in a TableDescriptor.
type IndexDef struct {
	Name    string
	Columns []string
}

// PerformanceSample is an append-only observation of one executed query.
type PerformanceSample struct {
	QuerySignature string
	Strategy       Strategy
	Domain         string
	Latency        time.Duration
	RowsReturned   int
	Partial        bool
	Timestamp      time.Time
}

// RecommendationType classifies an optimization recommendation.
type RecommendationType string

const (
	RecommendMigrateStrategy RecommendationType = "migrate_strategy"
	RecommendAddIndex        RecommendationType = "add_index"
)

// RecommendationStatus is the lifecycle state of a recommendation.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "pending"
	RecommendationApplied  RecommendationStatus = "applied"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationFailed   RecommendationStatus = "failed"
	RecommendationExpired  RecommendationStatus = "expired"
)

// Recommendation is an optimizer suggestion. At most one pending
// recommendation exists per (Type, Target).
type Recommendation struct {
	Id                   string
	Type                 RecommendationType
	Target               string
	Description          string
	EstimatedImprovement float64
	Confidence           float64
	Status               RecommendationStatus
	CreatedAt            time.Time
	ExpiresAt            time.Time
}
