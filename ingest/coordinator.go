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


package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/grimoiredb/grimoire/ai"
	"github.com/grimoiredb/grimoire/classify"
	"github.com/grimoiredb/grimoire/consistency"
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/policy"
	"github.com/grimoiredb/grimoire/storage"
)

const defaultPreviewBytes = 2048

// Submission is one document offered for ingestion.
type Submission struct {
	SourceLocator string
	Title         string
	Author        string
	Domain        string
	ContentType   string
	Content       string
	Keywords      []string
	Metadata      map[string]string
}

func (s Submission) validate() error {
	if strings.TrimSpace(s.SourceLocator) == "" {
		return fmt.Errorf("%w: %w", core.ErrValidation, core.ErrEmptyLocator)
	}
	if strings.TrimSpace(s.Domain) == "" {
		return fmt.Errorf("%w: %w", core.ErrValidation, core.ErrEmptyDomain)
	}
	if strings.TrimSpace(s.Content) == "" {
		return fmt.Errorf("%w: %w", core.ErrValidation, core.ErrEmptyContent)
	}
	return nil
}

// Coordinator orchestrates placement: classify, decide, write every
// storage leg the strategy requires, then publish the location pointer
// through the consistency mapper. One writer per source locator.
type Coordinator struct {
	records    storage.RecordRepository
	blobs      storage.BlobStore
	text       storage.TextSearcher
	vectors    storage.VectorStore
	tables     storage.TableRegistry
	embedder   ai.Embedder
	classifier *classify.Classifier
	policy     *policy.Policy
	mapper     *consistency.Mapper

	chunker      *Chunker
	locks        *keyedMutex
	embedModel   string
	embedDim     int
	chunkWorkers int
	previewBytes int
	logger       *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// WithChunker replaces the default chunking window.
func WithChunker(chunker *Chunker) Option {
	return func(c *Coordinator) error {
		if chunker == nil {
			return fmt.Errorf("%w: chunker required", core.ErrValidation)
		}
		c.chunker = chunker
		return nil
	}
}

// WithChunkWorkers bounds the number of concurrent chunk writes per
// document. Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithChunkWorkers(workers int) Option {
	return func(c *Coordinator) error {
		if workers < 1 {
			workers = 1
		}
		c.chunkWorkers = workers
		return nil
	}
}

// WithEmbedding sets the embedding model recorded on every chunk
// mapping and the dimensionality collections are pinned to.
func WithEmbedding(model string, dim int) Option {
	return func(c *Coordinator) error {
		if model == "" || dim <= 0 {
			return fmt.Errorf("%w: embedding model and positive dim required", core.ErrValidation)
		}
		c.embedModel = model
		c.embedDim = dim
		return nil
	}
}

// WithTableRegistry enables the specialized-table strategy. Without a
// registry that strategy degrades to plain full storage.
func WithTableRegistry(tables storage.TableRegistry) Option {
	return func(c *Coordinator) error {
		c.tables = tables
		return nil
	}
}

// NewCoordinator creates a storage coordinator.
func NewCoordinator(
	records storage.RecordRepository,
	blobs storage.BlobStore,
	text storage.TextSearcher,
	vectors storage.VectorStore,
	embedder ai.Embedder,
	classifier *classify.Classifier,
	pol *policy.Policy,
	mapper *consistency.Mapper,
	opts ...Option,
) (*Coordinator, error) {
	if records == nil {
		return nil, ErrRecordRepositoryRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if text == nil {
		return nil, ErrTextSearcherRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if classifier == nil {
		return nil, ErrClassifierRequired
	}
	if pol == nil {
		return nil, ErrPolicyRequired
	}
	if mapper == nil {
		return nil, ErrMapperRequired
	}

	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}

	c := &Coordinator{
		records:      records,
		blobs:        blobs,
		text:         text,
		vectors:      vectors,
		embedder:     embedder,
		classifier:   classifier,
		policy:       pol,
		mapper:       mapper,
		chunker:      DefaultChunker(),
		locks:        newKeyedMutex(),
		embedModel:   "embeddinggemma",
		embedDim:     768,
		chunkWorkers: workers,
		previewBytes: defaultPreviewBytes,
		logger:       slog.Default().With("component", "ingest"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Ingest places one document. Re-submitting an existing locator is
// resolved as a re-scrape: byte-identical content under the current
// policy short-circuits, anything else is re-placed and the pointer
// swapped. On a partial leg failure the record is left degraded with
// the succeeded leg readable and an error is returned; the reconciler
// repairs it later.
func (c *Coordinator) Ingest(ctx context.Context, sub Submission) (*core.ContentRecord, error) {
	if err := sub.validate(); err != nil {
		return nil, err
	}

	unlock := c.locks.lock(sub.SourceLocator)
	defer unlock()

	body := []byte(sub.Content)
	hash := core.HashContent(body)

	existing, err := c.records.GetRecordByLocator(ctx, sub.SourceLocator)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if existing != nil && existing.Status == core.StatusReady &&
		existing.Location.ContentHash == hash && !c.policy.Stale(existing) {
		c.logger.Debug("re-scrape with identical content", "locator", sub.SourceLocator)
		return existing, nil
	}

	profile, err := c.classifier.Profile(sub.Content, sub.Domain, sub.ContentType)
	if err != nil {
		return nil, err
	}

	decision, err := c.policy.Decide(int64(len(body)), profile, sub.Domain)
	if err != nil {
		return nil, err
	}

	record := existing
	if record == nil {
		record = &core.ContentRecord{
			SourceLocator: sub.SourceLocator,
			Status:        core.StatusMigrating,
		}
	}
	record.Title = sub.Title
	record.Author = sub.Author
	record.Domain = sub.Domain
	record.ContentType = sub.ContentType
	record.DeclaredSize = int64(len(body))
	record.Profile = profile
	record.Strategy = decision.Strategy
	record.PolicyVersion = decision.PolicyVersion
	record.Confidence = decision.Confidence
	record.Keywords = sub.Keywords
	record.Metadata = sub.Metadata

	if existing == nil {
		if _, err := c.records.CreateRecord(ctx, record); err != nil {
			if !errors.Is(err, storage.ErrDuplicateKey) {
				return nil, err
			}
			// Lost a cross-process race for the locator; resolve as a
			// re-scrape of the winner's record.
			prev, gErr := c.records.GetRecordByLocator(ctx, sub.SourceLocator)
			if gErr != nil {
				return nil, gErr
			}
			record.Id = prev.Id
			record.CreatedAt = prev.CreatedAt
			record.Location = prev.Location
			record.Access = prev.Access
			record.Status = prev.Status
			existing = prev
			if _, err := c.records.UpdateRecord(ctx, record); err != nil {
				return nil, err
			}
		}
	} else {
		if _, err := c.records.UpdateRecord(ctx, record); err != nil {
			return nil, err
		}
	}

	loc, legErr := c.writeLegs(ctx, record, sub.Content, hash, decision.Strategy)
	if legErr != nil {
		c.degrade(ctx, record, loc, decision)
		return record, fmt.Errorf("%w: writing legs for %s: %w", core.ErrTransientStore, record.Id, legErr)
	}

	if existing != nil && existing.Location != (core.Location{}) {
		if err := c.mapper.Swap(ctx, record, loc, decision.Strategy, decision.PolicyVersion); err != nil {
			c.degrade(ctx, record, loc, decision)
			return record, err
		}
	} else {
		if err := c.mapper.Publish(ctx, record.Id, loc, decision.Strategy, decision.PolicyVersion); err != nil {
			c.degrade(ctx, record, loc, decision)
			return record, err
		}
		record.Location = loc
		record.Status = core.StatusReady
	}

	c.logger.Info("document placed",
		"locator", sub.SourceLocator,
		"record", record.Id,
		"strategy", decision.Strategy,
		"confidence", decision.Confidence)
	return record, nil
}

// Repair re-runs the storage legs of a degraded record from its stored
// body and publishes the result. Records without a stored body cannot
// be repaired automatically.
func (c *Coordinator) Repair(ctx context.Context, record *core.ContentRecord) error {
	unlock := c.locks.lock(record.SourceLocator)
	defer unlock()

	loc, err := c.Materialize(ctx, record, record.Strategy)
	if err != nil {
		return err
	}

	if err := c.mapper.Publish(ctx, record.Id, loc, record.Strategy, record.PolicyVersion); err != nil {
		return err
	}
	record.Location = loc
	record.Status = core.StatusReady
	return nil
}

// Materialize writes the storage legs a strategy requires using the
// record's stored content body and returns the resulting location
// without publishing it. An existing body is never dropped, so a
// record can always be migrated back to a fuller strategy later.
func (c *Coordinator) Materialize(ctx context.Context, record *core.ContentRecord, strategy core.Strategy) (core.Location, error) {
	if !record.Location.HasBlob || record.Location.ContentHash == "" {
		return core.Location{}, fmt.Errorf("%w: record %s has no stored body", ErrContentUnavailable, record.Id)
	}

	blob, err := c.blobs.GetBlob(ctx, record.Location.ContentHash)
	if err != nil {
		return core.Location{}, fmt.Errorf("loading body for %s: %w", record.Id, err)
	}

	loc, err := c.writeLegs(ctx, record, string(blob.Body), blob.ContentHash, strategy)
	if err != nil {
		return loc, err
	}
	loc.HasBlob = true
	return loc, nil
}

// degrade records a partial failure: the location columns point at
// whatever legs succeeded, the status flags the record for the
// reconciler.
func (c *Coordinator) degrade(ctx context.Context, record *core.ContentRecord, loc core.Location, decision policy.Decision) {
	if err := c.records.SetLocation(ctx, record.Id, loc, decision.Strategy, decision.PolicyVersion, core.StatusDegraded); err != nil {
		c.logger.Error("marking record degraded failed", "record", record.Id, "err", err)
		return
	}
	record.Location = loc
	record.Status = core.StatusDegraded
}

// writeLegs writes every leg the strategy requires and returns the
// location describing what was written. On error the returned location
// still describes the legs that succeeded.
func (c *Coordinator) writeLegs(ctx context.Context, record *core.ContentRecord, content string, hash core.ContentHash, strategy core.Strategy) (core.Location, error) {
	loc := core.Location{ContentHash: hash}

	if strategy.NeedsBlob() {
		blob := &core.FullContentBlob{ContentHash: hash, Body: []byte(content)}
		if err := c.blobs.PutBlob(ctx, blob); err != nil {
			return loc, fmt.Errorf("blob leg: %w", err)
		}
		loc.HasBlob = true
	}

	if err := c.text.IndexRecord(ctx, record, preview(content, c.previewBytes)); err != nil {
		return loc, fmt.Errorf("text leg: %w", err)
	}

	if strategy == core.StrategySpecializedTable && c.tables != nil {
		if err := c.ensureDomainTable(ctx, record.Domain); err != nil {
			return loc, fmt.Errorf("table leg: %w", err)
		}
	}

	if strategy.NeedsVectors() {
		collection := core.CollectionForDomain(record.Domain)
		if err := c.vectors.EnsureCollection(ctx, collection, c.embedDim); err != nil {
			return loc, fmt.Errorf("vector leg: %w", err)
		}

		// Rewriting a record stages the replacement set under a fresh
		// generation beside the committed one. The committed set stays
		// authoritative until CommitCompletion flips the marker, so a
		// failed staging pass leaves the record fully readable.
		completionID := uuid.NewString()

		chunks := c.chunker.Split(content)
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Text
		}

		vectors, err := c.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return loc, fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
		}
		if len(vectors) != len(chunks) {
			return loc, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.chunkWorkers)
		for i := range chunks {
			chunk, vector := chunks[i], vectors[i]
			g.Go(func() error {
				return c.vectors.StagePoint(gctx, &storage.VectorPoint{
					Mapping: core.VectorMapping{
						Collection: collection,
						PointID:    uuid.NewString(),
						RecordID:   record.Id,
						Dim:        c.embedDim,
						Model:      c.embedModel,
						ChunkSeq:   chunk.Seq,
						WordCount:  chunk.WordCount,
					},
					Vector:          vector,
					Generation:      completionID,
					ContentType:     record.ContentType,
					RecordCreatedAt: record.CreatedAt,
				})
			})
		}
		if err := g.Wait(); err != nil {
			return loc, fmt.Errorf("staging chunks: %w", err)
		}

		if err := c.vectors.CommitCompletion(ctx, &storage.CompletionMarker{
			CompletionID: completionID,
			Collection:   collection,
			RecordID:     record.Id,
			ChunkCount:   len(chunks),
		}); err != nil {
			return loc, fmt.Errorf("committing completion: %w", err)
		}

		loc.Collection = collection
		loc.ChunkCount = len(chunks)
		loc.CompletionID = completionID
	}

	return loc, nil
}

// ensureDomainTable registers the standard per-domain side table and
// bumps its usage counter.
func (c *Coordinator) ensureDomainTable(ctx context.Context, domain string) error {
	name := tableForDomain(domain)
	desc := &core.TableDescriptor{
		Name: name,
		Columns: []core.ColumnDef{
			{Name: "title", Type: "TEXT"},
			{Name: "author", Type: "TEXT"},
			{Name: "word_count", Type: "INTEGER"},
			{Name: "ingested_at", Type: "DATETIME"},
		},
		Indexes: []core.IndexDef{
			{Name: "idx_" + name + "_title", Columns: []string{"title"}},
		},
	}
	if _, err := c.tables.RegisterTable(ctx, desc); err != nil {
		return err
	}
	return c.tables.BumpUsage(ctx, name)
}

// tableForDomain derives the side-table name for a domain.
func tableForDomain(domain string) string {
	var b strings.Builder
	b.WriteString("tbl_")
	for _, r := range strings.ToLower(domain) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// preview truncates content for the full-text index without splitting
// a word mid-way.
func preview(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	cut := content[:limit]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}
