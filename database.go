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


package grimoire

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/grimoiredb/grimoire/ai"
	"github.com/grimoiredb/grimoire/ai/openai"
	"github.com/grimoiredb/grimoire/classify"
	"github.com/grimoiredb/grimoire/consistency"
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/ingest"
	"github.com/grimoiredb/grimoire/migrate"
	"github.com/grimoiredb/grimoire/perf"
	"github.com/grimoiredb/grimoire/policy"
	"github.com/grimoiredb/grimoire/search"
	"github.com/grimoiredb/grimoire/storage"
	badgerstore "github.com/grimoiredb/grimoire/storage/badger"
	"github.com/grimoiredb/grimoire/storage/sqlite"
)

// Database is the storage engine facade: it owns both stores and wires
// the placement, retrieval, and optimization components over them.
type Database struct {
	store       *sqlite.Store
	backend     *badgerstore.Backend
	vectors     storage.VectorStore
	embedder    ai.Embedder
	classifier  *classify.Classifier
	policy      *policy.Policy
	mapper      *consistency.Mapper
	coordinator *ingest.Coordinator
	reconciler  *ingest.Reconciler
	planner     *search.Planner
	tracker     *perf.Tracker
	optimizer   *perf.Optimizer
	migrator    *migrate.Migrator
	logger      *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig        *ai.Config
	policyConfig    policy.Config
	embedder        ai.Embedder
	inMemoryVectors bool
}

// WithAIConfig sets the embedding service configuration.
func WithAIConfig(cfg *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = cfg
	}
}

// WithPolicyConfig replaces the default placement thresholds.
func WithPolicyConfig(cfg policy.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.policyConfig = cfg
	}
}

// WithEmbedder injects an embedder directly, bypassing the embedding
// service. Used by tests and offline tooling.
func WithEmbedder(embedder ai.Embedder) DatabaseOption {
	return func(o *databaseOptions) {
		o.embedder = embedder
	}
}

// WithInMemoryVectors keeps the vector store in memory instead of on
// disk. Used by tests.
func WithInMemoryVectors() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemoryVectors = true
	}
}

// NewDatabase opens both stores under dataDir and wires the engine.
func NewDatabase(dataDir string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig:     ai.DefaultConfig(),
		policyConfig: policy.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}
	options.aiConfig.Normalize()

	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return nil, err
	}

	backend, err := badgerstore.OpenBackend(filepath.Join(dataDir, "vectors"), options.inMemoryVectors)
	if err != nil {
		store.Close()
		return nil, err
	}
	vectors := badgerstore.NewVectorRepository(backend)

	embedder := options.embedder
	if embedder == nil {
		embedder, err = openai.NewEmbedder(options.aiConfig)
		if err != nil {
			backend.Close()
			store.Close()
			return nil, err
		}
	}

	classifier, err := classify.NewClassifier()
	if err != nil {
		backend.Close()
		store.Close()
		return nil, err
	}

	pol, err := policy.New(options.policyConfig)
	if err != nil {
		backend.Close()
		store.Close()
		return nil, err
	}

	mapper, err := consistency.NewMapper(store.Records(), store.Blobs(), vectors)
	if err != nil {
		backend.Close()
		store.Close()
		return nil, err
	}

	coordinator, err := ingest.NewCoordinator(
		store.Records(), store.Blobs(), store.Text(), vectors,
		embedder, classifier, pol, mapper,
		ingest.WithEmbedding(options.aiConfig.EmbeddingModel, options.aiConfig.EmbeddingDim),
		ingest.WithTableRegistry(store.Tables()),
	)
	if err != nil {
		backend.Close()
		store.Close()
		return nil, err
	}

	reconciler, err := ingest.NewReconciler(coordinator)
	if err != nil {
		backend.Close()
		store.Close()
		return nil, err
	}

	tracker, err := perf.NewTracker(store.Samples())
	if err != nil {
		reconciler.Release()
		backend.Close()
		store.Close()
		return nil, err
	}

	planner, err := search.NewPlanner(store.Records(), store.Text(), vectors, embedder,
		search.WithSampleSink(tracker))
	if err != nil {
		tracker.Release()
		reconciler.Release()
		backend.Close()
		store.Close()
		return nil, err
	}

	optimizer, err := perf.NewOptimizer(store.Samples(), store.Recommendations(), store.Records(), pol)
	if err != nil {
		tracker.Release()
		reconciler.Release()
		backend.Close()
		store.Close()
		return nil, err
	}

	migrator, err := migrate.NewMigrator(store.Records(), store.Recommendations(),
		coordinator, mapper, pol)
	if err != nil {
		tracker.Release()
		reconciler.Release()
		backend.Close()
		store.Close()
		return nil, err
	}

	return &Database{
		store:       store,
		backend:     backend,
		vectors:     vectors,
		embedder:    embedder,
		classifier:  classifier,
		policy:      pol,
		mapper:      mapper,
		coordinator: coordinator,
		reconciler:  reconciler,
		planner:     planner,
		tracker:     tracker,
		optimizer:   optimizer,
		migrator:    migrator,
		logger:      slog.Default().With("component", "database"),
	}, nil
}

// Close releases the worker pools and both stores.
func (db *Database) Close() error {
	db.tracker.Release()
	db.reconciler.Release()

	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing vector store", "err", err)
		return err
	}
	if err := db.store.Close(); err != nil {
		db.logger.Error("error closing relational store", "err", err)
		return err
	}
	return nil
}

// Ingest places one document.
func (db *Database) Ingest(ctx context.Context, sub ingest.Submission) (*core.ContentRecord, error) {
	return db.coordinator.Ingest(ctx, sub)
}

// Query runs one retrieval request.
func (db *Database) Query(ctx context.Context, req search.Request) (*search.Response, error) {
	return db.planner.Query(ctx, req)
}

// Recommendations lists optimizer recommendations in the given status.
// An empty status lists all.
func (db *Database) Recommendations(ctx context.Context, status core.RecommendationStatus) ([]*core.Recommendation, error) {
	return db.store.Recommendations().ListRecommendations(ctx, status)
}

// Analyze runs one optimizer pass over the sample window.
func (db *Database) Analyze(ctx context.Context) (*perf.Report, error) {
	return db.optimizer.Analyze(ctx, time.Now().UTC())
}

// Apply routes a pending recommendation through the migration engine.
func (db *Database) Apply(ctx context.Context, recommendationID string) error {
	return db.migrator.ApplyRecommendation(ctx, recommendationID)
}

// Migrate re-places every record left stale by a policy change.
func (db *Database) Migrate(ctx context.Context) (*migrate.Summary, error) {
	return db.migrator.Run(ctx)
}

// Sweep runs one reconciliation pass: repair degraded records, collect
// vector-store garbage.
func (db *Database) Sweep(ctx context.Context) (ingest.SweepReport, error) {
	return db.reconciler.Sweep(ctx)
}

// Status is a health snapshot of the engine.
type Status struct {
	DataDir       string
	PolicyVersion string
	Collections   []string
	Degraded      []*core.ContentRecord
	NeedsReview   []*core.ContentRecord
	Pending       int
}

// Status reports degraded and review-flagged records, known vector
// collections, and the count of pending recommendations.
func (db *Database) Status(ctx context.Context) (*Status, error) {
	degraded, err := db.store.Records().ListByStatus(ctx, core.StatusDegraded, 100)
	if err != nil {
		return nil, err
	}

	status := &Status{
		DataDir:       db.store.Path(),
		PolicyVersion: db.policy.Version(),
	}
	for _, record := range degraded {
		if record.NeedsReview {
			status.NeedsReview = append(status.NeedsReview, record)
		} else {
			status.Degraded = append(status.Degraded, record)
		}
	}

	status.Collections, err = db.vectors.Collections(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := db.store.Recommendations().ListRecommendations(ctx, core.RecommendationPending)
	if err != nil {
		return nil, err
	}
	status.Pending = len(pending)
	return status, nil
}

// Records exposes the record repository for tooling.
func (db *Database) Records() storage.RecordRepository {
	return db.store.Records()
}

// Policy returns the active placement policy.
func (db *Database) Policy() *policy.Policy {
	return db.policy
}
