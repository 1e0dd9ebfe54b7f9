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


package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/grimoiredb/grimoire/ai"
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

const (
	// DefaultAlpha is the text weight in the hybrid merge formula.
	DefaultAlpha = 0.5

	// DefaultLimit caps results when the request doesn't.
	DefaultLimit = 10

	defaultSubTimeout = 2 * time.Second

	// candidateFactor oversamples each leg so the merge has enough
	// candidates to dedup and rerank before truncating.
	candidateFactor = 4
)

// Request describes one retrieval query. A nil Alpha means
// DefaultAlpha, so an explicit zero still expresses a pure-vector
// merge; a limit of zero means DefaultLimit.
type Request struct {
	Text     string
	Filters  storage.QueryFilter
	Semantic bool
	Alpha    *float64
	Limit    int
}

// Result is one ranked record with its per-leg contributions.
type Result struct {
	Record      *core.ContentRecord
	Score       float64
	TextRank    float64
	VectorScore float64
}

// Response is the merged, ordered result set. Partial is set when one
// leg of a hybrid query degraded instead of answering.
type Response struct {
	Results []*Result
	Partial bool
}

// SampleSink receives a performance sample for every executed query.
// Implementations must not block.
type SampleSink interface {
	Record(sample *core.PerformanceSample)
}

// Planner fans queries out across the full-text and vector legs and
// merges the ranked candidates.
type Planner struct {
	records  storage.RecordRepository
	text     storage.TextSearcher
	vectors  storage.VectorStore
	embedder ai.Embedder

	sink       SampleSink
	subTimeout time.Duration
	logger     *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithSubQueryTimeout bounds each leg of a hybrid query independently.
func WithSubQueryTimeout(timeout time.Duration) Option {
	return func(p *Planner) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: sub-query timeout must be positive", core.ErrValidation)
		}
		p.subTimeout = timeout
		return nil
	}
}

// WithSampleSink feeds executed queries to the performance tracker.
func WithSampleSink(sink SampleSink) Option {
	return func(p *Planner) error {
		p.sink = sink
		return nil
	}
}

// NewPlanner creates a query planner.
func NewPlanner(
	records storage.RecordRepository,
	text storage.TextSearcher,
	vectors storage.VectorStore,
	embedder ai.Embedder,
	opts ...Option,
) (*Planner, error) {
	if records == nil {
		return nil, ErrRecordRepositoryRequired
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

	p := &Planner{
		records:    records,
		text:       text,
		vectors:    vectors,
		embedder:   embedder,
		subTimeout: defaultSubTimeout,
		logger:     slog.Default().With("component", "search"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Query plans and executes one retrieval request.
func (p *Planner) Query(ctx context.Context, req Request) (*Response, error) {
	return p.QueryWithMonitor(ctx, req, nil)
}

// QueryWithMonitor executes a request with observation hooks.
// The monitor receives callbacks at each stage of planning.
func (p *Planner) QueryWithMonitor(ctx context.Context, req Request, monitor QueryMonitor) (*Response, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(req)

	if req.Text == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, ErrNoQuery)
	}
	alpha := DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: alpha %v outside [0, 1]", core.ErrValidation, alpha)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	candidates := limit * candidateFactor
	started := time.Now()

	// Fan out: each leg runs under its own timeout so a stalled store
	// degrades the response instead of stalling it.
	var (
		textHits []storage.TextHit
		vecHits  []storage.VectorHit
		vecErr   error
		textErr  error
		wg       sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		subCtx, cancel := context.WithTimeout(ctx, p.subTimeout)
		defer cancel()
		textHits, textErr = p.text.SearchText(subCtx, req.Text, req.Filters, candidates)
	}()

	if req.Semantic {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subCtx, cancel := context.WithTimeout(ctx, p.subTimeout)
			defer cancel()
			vecHits, vecErr = p.searchVectors(subCtx, req.Text, req.Filters, candidates)
		}()
	}
	wg.Wait()

	if textErr != nil && (!req.Semantic || vecErr != nil) {
		return nil, fmt.Errorf("%w: text leg: %w", core.ErrTransientStore, textErr)
	}

	partial := false
	if textErr != nil {
		p.logger.Warn("text leg degraded", "err", textErr)
		monitor.LegDegraded("text", textErr)
		partial = true
		textHits = nil
	}
	if req.Semantic && vecErr != nil {
		p.logger.Warn("vector leg degraded", "err", vecErr)
		monitor.LegDegraded("vector", vecErr)
		partial = true
		vecHits = nil
	}
	monitor.AfterTextSearch(textHits)
	monitor.AfterVectorSearch(vecHits)

	// A text-only plan gives the single leg full weight.
	if !req.Semantic {
		alpha = 1
	}

	results, err := p.merge(ctx, textHits, vecHits, req.Filters, alpha, limit, monitor)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, result := range results {
		if err := p.records.TouchAccess(ctx, result.Record.Id, now); err != nil {
			p.logger.Debug("touching access stats", "record", result.Record.Id, "err", err)
		}
	}

	resp := &Response{Results: results, Partial: partial}
	monitor.Finish(resp)

	mode := core.StrategyFullStore
	if req.Semantic {
		mode = core.StrategyHybrid
	}
	if p.sink != nil {
		p.sink.Record(&core.PerformanceSample{
			QuerySignature: querySignature(req, mode),
			Strategy:       mode,
			Domain:         req.Filters.Domain,
			Latency:        time.Since(started),
			RowsReturned:   len(results),
			Partial:        partial,
			Timestamp:      now,
		})
	}
	return resp, nil
}

// searchVectors embeds the query and runs top-K cosine search. A
// domain filter narrows the search to that domain's collection; the
// remaining filters are pushed down into the point scan.
func (p *Planner) searchVectors(ctx context.Context, text string, filter storage.QueryFilter, limit int) ([]storage.VectorHit, error) {
	query, err := p.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var collections []string
	if filter.Domain != "" {
		collections = []string{core.CollectionForDomain(filter.Domain)}
	} else {
		collections, err = p.vectors.Collections(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing collections: %w", err)
		}
	}

	var hits []storage.VectorHit
	for _, collection := range collections {
		collectionHits, err := p.vectors.SearchVectors(ctx, collection, query, filter, limit)
		if errors.Is(err, storage.ErrNotFound) {
			// Nothing ingested for this domain yet.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", collection, err)
		}
		hits = append(hits, collectionHits...)
	}
	return hits, nil
}

// candidate accumulates one record's per-leg scores during the merge.
type candidate struct {
	textRank float64
	vecScore float64
	textNorm float64
	vecNorm  float64
}

// merge normalizes each leg to [0, 1] by its maximum, combines scores
// with the alpha weight, deduplicates by record, hydrates, filters,
// and orders the final results.
func (p *Planner) merge(ctx context.Context, textHits []storage.TextHit, vecHits []storage.VectorHit, filter storage.QueryFilter, alpha float64, limit int, monitor QueryMonitor) ([]*Result, error) {
	cands := make(map[core.ID]*candidate)
	ensure := func(id core.ID) *candidate {
		c, ok := cands[id]
		if !ok {
			c = &candidate{}
			cands[id] = c
		}
		return c
	}

	var maxRank float64
	for _, hit := range textHits {
		if hit.Rank > maxRank {
			maxRank = hit.Rank
		}
	}
	for _, hit := range textHits {
		c := ensure(hit.RecordID)
		if hit.Rank > c.textRank {
			c.textRank = hit.Rank
		}
	}

	// Chunked documents surface once, at their best chunk.
	var maxScore float64
	for _, hit := range vecHits {
		if float64(hit.Score) > maxScore {
			maxScore = float64(hit.Score)
		}
	}
	for _, hit := range vecHits {
		score := float64(hit.Score)
		if score < 0 {
			score = 0
		}
		c := ensure(hit.RecordID)
		if score > c.vecScore {
			c.vecScore = score
		}
	}

	for _, c := range cands {
		if maxRank > 0 {
			c.textNorm = c.textRank / maxRank
		}
		if maxScore > 0 {
			c.vecNorm = c.vecScore / maxScore
		}
	}

	if len(cands) == 0 {
		return []*Result{}, nil
	}

	ids := make([]core.ID, 0, len(cands))
	for id := range cands {
		ids = append(ids, id)
	}
	records, err := p.records.GetRecords(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("hydrating %d candidates: %w", len(ids), err)
	}
	monitor.AfterRecordRetrieval(records)

	results := make([]*Result, 0, len(records))
	for _, record := range records {
		if !matchesFilter(record, filter) {
			continue
		}
		c := cands[record.Id]
		results = append(results, &Result{
			Record:      record,
			Score:       alpha*c.textNorm + (1-alpha)*c.vecNorm,
			TextRank:    c.textRank,
			VectorScore: c.vecScore,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.Id < results[j].Record.Id
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// matchesFilter re-checks the filters at hydration. Both legs already
// pushed them down; this only catches a record edited between the leg
// query and hydration.
func matchesFilter(record *core.ContentRecord, filter storage.QueryFilter) bool {
	if filter.Domain != "" && record.Domain != filter.Domain {
		return false
	}
	if filter.ContentType != "" && record.ContentType != filter.ContentType {
		return false
	}
	if !filter.Since.IsZero() && record.CreatedAt.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && record.CreatedAt.After(filter.Until) {
		return false
	}
	return true
}
