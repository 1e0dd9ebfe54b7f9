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


package badger

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

// VectorRepository implements storage.VectorStore for BadgerDB.
//
// Points are written in staging state and become visible to search only
// once a completion marker covers their record. Readers never see a
// partially written chunk set.
type VectorRepository struct {
	backend *Backend
}

var _ storage.VectorStore = (*VectorRepository)(nil)

// NewVectorRepository creates a new VectorRepository.
func NewVectorRepository(backend *Backend) *VectorRepository {
	return &VectorRepository{backend: backend}
}

// Close closes the underlying backend.
func (r *VectorRepository) Close() error {
	if r.backend.IsClosed() {
		return nil
	}
	return r.backend.Close()
}

// EnsureCollection creates the collection if needed and pins its
// dimensionality. Re-ensuring with a different dimension fails.
func (r *VectorRepository) EnsureCollection(ctx context.Context, name string, dim int) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeCollectionKey(name)

		item, err := tx.Get(key)
		if err == nil {
			var existing *storage.CollectionInfo
			if err := item.Value(func(val []byte) error {
				existing, err = storage.UnmarshalCollectionInfo(val)
				return err
			}); err != nil {
				return err
			}
			if existing.Dim != dim {
				return fmt.Errorf("%w: collection %s has dim %d, requested %d",
					storage.ErrDimensionMismatch, name, existing.Dim, dim)
			}
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		info := &storage.CollectionInfo{Name: name, Dim: dim}
		if err := tx.Set(key, storage.MarshalCollectionInfo(info)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Collections lists known collection names.
func (r *VectorRepository) Collections(ctx context.Context) ([]string, error) {
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var names []string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix + ":")
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := string(iter.Item().Key())
			names = append(names, strings.TrimPrefix(key, collectionPrefix+":"))
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.Sort(names)
	return names, nil
}

// StagePoint writes one chunk in staging state under its generation.
// The point stays invisible to search until CommitCompletion commits
// that generation; a previously committed set stays readable meanwhile.
func (r *VectorRepository) StagePoint(ctx context.Context, point *storage.VectorPoint) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	if point.Generation == "" {
		return fmt.Errorf("%w: point generation is empty", core.ErrValidation)
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		info, err := r.collectionInfo(tx, point.Mapping.Collection)
		if err != nil {
			return err
		}
		if len(point.Vector) != info.Dim {
			return fmt.Errorf("%w: point has dim %d, collection %s has %d",
				storage.ErrDimensionMismatch, len(point.Vector), info.Name, info.Dim)
		}
		if point.Mapping.Dim == 0 {
			point.Mapping.Dim = info.Dim
		}
		if point.CreatedAt.IsZero() {
			point.CreatedAt = time.Now().UTC()
		}

		key := makePointKey(point.Mapping.Collection, point.Mapping.RecordID, point.Generation, point.Mapping.ChunkSeq)
		if err := tx.Set(key, storage.MarshalVectorPoint(point)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// CommitCompletion writes the single marker that makes the generation
// named by the marker's CompletionID readable. Callers invoke it only
// after every chunk write of that generation has acknowledged. A
// previously committed generation is deleted in the same transaction;
// readers inside an older snapshot still see it.
func (r *VectorRepository) CommitCompletion(ctx context.Context, marker *storage.CompletionMarker) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	if marker.CompletionID == "" {
		return fmt.Errorf("%w: completion id is empty", core.ErrValidation)
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		if marker.CreatedAt.IsZero() {
			marker.CreatedAt = time.Now().UTC()
		}

		prev, err := r.completionMarker(tx, marker.Collection, marker.RecordID)
		if err != nil {
			return err
		}

		key := makeCompletionKey(marker.Collection, marker.RecordID)
		if err := tx.Set(key, storage.MarshalCompletionMarker(marker)); err != nil {
			return err
		}

		if prev != nil && prev.CompletionID != marker.CompletionID {
			if err := r.deleteGenerationPoints(tx, marker.Collection, marker.RecordID, prev.CompletionID); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// HasCompletion reports whether a completion marker covers the record.
func (r *VectorRepository) HasCompletion(ctx context.Context, collection string, recordID core.ID) (bool, error) {
	if r.backend.IsClosed() {
		return false, storage.ErrStorageClosed
	}

	var found bool
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get(makeCompletionKey(collection, recordID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	}, false)
	return found, err
}

// Mappings returns the committed chunk mappings for a record, ordered by
// chunk sequence. Returns ErrNoCompletion when no marker covers the
// record. Only the committed generation is read; staged replacements
// are invisible.
func (r *VectorRepository) Mappings(ctx context.Context, collection string, recordID core.ID) ([]core.VectorMapping, error) {
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var mappings []core.VectorMapping
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		marker, err := r.completionMarker(tx, collection, recordID)
		if err != nil {
			return err
		}
		if marker == nil {
			return storage.ErrNoCompletion
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeGenerationPrefix(collection, recordID, marker.CompletionID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Point keys embed the zero-padded chunk sequence, so iteration
		// order is already chunk order.
		for iter.Rewind(); iter.Valid(); iter.Next() {
			var point *storage.VectorPoint
			err := iter.Item().Value(func(val []byte) error {
				var err error
				point, err = storage.UnmarshalVectorPoint(val)
				return err
			})
			if err != nil {
				return err
			}
			mappings = append(mappings, point.Mapping)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	return mappings, nil
}

// SearchVectors runs cosine top-K over committed points in a collection.
// Staged points outside the committed generation are skipped, and the
// filter payload is checked before ranking so filtered-out points never
// consume result slots.
func (r *VectorRepository) SearchVectors(ctx context.Context, collection string, vector []float32, filter storage.QueryFilter, limit int) ([]storage.VectorHit, error) {
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var hits []storage.VectorHit
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		info, err := r.collectionInfo(tx, collection)
		if err != nil {
			return err
		}
		if len(vector) != info.Dim {
			return fmt.Errorf("%w: query has dim %d, collection %s has %d",
				storage.ErrDimensionMismatch, len(vector), collection, info.Dim)
		}

		committed, err := r.completedRecords(tx, collection)
		if err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeCollectionPointPrefix(collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var point *storage.VectorPoint
			err := iter.Item().Value(func(val []byte) error {
				var err error
				point, err = storage.UnmarshalVectorPoint(val)
				return err
			})
			if err != nil {
				return err
			}

			if committed[point.Mapping.RecordID] != point.Generation {
				continue
			}
			if !matchesPayload(point, filter) {
				continue
			}

			hits = append(hits, storage.VectorHit{
				RecordID: point.Mapping.RecordID,
				ChunkSeq: point.Mapping.ChunkSeq,
				Score:    cosineSimilarity(vector, point.Vector),
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(hits, func(a, b storage.VectorHit) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		if a.RecordID != b.RecordID {
			return strings.Compare(string(a.RecordID), string(b.RecordID))
		}
		return a.ChunkSeq - b.ChunkSeq
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeletePoints removes all points, the completion marker, and any GC
// mark for a record. Deleting an absent record is a no-op.
func (r *VectorRepository) DeletePoints(ctx context.Context, collection string, recordID core.ID) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := r.deleteRecordPoints(tx, collection, recordID); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// MarkForGC schedules a record's points for deferred deletion. The
// points stay readable until SweepGC runs past the grace period, so
// readers holding an old location pointer are covered.
func (r *VectorRepository) MarkForGC(ctx context.Context, collection string, recordID core.ID, at time.Time) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		mark := &storage.GCMark{
			Collection: collection,
			RecordID:   recordID,
			MarkedAt:   at.UTC(),
		}
		if err := tx.Set(makeGCMarkKey(collection, recordID), storage.MarshalGCMark(mark)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// SweepGC deletes point sets whose GC mark is older than grace.
func (r *VectorRepository) SweepGC(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	if r.backend.IsClosed() {
		return 0, storage.ErrStorageClosed
	}

	var swept int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var due []*storage.GCMark

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(gcMarkPrefix + ":")
		iter := tx.NewIterator(opts)

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var mark *storage.GCMark
			err := iter.Item().Value(func(val []byte) error {
				var err error
				mark, err = storage.UnmarshalGCMark(val)
				return err
			})
			if err != nil {
				iter.Close()
				return err
			}
			if now.Sub(mark.MarkedAt) >= grace {
				due = append(due, mark)
			}
		}
		iter.Close()

		for _, mark := range due {
			if err := r.deleteRecordPoints(tx, mark.Collection, mark.RecordID); err != nil {
				return err
			}
			swept++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	return swept, nil
}

// SweepOrphans deletes staged points older than grace that fall outside
// their record's committed generation. These are leftovers of
// interrupted or failed staging passes.
func (r *VectorRepository) SweepOrphans(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	if r.backend.IsClosed() {
		return 0, storage.ErrStorageClosed
	}

	var removed int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var orphanKeys [][]byte

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pointPrefix + ":")
		iter := tx.NewIterator(opts)

		completed := make(map[string]map[core.ID]string)

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()

			var point *storage.VectorPoint
			err := item.Value(func(val []byte) error {
				var err error
				point, err = storage.UnmarshalVectorPoint(val)
				return err
			})
			if err != nil {
				iter.Close()
				return err
			}

			collection := point.Mapping.Collection
			if _, ok := completed[collection]; !ok {
				records, err := r.completedRecords(tx, collection)
				if err != nil {
					iter.Close()
					return err
				}
				completed[collection] = records
			}
			if completed[collection][point.Mapping.RecordID] == point.Generation {
				continue
			}
			if now.Sub(point.CreatedAt) < grace {
				continue
			}

			orphanKeys = append(orphanKeys, item.KeyCopy(nil))
		}
		iter.Close()

		for _, key := range orphanKeys {
			if err := tx.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// collectionInfo reads collection metadata within a transaction.
func (r *VectorRepository) collectionInfo(tx *badger.Txn, name string) (*storage.CollectionInfo, error) {
	item, err := tx.Get(makeCollectionKey(name))
	if err == badger.ErrKeyNotFound {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var info *storage.CollectionInfo
	err = item.Value(func(val []byte) error {
		info, err = storage.UnmarshalCollectionInfo(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// completionMarker reads a record's completion marker within a
// transaction. Returns nil when no marker covers the record.
func (r *VectorRepository) completionMarker(tx *badger.Txn, collection string, recordID core.ID) (*storage.CompletionMarker, error) {
	item, err := tx.Get(makeCompletionKey(collection, recordID))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var marker *storage.CompletionMarker
	err = item.Value(func(val []byte) error {
		marker, err = storage.UnmarshalCompletionMarker(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return marker, nil
}

// completedRecords maps each record covered by a completion marker in a
// collection to its committed generation.
func (r *VectorRepository) completedRecords(tx *badger.Txn, collection string) (map[core.ID]string, error) {
	records := make(map[core.ID]string)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeCompletionPrefix(collection)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		var marker *storage.CompletionMarker
		err := iter.Item().Value(func(val []byte) error {
			var err error
			marker, err = storage.UnmarshalCompletionMarker(val)
			return err
		})
		if err != nil {
			return nil, err
		}
		records[marker.RecordID] = marker.CompletionID
	}
	return records, nil
}

// deleteGenerationPoints removes one generation of a record's points
// within a transaction, leaving the marker and other generations alone.
func (r *VectorRepository) deleteGenerationPoints(tx *badger.Txn, collection string, recordID core.ID, generation string) error {
	var keys [][]byte

	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeGenerationPrefix(collection, recordID, generation)
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)

	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	iter.Close()

	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// matchesPayload evaluates the pushed-down filter against one point's
// payload. Domain is not checked here: collections are per-domain, so
// the caller already routed the query.
func matchesPayload(point *storage.VectorPoint, filter storage.QueryFilter) bool {
	if filter.ContentType != "" && point.ContentType != filter.ContentType {
		return false
	}
	if !filter.Since.IsZero() && point.RecordCreatedAt.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && point.RecordCreatedAt.After(filter.Until) {
		return false
	}
	return true
}

// deleteRecordPoints removes a record's points, completion marker, and
// GC mark within a transaction.
func (r *VectorRepository) deleteRecordPoints(tx *badger.Txn, collection string, recordID core.ID) error {
	var keys [][]byte

	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeRecordPointPrefix(collection, recordID)
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)

	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	iter.Close()

	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}

	if err := tx.Delete(makeCompletionKey(collection, recordID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if err := tx.Delete(makeGCMarkKey(collection, recordID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	return nil
}

// cosineSimilarity calculates the cosine of the angle between two
// vectors. Zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < minLen; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
