package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

// blobStore implements storage.BlobStore. Blobs are keyed by content
// hash, which makes writes idempotent: a retry with the same body lands
// on the same row.
type blobStore struct {
	store *Store
}

var _ storage.BlobStore = (*blobStore)(nil)

// PutBlob stores a blob. Re-putting an existing hash is a no-op, except
// that it clears any pending GC mark: a resurrected blob is referenced
// again and must not be swept.
func (s *blobStore) PutBlob(ctx context.Context, blob *core.FullContentBlob) error {
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now().UTC()
	}
	if blob.ByteSize == 0 {
		blob.ByteSize = int64(len(blob.Body))
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO content_blobs (content_hash, body, byte_size, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET gc_marked_at = NULL
	`, string(blob.ContentHash), blob.Body, blob.ByteSize, blob.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving blob: %w", err)
	}
	return nil
}

// GetBlob retrieves a blob by hash.
func (s *blobStore) GetBlob(ctx context.Context, hash core.ContentHash) (*core.FullContentBlob, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT content_hash, body, byte_size, created_at
		FROM content_blobs WHERE content_hash = ?
	`, string(hash))

	var blob core.FullContentBlob
	var h string
	if err := row.Scan(&h, &blob.Body, &blob.ByteSize, &blob.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning blob: %w", err)
	}
	blob.ContentHash = core.ContentHash(h)
	return &blob, nil
}

// HasBlob reports whether a blob exists without loading the body.
func (s *blobStore) HasBlob(ctx context.Context, hash core.ContentHash) (bool, error) {
	var count int
	err := s.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_blobs WHERE content_hash = ?
	`, string(hash)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking blob: %w", err)
	}
	return count > 0, nil
}

// DeleteBlob removes a blob. Deleting a missing blob is a no-op.
func (s *blobStore) DeleteBlob(ctx context.Context, hash core.ContentHash) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM content_blobs WHERE content_hash = ?
	`, string(hash))
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// MarkBlobForGC schedules a blob for deferred deletion. The blob stays
// readable until SweepBlobGC runs past the grace period.
func (s *blobStore) MarkBlobForGC(ctx context.Context, hash core.ContentHash, at time.Time) error {
	_, err := s.store.db.ExecContext(ctx, `
		UPDATE content_blobs SET gc_marked_at = ? WHERE content_hash = ?
	`, at.UTC(), string(hash))
	if err != nil {
		return fmt.Errorf("marking blob for gc: %w", err)
	}
	return nil
}

// SweepBlobGC deletes blobs whose GC mark is older than grace.
func (s *blobStore) SweepBlobGC(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM content_blobs
		WHERE gc_marked_at IS NOT NULL AND gc_marked_at <= ?
	`, now.UTC().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("sweeping blob gc: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweeping blob gc: %w", err)
	}
	return int(n), nil
}
