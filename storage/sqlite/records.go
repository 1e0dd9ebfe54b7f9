package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

const recordColumns = `id, source_locator, title, author, domain, content_type, declared_size,
	semantic_complexity, topic_coherence, information_density, query_potential,
	strategy, policy_version, confidence, status, needs_review,
	has_blob, content_hash, collection, chunk_count, completion_id,
	query_count, last_queried_at, access_frequency,
	keywords, metadata, created_at, updated_at`

// recordRepository implements storage.RecordRepository.
type recordRepository struct {
	store *Store
}

var _ storage.RecordRepository = (*recordRepository)(nil)

// CreateRecord inserts a new record. A second insert for the same
// source locator returns ErrDuplicateKey.
func (r *recordRepository) CreateRecord(ctx context.Context, record *core.ContentRecord) (*core.ContentRecord, error) {
	if record.Id == "" {
		record.Id = core.NewID()
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	keywordsJSON, metadataJSON, err := encodeRecordJSON(record)
	if err != nil {
		return nil, err
	}

	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO content_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.Id, record.SourceLocator, record.Title, record.Author, record.Domain,
		record.ContentType, record.DeclaredSize,
		record.Profile.SemanticComplexity, record.Profile.TopicCoherence,
		record.Profile.InformationDensity, record.Profile.QueryPotential,
		string(record.Strategy), record.PolicyVersion, record.Confidence,
		string(record.Status), record.NeedsReview,
		record.Location.HasBlob, string(record.Location.ContentHash),
		record.Location.Collection, record.Location.ChunkCount, record.Location.CompletionID,
		record.Access.QueryCount, nullTime(record.Access.LastQueriedAt), record.Access.AccessFrequency,
		keywordsJSON, metadataJSON, record.CreatedAt, record.UpdatedAt)

	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: locator %s", storage.ErrDuplicateKey, record.SourceLocator)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting record: %w", err)
	}
	return record, nil
}

// GetRecord retrieves a record by ID.
func (r *recordRepository) GetRecord(ctx context.Context, id core.ID) (*core.ContentRecord, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM content_records WHERE id = ?
	`, id)
	return scanRecord(row)
}

// GetRecordByLocator retrieves a record by its source locator.
func (r *recordRepository) GetRecordByLocator(ctx context.Context, locator string) (*core.ContentRecord, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM content_records WHERE source_locator = ?
	`, locator)
	return scanRecord(row)
}

// GetRecords retrieves multiple records by ID. Missing IDs are skipped.
func (r *recordRepository) GetRecords(ctx context.Context, ids ...core.ID) ([]*core.ContentRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM content_records WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// UpdateRecord overwrites a record's mutable fields and bumps UpdatedAt.
func (r *recordRepository) UpdateRecord(ctx context.Context, record *core.ContentRecord) (*core.ContentRecord, error) {
	record.UpdatedAt = time.Now().UTC()

	keywordsJSON, metadataJSON, err := encodeRecordJSON(record)
	if err != nil {
		return nil, err
	}

	res, err := r.store.db.ExecContext(ctx, `
		UPDATE content_records SET
			title = ?, author = ?, domain = ?, content_type = ?, declared_size = ?,
			semantic_complexity = ?, topic_coherence = ?, information_density = ?, query_potential = ?,
			strategy = ?, policy_version = ?, confidence = ?, status = ?, needs_review = ?,
			has_blob = ?, content_hash = ?, collection = ?, chunk_count = ?, completion_id = ?,
			keywords = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, record.Title, record.Author, record.Domain, record.ContentType, record.DeclaredSize,
		record.Profile.SemanticComplexity, record.Profile.TopicCoherence,
		record.Profile.InformationDensity, record.Profile.QueryPotential,
		string(record.Strategy), record.PolicyVersion, record.Confidence,
		string(record.Status), record.NeedsReview,
		record.Location.HasBlob, string(record.Location.ContentHash),
		record.Location.Collection, record.Location.ChunkCount, record.Location.CompletionID,
		keywordsJSON, metadataJSON, record.UpdatedAt, record.Id)
	if err != nil {
		return nil, fmt.Errorf("updating record: %w", err)
	}
	if err := requireRowAffected(res); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateStatus transitions a record's consistency status.
func (r *recordRepository) UpdateStatus(ctx context.Context, id core.ID, status core.RecordStatus, needsReview bool) error {
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE content_records SET status = ?, needs_review = ?, updated_at = ?
		WHERE id = ?
	`, string(status), needsReview, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return requireRowAffected(res)
}

// SetLocation atomically publishes a new location pointer together with
// the strategy, policy version, and status it belongs to.
func (r *recordRepository) SetLocation(ctx context.Context, id core.ID, loc core.Location, strategy core.Strategy, policyVersion string, status core.RecordStatus) error {
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE content_records SET
			has_blob = ?, content_hash = ?, collection = ?, chunk_count = ?, completion_id = ?,
			strategy = ?, policy_version = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, loc.HasBlob, string(loc.ContentHash), loc.Collection, loc.ChunkCount, loc.CompletionID,
		string(strategy), policyVersion, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("publishing location: %w", err)
	}
	return requireRowAffected(res)
}

// TouchAccess bumps the access stats. Lost increments under race are
// acceptable; the stats only feed placement heuristics.
func (r *recordRepository) TouchAccess(ctx context.Context, id core.ID, at time.Time) error {
	_, err := r.store.db.ExecContext(ctx, `
		UPDATE content_records SET
			query_count = query_count + 1,
			last_queried_at = ?,
			access_frequency = CAST(query_count + 1 AS REAL) / MAX(julianday(?) - julianday(created_at), 1.0)
		WHERE id = ?
	`, at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching access stats: %w", err)
	}
	return nil
}

// ListByStatus returns up to limit records in the given status.
func (r *recordRepository) ListByStatus(ctx context.Context, status core.RecordStatus, limit int) ([]*core.ContentRecord, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM content_records
		WHERE status = ? ORDER BY updated_at ASC LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("querying records by status: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListStale returns up to limit ready records placed under a policy
// version other than current.
func (r *recordRepository) ListStale(ctx context.Context, current string, limit int) ([]*core.ContentRecord, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM content_records
		WHERE policy_version != ? AND status = ? ORDER BY updated_at ASC LIMIT ?
	`, current, string(core.StatusReady), limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Close closes the underlying store.
func (r *recordRepository) Close() error {
	return r.store.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordFrom(sc rowScanner) (*core.ContentRecord, error) {
	var (
		record        core.ContentRecord
		strategy      string
		status        string
		contentHash   string
		lastQueriedAt sql.NullTime
		keywordsJSON  string
		metadataJSON  string
	)

	err := sc.Scan(&record.Id, &record.SourceLocator, &record.Title, &record.Author,
		&record.Domain, &record.ContentType, &record.DeclaredSize,
		&record.Profile.SemanticComplexity, &record.Profile.TopicCoherence,
		&record.Profile.InformationDensity, &record.Profile.QueryPotential,
		&strategy, &record.PolicyVersion, &record.Confidence, &status, &record.NeedsReview,
		&record.Location.HasBlob, &contentHash, &record.Location.Collection,
		&record.Location.ChunkCount, &record.Location.CompletionID,
		&record.Access.QueryCount, &lastQueriedAt, &record.Access.AccessFrequency,
		&keywordsJSON, &metadataJSON, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning record: %w", err)
	}

	record.Strategy = core.Strategy(strategy)
	record.Status = core.RecordStatus(status)
	record.Location.ContentHash = core.ContentHash(contentHash)
	if lastQueriedAt.Valid {
		record.Access.LastQueriedAt = lastQueriedAt.Time
	}

	if err := json.Unmarshal([]byte(keywordsJSON), &record.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshaling keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &record.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}

	return &record, nil
}

func scanRecord(row *sql.Row) (*core.ContentRecord, error) {
	return scanRecordFrom(row)
}

func scanRecords(rows *sql.Rows) ([]*core.ContentRecord, error) {
	var records []*core.ContentRecord
	for rows.Next() {
		record, err := scanRecordFrom(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

func encodeRecordJSON(record *core.ContentRecord) (keywords, metadata string, err error) {
	keywordsBytes, err := json.Marshal(record.Keywords)
	if err != nil {
		return "", "", fmt.Errorf("marshalling keywords: %w", err)
	}
	metadataBytes, err := json.Marshal(record.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("marshalling metadata: %w", err)
	}
	return string(keywordsBytes), string(metadataBytes), nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
