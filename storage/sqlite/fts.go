package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

// textSearcher implements storage.TextSearcher over an FTS5 virtual
// table joined to content_records, so structured filters are pushed
// into the query rather than applied to the result set.
type textSearcher struct {
	store *Store
}

var _ storage.TextSearcher = (*textSearcher)(nil)

// IndexRecord adds or replaces the record's full-text entry.
func (s *textSearcher) IndexRecord(ctx context.Context, record *core.ContentRecord, preview string) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM records_fts WHERE record_id = ?
	`, record.Id)
	if err != nil {
		return fmt.Errorf("clearing full-text entry: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO records_fts (title, preview, record_id) VALUES (?, ?, ?)
	`, record.Title, preview, record.Id)
	if err != nil {
		return fmt.Errorf("indexing record: %w", err)
	}
	return nil
}

// DeindexRecord removes the record's full-text entry.
func (s *textSearcher) DeindexRecord(ctx context.Context, id core.ID) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM records_fts WHERE record_id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("deindexing record: %w", err)
	}
	return nil
}

// SearchText returns ranked matches. FTS5's bm25 rank is negated so
// higher is better, matching the vector side's convention.
func (s *textSearcher) SearchText(ctx context.Context, query string, filter storage.QueryFilter, limit int) ([]storage.TextHit, error) {
	match := escapeMatch(query)
	if match == "" {
		return nil, fmt.Errorf("%w: empty query", storage.ErrInvalidQuery)
	}

	sqlQuery := `
		SELECT records_fts.record_id, -bm25(records_fts) AS rank
		FROM records_fts
		JOIN content_records r ON r.id = records_fts.record_id
		WHERE records_fts MATCH ?`
	args := []any{match}

	if filter.Domain != "" {
		sqlQuery += " AND r.domain = ?"
		args = append(args, filter.Domain)
	}
	if filter.ContentType != "" {
		sqlQuery += " AND r.content_type = ?"
		args = append(args, filter.ContentType)
	}
	if !filter.Since.IsZero() {
		sqlQuery += " AND r.created_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		sqlQuery += " AND r.created_at <= ?"
		args = append(args, filter.Until.UTC())
	}

	sqlQuery += " ORDER BY rank DESC, records_fts.record_id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.store.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidQuery, err)
	}
	defer rows.Close()

	var hits []storage.TextHit
	for rows.Next() {
		var hit storage.TextHit
		if err := rows.Scan(&hit.RecordID, &hit.Rank); err != nil {
			return nil, fmt.Errorf("scanning text hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating text hits: %w", err)
	}
	return hits, nil
}

// escapeMatch quotes every term so user input is matched literally
// instead of being parsed as FTS5 query syntax.
func escapeMatch(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
