package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

const recommendationColumns = `id, rec_type, target, description,
	estimated_improvement, confidence, status, created_at, expires_at`

// recommendationRepository implements storage.RecommendationRepository.
// A partial unique index on (rec_type, target) WHERE status = 'pending'
// enforces the single-pending-per-target rule.
type recommendationRepository struct {
	store *Store
}

var _ storage.RecommendationRepository = (*recommendationRepository)(nil)

// UpsertRecommendation stores a recommendation. If a pending one already
// exists for the same (type, target), the incoming one is stored
// auto-rejected and returned as such, never an error.
func (r *recommendationRepository) UpsertRecommendation(ctx context.Context, rec *core.Recommendation) (*core.Recommendation, error) {
	if rec.Id == "" {
		rec.Id = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = core.RecommendationPending
	}

	err := r.insert(ctx, rec)
	if isUniqueViolation(err) {
		rec.Status = core.RecommendationRejected
		if err := r.insert(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *recommendationRepository) insert(ctx context.Context, rec *core.Recommendation) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO recommendations (`+recommendationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Id, string(rec.Type), rec.Target, rec.Description,
		rec.EstimatedImprovement, rec.Confidence, string(rec.Status),
		rec.CreatedAt, rec.ExpiresAt)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("inserting recommendation: %w", err)
	}
	return err
}

// GetRecommendation retrieves by ID.
func (r *recommendationRepository) GetRecommendation(ctx context.Context, id string) (*core.Recommendation, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+recommendationColumns+` FROM recommendations WHERE id = ?
	`, id)
	return scanRecommendationFrom(row)
}

// ListRecommendations returns recommendations in the given status,
// newest first. An empty status lists all.
func (r *recommendationRepository) ListRecommendations(ctx context.Context, status core.RecommendationStatus) ([]*core.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*core.Recommendation
	for rows.Next() {
		rec, err := scanRecommendationFrom(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recommendations: %w", err)
	}
	return recs, nil
}

// UpdateRecommendationStatus transitions a recommendation.
func (r *recommendationRepository) UpdateRecommendationStatus(ctx context.Context, id string, status core.RecommendationStatus) error {
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE recommendations SET status = ? WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating recommendation status: %w", err)
	}
	return requireRowAffected(res)
}

// ExpirePending marks pending recommendations past their ExpiresAt as
// expired.
func (r *recommendationRepository) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE recommendations SET status = ?
		WHERE status = ? AND expires_at <= ?
	`, string(core.RecommendationExpired), string(core.RecommendationPending), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expiring recommendations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

func scanRecommendationFrom(sc rowScanner) (*core.Recommendation, error) {
	var rec core.Recommendation
	var recType, status string

	err := sc.Scan(&rec.Id, &recType, &rec.Target, &rec.Description,
		&rec.EstimatedImprovement, &rec.Confidence, &status,
		&rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning recommendation: %w", err)
	}

	rec.Type = core.RecommendationType(recType)
	rec.Status = core.RecommendationStatus(status)
	return &rec, nil
}
