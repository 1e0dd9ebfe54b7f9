package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

// sampleRepository implements storage.SampleRepository. Samples are
// append-only; the only mutation is the retention sweep.
type sampleRepository struct {
	store *Store
}

var _ storage.SampleRepository = (*sampleRepository)(nil)

// AppendSample records one sample.
func (s *sampleRepository) AppendSample(ctx context.Context, sample *core.PerformanceSample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO performance_samples
			(query_signature, strategy, domain, latency_us, rows_returned, partial, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sample.QuerySignature, string(sample.Strategy), sample.Domain,
		sample.Latency.Microseconds(), sample.RowsReturned, sample.Partial, sample.Timestamp)
	if err != nil {
		return fmt.Errorf("appending sample: %w", err)
	}
	return nil
}

// SamplesSince returns samples with Timestamp >= since, oldest first.
func (s *sampleRepository) SamplesSince(ctx context.Context, since time.Time) ([]*core.PerformanceSample, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT query_signature, strategy, domain, latency_us, rows_returned, partial, ts
		FROM performance_samples WHERE ts >= ? ORDER BY ts ASC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var samples []*core.PerformanceSample
	for rows.Next() {
		var sample core.PerformanceSample
		var strategy string
		var latencyUS int64
		if err := rows.Scan(&sample.QuerySignature, &strategy, &sample.Domain,
			&latencyUS, &sample.RowsReturned, &sample.Partial, &sample.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		sample.Strategy = core.Strategy(strategy)
		sample.Latency = time.Duration(latencyUS) * time.Microsecond
		samples = append(samples, &sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating samples: %w", err)
	}
	return samples, nil
}

// PruneSamples deletes samples older than before.
func (s *sampleRepository) PruneSamples(ctx context.Context, before time.Time) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM performance_samples WHERE ts < ?
	`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}
