package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

// identPattern restricts table, column, and index names to plain
// identifiers so descriptor DDL can be generated safely.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// columnTypes are the column types a descriptor may declare.
var columnTypes = map[string]bool{
	"TEXT":     true,
	"INTEGER":  true,
	"REAL":     true,
	"BLOB":     true,
	"DATETIME": true,
}

// tableRegistry implements storage.TableRegistry. The descriptor is
// authoritative; applying its DDL is idempotent.
type tableRegistry struct {
	store *Store
}

var _ storage.TableRegistry = (*tableRegistry)(nil)

// tableSpec is the persisted JSON form of a descriptor's schema.
type tableSpec struct {
	Columns []core.ColumnDef `json:"columns"`
	Indexes []core.IndexDef  `json:"indexes"`
}

// RegisterTable stores a descriptor, bumping its version when the
// schema changed, and applies its DDL.
func (r *tableRegistry) RegisterTable(ctx context.Context, desc *core.TableDescriptor) (*core.TableDescriptor, error) {
	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	existing, err := r.GetTable(ctx, desc.Name)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}

	spec := tableSpec{Columns: desc.Columns, Indexes: desc.Indexes}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshalling table spec: %w", err)
	}

	switch {
	case existing == nil:
		desc.Version = 1
		desc.CreatedAt = now
		desc.UpdatedAt = now
		_, err = r.store.db.ExecContext(ctx, `
			INSERT INTO table_registry (name, version, spec, usage_count, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, ?)
		`, desc.Name, desc.Version, string(specJSON), desc.CreatedAt, desc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting table descriptor: %w", err)
		}

	case schemaEqual(existing, desc):
		return existing, nil

	default:
		desc.Version = existing.Version + 1
		desc.CreatedAt = existing.CreatedAt
		desc.UpdatedAt = now
		desc.UsageCount = existing.UsageCount
		_, err = r.store.db.ExecContext(ctx, `
			UPDATE table_registry SET version = ?, spec = ?, updated_at = ? WHERE name = ?
		`, desc.Version, string(specJSON), desc.UpdatedAt, desc.Name)
		if err != nil {
			return nil, fmt.Errorf("updating table descriptor: %w", err)
		}
	}

	if err := r.applyDDL(ctx, desc); err != nil {
		return nil, err
	}
	return desc, nil
}

// GetTable retrieves a descriptor.
func (r *tableRegistry) GetTable(ctx context.Context, name string) (*core.TableDescriptor, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT name, version, spec, usage_count, created_at, updated_at
		FROM table_registry WHERE name = ?
	`, name)

	var desc core.TableDescriptor
	var specJSON string
	if err := row.Scan(&desc.Name, &desc.Version, &specJSON,
		&desc.UsageCount, &desc.CreatedAt, &desc.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning table descriptor: %w", err)
	}

	var spec tableSpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return nil, fmt.Errorf("unmarshaling table spec: %w", err)
	}
	desc.Columns = spec.Columns
	desc.Indexes = spec.Indexes
	return &desc, nil
}

// BumpUsage increments a descriptor's usage counter (relaxed).
func (r *tableRegistry) BumpUsage(ctx context.Context, name string) error {
	_, err := r.store.db.ExecContext(ctx, `
		UPDATE table_registry SET usage_count = usage_count + 1 WHERE name = ?
	`, name)
	if err != nil {
		return fmt.Errorf("bumping table usage: %w", err)
	}
	return nil
}

// ListTables returns all descriptors.
func (r *tableRegistry) ListTables(ctx context.Context) ([]*core.TableDescriptor, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT name, version, spec, usage_count, created_at, updated_at
		FROM table_registry ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying table registry: %w", err)
	}
	defer rows.Close()

	var descs []*core.TableDescriptor
	for rows.Next() {
		var desc core.TableDescriptor
		var specJSON string
		if err := rows.Scan(&desc.Name, &desc.Version, &specJSON,
			&desc.UsageCount, &desc.CreatedAt, &desc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning table descriptor: %w", err)
		}
		var spec tableSpec
		if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
			return nil, fmt.Errorf("unmarshaling table spec: %w", err)
		}
		desc.Columns = spec.Columns
		desc.Indexes = spec.Indexes
		descs = append(descs, &desc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table registry: %w", err)
	}
	return descs, nil
}

// applyDDL creates the descriptor's table and indexes. Everything uses
// IF NOT EXISTS so replays are harmless. A record_id column linking
// back to content_records is always present.
func (r *tableRegistry) applyDDL(ctx context.Context, desc *core.TableDescriptor) error {
	var cols []string
	cols = append(cols, "record_id TEXT NOT NULL")
	for _, col := range desc.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", col.Name, col.Type))
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", desc.Name, strings.Join(cols, ", "))
	if _, err := r.store.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("applying table DDL for %s: %w", desc.Name, err)
	}

	// Version bumps may add columns to an existing table.
	existing, err := r.existingColumns(ctx, desc.Name)
	if err != nil {
		return err
	}
	for _, col := range desc.Columns {
		if existing[col.Name] {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", desc.Name, col.Name, col.Type)
		if _, err := r.store.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("adding column %s to %s: %w", col.Name, desc.Name, err)
		}
	}

	for _, idx := range desc.Indexes {
		ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			idx.Name, desc.Name, strings.Join(idx.Columns, ", "))
		if _, err := r.store.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("applying index DDL for %s: %w", idx.Name, err)
		}
	}
	return nil
}

// existingColumns returns the set of column names already present on a
// table.
func (r *tableRegistry) existingColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.store.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("reading table info for %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning table info: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table info: %w", err)
	}
	return cols, nil
}

// validateDescriptor rejects descriptors whose names can't be used as
// plain SQL identifiers.
func validateDescriptor(desc *core.TableDescriptor) error {
	if !identPattern.MatchString(desc.Name) {
		return fmt.Errorf("%w: invalid table name %q", storage.ErrInvalidQuery, desc.Name)
	}
	if len(desc.Columns) == 0 {
		return fmt.Errorf("%w: table %s has no columns", storage.ErrInvalidQuery, desc.Name)
	}
	for _, col := range desc.Columns {
		if !identPattern.MatchString(col.Name) {
			return fmt.Errorf("%w: invalid column name %q", storage.ErrInvalidQuery, col.Name)
		}
		if !columnTypes[strings.ToUpper(col.Type)] {
			return fmt.Errorf("%w: invalid column type %q", storage.ErrInvalidQuery, col.Type)
		}
	}
	for _, idx := range desc.Indexes {
		if !identPattern.MatchString(idx.Name) {
			return fmt.Errorf("%w: invalid index name %q", storage.ErrInvalidQuery, idx.Name)
		}
		for _, col := range idx.Columns {
			if !identPattern.MatchString(col) {
				return fmt.Errorf("%w: invalid index column %q", storage.ErrInvalidQuery, col)
			}
		}
	}
	return nil
}

// schemaEqual reports whether two descriptors declare the same schema.
func schemaEqual(a, b *core.TableDescriptor) bool {
	return reflect.DeepEqual(a.Columns, b.Columns) && reflect.DeepEqual(a.Indexes, b.Indexes)
}
