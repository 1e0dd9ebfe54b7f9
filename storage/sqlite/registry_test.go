package sqlite

import (
	"context"
	"testing"

	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func citationTable() *core.TableDescriptor {
	return &core.TableDescriptor{
		Name: "citations",
		Columns: []core.ColumnDef{
			{Name: "cited_work", Type: "TEXT"},
			{Name: "page", Type: "INTEGER"},
		},
		Indexes: []core.IndexDef{
			{Name: "idx_citations_work", Columns: []string{"cited_work"}},
		},
	}
}

func TestTableRegistry(t *testing.T) {
	store := newTestStore(t)
	registry := store.Tables()
	ctx := context.Background()

	desc, err := registry.RegisterTable(ctx, citationTable())
	require.NoError(t, err)
	assert.Equal(t, 1, desc.Version)

	t.Run("re-registering the same schema is a no-op", func(t *testing.T) {
		again, err := registry.RegisterTable(ctx, citationTable())
		require.NoError(t, err)
		assert.Equal(t, 1, again.Version)
	})

	t.Run("schema change bumps the version", func(t *testing.T) {
		changed := citationTable()
		changed.Columns = append(changed.Columns, core.ColumnDef{Name: "year", Type: "INTEGER"})
		updated, err := registry.RegisterTable(ctx, changed)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
	})

	t.Run("registered table accepts rows", func(t *testing.T) {
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO citations (record_id, cited_work, page, year) VALUES (?, ?, ?, ?)
		`, string(core.NewID()), "Physics", 42, 1687)
		assert.NoError(t, err)
	})

	t.Run("usage counter", func(t *testing.T) {
		require.NoError(t, registry.BumpUsage(ctx, "citations"))
		got, err := registry.GetTable(ctx, "citations")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.UsageCount)
	})

	t.Run("list", func(t *testing.T) {
		descs, err := registry.ListTables(ctx)
		require.NoError(t, err)
		assert.Len(t, descs, 1)
	})

	t.Run("missing table returns ErrNotFound", func(t *testing.T) {
		_, err := registry.GetTable(ctx, "absent")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestTableRegistryValidation(t *testing.T) {
	store := newTestStore(t)
	registry := store.Tables()
	ctx := context.Background()

	t.Run("table name must be an identifier", func(t *testing.T) {
		bad := citationTable()
		bad.Name = "citations; DROP TABLE content_records"
		_, err := registry.RegisterTable(ctx, bad)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	})

	t.Run("column type must be known", func(t *testing.T) {
		bad := citationTable()
		bad.Columns[0].Type = "JSONB"
		_, err := registry.RegisterTable(ctx, bad)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	})

	t.Run("columns are required", func(t *testing.T) {
		bad := citationTable()
		bad.Columns = nil
		_, err := registry.RegisterTable(ctx, bad)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	})
}
