package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "nested", "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigratorAppliesEmbeddedSchemaOnce(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	n, err := m.Run(ctx, Migrations())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.Run(ctx, Migrations())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, table := range []string{"cases", "case_transitions"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigratorRollsBackFailedMigration(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	fsys := fstest.MapFS{
		"001_ok.sql":     {Data: []byte(`CREATE TABLE ok (id INTEGER);`)},
		"002_broken.sql": {Data: []byte(`CREATE TABLE half (id INTEGER); CREATE TABLE oops (`)},
	}

	n, err := m.Run(ctx, fsys)
	require.Error(t, err)
	assert.Equal(t, 1, n)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM half`).Scan(&count)
	assert.Error(t, err, "partial migration must be rolled back")
}

func TestLoad(t *testing.T) {
	migs, err := Load(fstest.MapFS{
		"010_later.sql": {Data: []byte("SELECT 1;")},
		"002_first.sql": {Data: []byte("SELECT 1;")},
		"README.md":     {Data: []byte("ignored")},
	})
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 2, migs[0].Version)
	assert.Equal(t, "first", migs[0].Name)
	assert.Equal(t, 10, migs[1].Version)

	_, err = Load(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	})
	assert.Error(t, err)

	_, err = Load(fstest.MapFS{"abc.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)
}
