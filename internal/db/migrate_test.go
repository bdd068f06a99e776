// Package db provides unit tests for the migration runner.
package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yuchia/localledger/internal/errors"
)

func writeMigration(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestMigrator(t *testing.T, failOnDrift bool) (*Migrator, string) {
	t.Helper()
	dir := t.TempDir()
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.MkdirAll(migrationsDir, 0o755))

	pool, err := NewPool(filepath.Join(dir, "test.db"), 2, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { pool.CloseAll() })

	return NewMigrator(pool, migrationsDir, failOnDrift), migrationsDir
}

func TestDiscoverSortsAndParsesScripts(t *testing.T) {
	m, dir := newTestMigrator(t, false)

	writeMigration(t, dir, "V0002__add_tags_column.sql", "ALTER TABLE items ADD COLUMN tags TEXT;")
	writeMigration(t, dir, "V0001__initial_schema.sql", "CREATE TABLE items (id TEXT PRIMARY KEY);")
	writeMigration(t, dir, "notes.txt", "not a migration")

	migrations, err := m.Discover()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "0001", migrations[0].Version)
	assert.Equal(t, "initial schema", migrations[0].Description)
	assert.Equal(t, "0002", migrations[1].Version)
	assert.Len(t, migrations[0].Checksum, 64)
}

func TestDiscoverMissingDirectory(t *testing.T) {
	pool := newTestPool(t, 1, time.Second)
	m := NewMigrator(pool, filepath.Join(t.TempDir(), "nope"), false)

	migrations, err := m.Discover()
	require.NoError(t, err)
	assert.Empty(t, migrations)
}

func TestUpAppliesPendingAndRecordsLedger(t *testing.T) {
	m, dir := newTestMigrator(t, false)
	ctx := context.Background()

	writeMigration(t, dir, "V0001__initial_schema.sql", `
		-- items live here
		CREATE TABLE items (id TEXT PRIMARY KEY, name TEXT NOT NULL);
		CREATE INDEX idx_items_name ON items(name);
	`)

	require.NoError(t, m.Up(ctx))

	executed, err := m.Executed(ctx)
	require.NoError(t, err)
	require.Contains(t, executed, "0001")
	assert.NotNil(t, executed["0001"].ExecutedAt)

	version, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0001", version)

	// The created table must be usable.
	conn, err := m.pool.Acquire(ctx)
	require.NoError(t, err)
	defer m.pool.Release(conn)
	_, err = conn.ExecContext(ctx, "INSERT INTO items (id, name) VALUES ('a', 'coffee')")
	assert.NoError(t, err)
}

func TestUpIsIdempotent(t *testing.T) {
	m, dir := newTestMigrator(t, false)
	ctx := context.Background()

	writeMigration(t, dir, "V0001__initial_schema.sql", "CREATE TABLE items (id TEXT PRIMARY KEY);")

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	executed, err := m.Executed(ctx)
	require.NoError(t, err)
	assert.Len(t, executed, 1)
}

func TestUpAppliesOnlyNewScripts(t *testing.T) {
	m, dir := newTestMigrator(t, false)
	ctx := context.Background()

	writeMigration(t, dir, "V0001__initial_schema.sql", "CREATE TABLE items (id TEXT PRIMARY KEY);")
	require.NoError(t, m.Up(ctx))

	writeMigration(t, dir, "V0002__add_name.sql", "ALTER TABLE items ADD COLUMN name TEXT;")
	require.NoError(t, m.Up(ctx))

	executed, err := m.Executed(ctx)
	require.NoError(t, err)
	assert.Len(t, executed, 2)
}

func TestFailingScriptRollsBack(t *testing.T) {
	m, dir := newTestMigrator(t, false)
	ctx := context.Background()

	writeMigration(t, dir, "V0001__broken.sql", `
		CREATE TABLE items (id TEXT PRIMARY KEY);
		CREATE TABLE items (id TEXT PRIMARY KEY);
	`)

	err := m.Up(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMigration))

	// Nothing may be recorded and the partial table must be gone.
	executed, err := m.Executed(ctx)
	require.NoError(t, err)
	assert.Empty(t, executed)

	conn, err := m.pool.Acquire(ctx)
	require.NoError(t, err)
	defer m.pool.Release(conn)
	_, err = conn.ExecContext(ctx, "INSERT INTO items (id) VALUES ('a')")
	assert.Error(t, err)
}

func TestChecksumDriftWarnPolicyContinues(t *testing.T) {
	m, dir := newTestMigrator(t, false)
	ctx := context.Background()

	writeMigration(t, dir, "V0001__initial_schema.sql", "CREATE TABLE items (id TEXT PRIMARY KEY);")
	require.NoError(t, m.Up(ctx))

	// Mutate the script on disk after it was applied.
	writeMigration(t, dir, "V0001__initial_schema.sql", "CREATE TABLE items (id TEXT PRIMARY KEY, extra TEXT);")

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestChecksumDriftFailPolicyRefuses(t *testing.T) {
	m, dir := newTestMigrator(t, true)
	ctx := context.Background()

	writeMigration(t, dir, "V0001__initial_schema.sql", "CREATE TABLE items (id TEXT PRIMARY KEY);")
	require.NoError(t, m.Up(ctx))

	writeMigration(t, dir, "V0001__initial_schema.sql", "CREATE TABLE items (id TEXT PRIMARY KEY, extra TEXT);")

	_, err := m.Pending(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrChecksumMismatch))
}

func TestSplitStatements(t *testing.T) {
	statements := splitStatements(`
		-- schema
		CREATE TABLE a (id TEXT);

		CREATE TABLE b (
			id TEXT
		);
	`)
	require.Len(t, statements, 2)
	assert.Contains(t, statements[0], "CREATE TABLE a")
	assert.Contains(t, statements[1], "CREATE TABLE b")
}

func TestSplitStatementsSemicolonInComment(t *testing.T) {
	statements := splitStatements(`
		-- rows are read-only here; writes happen elsewhere
		CREATE TABLE a (id TEXT);
		CREATE TABLE b (id TEXT);
	`)
	require.Len(t, statements, 2)
	assert.Equal(t, "CREATE TABLE a (id TEXT)", statements[0])
	assert.Equal(t, "CREATE TABLE b (id TEXT)", statements[1])
}

func TestUpAppliesScriptWithCommentedSemicolon(t *testing.T) {
	m, dir := newTestMigrator(t, false)
	ctx := context.Background()

	writeMigration(t, dir, "V0001__initial_schema.sql", `
		-- maintained externally; the store only reads this table
		CREATE TABLE items (id TEXT PRIMARY KEY);
	`)

	require.NoError(t, m.Up(ctx))

	conn, err := m.pool.Acquire(ctx)
	require.NoError(t, err)
	defer m.pool.Release(conn)
	_, err = conn.ExecContext(ctx, "INSERT INTO items (id) VALUES ('a')")
	assert.NoError(t, err)
}
