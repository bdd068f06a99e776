// Package db provides connection management, query building and schema
// migration for the local ledger store.
package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/models"
)

// Migration script filenames look like V0003__add_project_column.sql:
// a sortable version prefix and an underscore-separated description.
var migrationFilePattern = regexp.MustCompile(`^V(\d+)__(.+)\.sql$`)

// Migrator discovers, verifies and applies schema migration scripts.
// Applied migrations are recorded in an immutable ledger table; a
// checksum mismatch between the ledger and the on-disk script signals
// drift and is handled per the configured policy.
type Migrator struct {
	pool *Pool
	dir  string

	// failOnDrift refuses startup on checksum drift instead of warning.
	failOnDrift bool
}

// NewMigrator creates a Migrator reading scripts from dir.
func NewMigrator(pool *Pool, dir string, failOnDrift bool) *Migrator {
	return &Migrator{pool: pool, dir: dir, failOnDrift: failOnDrift}
}

// Initialize creates the migration ledger table if it does not exist.
func (m *Migrator) Initialize(ctx context.Context) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Release(conn)

	_, err = conn.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL CHECK(length(checksum) = 64),
		executed_at INTEGER NOT NULL
	);`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "create migration ledger", err)
	}
	return nil
}

// Discover scans the migration directory and returns all scripts with
// their content checksums, sorted by version.
func (m *Migrator) Discover() ([]models.MigrationInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrMigration, "read migrations directory", err)
	}

	var migrations []models.MigrationInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("read migration script %s", entry.Name()), err)
		}

		sum := sha256.Sum256(content)
		migrations = append(migrations, models.MigrationInfo{
			Version:     match[1],
			Description: strings.ReplaceAll(match[2], "_", " "),
			Script:      path,
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Executed returns the applied migrations keyed by version.
func (m *Migrator) Executed(ctx context.Context) (map[string]models.MigrationInfo, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer m.pool.Release(conn)

	rows, err := conn.QueryContext(ctx,
		"SELECT version, description, checksum, executed_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "query migration ledger", err)
	}
	defer rows.Close()

	executed := make(map[string]models.MigrationInfo)
	for rows.Next() {
		var info models.MigrationInfo
		var executedAt int64
		if err := rows.Scan(&info.Version, &info.Description, &info.Checksum, &executedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrMigration, "scan migration ledger row", err)
		}
		t := time.Unix(executedAt, 0)
		info.ExecutedAt = &t
		executed[info.Version] = info
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "iterate migration ledger", err)
	}
	return executed, nil
}

// Pending returns discovered scripts whose version is absent from the
// ledger. For already-applied scripts it verifies checksums and reports
// drift per policy: with failOnDrift set the first mismatch is returned
// as an error, otherwise each mismatch is logged as a warning.
func (m *Migrator) Pending(ctx context.Context) ([]models.MigrationInfo, error) {
	discovered, err := m.Discover()
	if err != nil {
		return nil, err
	}
	executed, err := m.Executed(ctx)
	if err != nil {
		return nil, err
	}

	var pending []models.MigrationInfo
	for _, mig := range discovered {
		applied, ok := executed[mig.Version]
		if !ok {
			pending = append(pending, mig)
			continue
		}
		if applied.Checksum != mig.Checksum {
			if m.failOnDrift {
				return nil, apperrors.New(apperrors.ErrChecksumMismatch,
					fmt.Sprintf("migration %s on-disk checksum differs from ledger", mig.Version))
			}
			logging.Warn("migration checksum mismatch", map[string]interface{}{
				"version":         mig.Version,
				"ledger_checksum": applied.Checksum,
				"script_checksum": mig.Checksum,
			})
		}
	}
	return pending, nil
}

// Execute applies one migration script inside a single transaction and
// appends the ledger row. A failing script rolls back and leaves the
// ledger untouched.
func (m *Migrator) Execute(ctx context.Context, migration models.MigrationInfo) error {
	content, err := os.ReadFile(migration.Script)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration,
			fmt.Sprintf("read migration script %s", migration.Version), err)
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "begin migration transaction", err)
	}
	defer tx.Rollback()

	for _, statement := range splitStatements(string(content)) {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("execute migration %s", migration.Version), err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description, checksum, executed_at) VALUES (?, ?, ?, ?)",
		migration.Version, migration.Description, migration.Checksum, time.Now().Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "record migration execution", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "commit migration", err)
	}

	logging.Info("migration applied", map[string]interface{}{
		"version":     migration.Version,
		"description": migration.Description,
	})
	return nil
}

// Up initializes the ledger and applies all pending migrations in
// version order.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}

	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		if err := m.Execute(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

// CurrentVersion returns the highest applied version, or the empty
// string when no migration has run.
func (m *Migrator) CurrentVersion(ctx context.Context) (string, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer m.pool.Release(conn)

	var version sql.NullString
	err = conn.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrMigration, "query current version", err)
	}
	return version.String, nil
}

// splitStatements breaks a script into individual statements. Comment
// lines are stripped before splitting so a semicolon inside a comment
// never truncates a statement.
func splitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		lines = append(lines, line)
	}

	var statements []string
	for _, raw := range strings.Split(strings.Join(lines, "\n"), ";") {
		statement := strings.TrimSpace(raw)
		if statement != "" {
			statements = append(statements, statement)
		}
	}
	return statements
}
