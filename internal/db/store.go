// Package db provides connection management, query building and schema
// migration for the local ledger store.
package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuchia/localledger/internal/config"
	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/uuid"
)

// databaseFile is the SQLite file name inside the data directory.
const databaseFile = "ledger.db"

// deviceIDFile persists the device identity beside the database, outside
// the transactional store, so it survives schema resets.
const deviceIDFile = ".device_id"

// Store owns the connection pool, read cache, statistics and event bus
// for the lifetime of the process. Services borrow scoped connections
// through WithConn/WithTx and never hold storage resources themselves.
type Store struct {
	pool     *Pool
	cache    *Cache
	stats    *Stats
	events   *EventBus
	migrator *Migrator
	deviceID string
	dataDir  string
}

// Open bootstraps the store: data directory, device identity, connection
// pool and schema migrations. The store accepts no traffic until
// migrations have finished.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	dataDir := cfg.Database.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "create data directory", err)
	}

	deviceID, err := loadOrCreateDeviceID(dataDir)
	if err != nil {
		return nil, err
	}

	pool, err := NewPool(filepath.Join(dataDir, databaseFile),
		cfg.Database.PoolSize, cfg.Database.AcquireTimeout)
	if err != nil {
		return nil, err
	}

	s := &Store{
		pool:     pool,
		cache:    NewCache(),
		stats:    NewStats(),
		events:   NewEventBus(),
		deviceID: deviceID,
		dataDir:  dataDir,
	}
	s.migrator = NewMigrator(pool, cfg.Migrations.Dir,
		cfg.Migrations.ChecksumPolicy == config.PolicyFail)

	if err := s.migrator.Up(ctx); err != nil {
		pool.CloseAll()
		return nil, err
	}

	if err := s.ensureDeviceInfo(ctx); err != nil {
		pool.CloseAll()
		return nil, err
	}

	logging.Info("store opened", map[string]interface{}{
		"data_dir":  dataDir,
		"device_id": deviceID,
		"pool_size": pool.Size(),
	})
	return s, nil
}

// loadOrCreateDeviceID reads the persisted device identifier or creates
// and persists a fresh one.
func loadOrCreateDeviceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, deviceIDFile)

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if uuid.IsValid(id) {
			return id, nil
		}
		logging.Warn("ignoring malformed device id file", map[string]interface{}{"path": path})
	}

	id := uuid.New()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "persist device id", err)
	}
	return id, nil
}

// ensureDeviceInfo records this device in device_info if absent.
func (s *Store) ensureDeviceInfo(ctx context.Context) error {
	return s.WithConn(ctx, func(conn *sql.Conn) error {
		var existing string
		err := conn.QueryRowContext(ctx,
			"SELECT device_id FROM device_info WHERE device_id = ?", s.deviceID).Scan(&existing)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return apperrors.Wrap(apperrors.ErrDatabase, "query device info", err)
		}

		hostname, herr := os.Hostname()
		if herr != nil {
			hostname = "unknown-host"
		}
		_, err = conn.ExecContext(ctx, `
			INSERT OR REPLACE INTO device_info (device_id, device_name, device_type, installation_id)
			VALUES (?, ?, ?, ?)`,
			s.deviceID, hostname, "desktop", uuid.New())
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "insert device info", err)
		}
		return nil
	})
}

// WithConn runs fn with a borrowed connection, releasing it on every
// exit path including panics.
func (s *Store) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(conn)

	return fn(conn)
}

// WithTx runs fn inside a transaction on a borrowed connection. The
// transaction commits when fn returns nil and rolls back otherwise; the
// connection is released unconditionally.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "begin transaction", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// DeviceID returns the stable identifier of this installation.
func (s *Store) DeviceID() string {
	return s.deviceID
}

// Cache returns the shared read cache.
func (s *Store) Cache() *Cache {
	return s.cache
}

// Stats returns the latency statistics collector.
func (s *Store) Stats() *Stats {
	return s.stats
}

// RegisterEventCallback subscribes a handler to a store event.
func (s *Store) RegisterEventCallback(event string, handler EventHandler) {
	s.events.Register(event, handler)
}

// Emit dispatches a store event to registered handlers.
func (s *Store) Emit(event string, payload map[string]interface{}) {
	s.events.Emit(event, payload)
}

// Migrator exposes the migration runner, mainly for status inspection.
func (s *Store) Migrator() *Migrator {
	return s.migrator
}

// Close shuts down the pool. Idempotent.
func (s *Store) Close() error {
	return s.pool.CloseAll()
}
