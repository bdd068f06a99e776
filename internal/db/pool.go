// Package db provides connection management, query building and schema
// migration for the local ledger store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/logging"
)

// Pool is a bounded pool of dedicated SQLite connections. The pool hands
// out connections only; transaction boundaries are the caller's
// responsibility.
type Pool struct {
	db             *sql.DB
	size           int
	acquireTimeout time.Duration

	mu     sync.Mutex
	free   chan *sql.Conn
	inUse  map[*sql.Conn]struct{}
	closed bool

	// deficit counts discarded connections that could not be replaced
	// immediately; Acquire retries them so the pool regains its size.
	deficit int
}

// NewPool opens the SQLite database at path and pre-opens size dedicated
// connections. The database is opened with WAL mode and foreign keys
// enabled.
func NewPool(path string, size int, acquireTimeout time.Duration) (*Pool, error) {
	if size < 1 {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("pool size must be at least 1, got %d", size))
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "open database", err)
	}

	// One slot per pooled connection; database/sql must not grow beyond it.
	sqlDB.SetMaxOpenConns(size)
	sqlDB.SetMaxIdleConns(size)
	sqlDB.SetConnMaxLifetime(0)

	// WAL mode is a database-level persistent setting.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		sqlDB.Close()
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "enable WAL mode", err)
	}

	p := &Pool{
		db:             sqlDB,
		size:           size,
		acquireTimeout: acquireTimeout,
		free:           make(chan *sql.Conn, size),
		inUse:          make(map[*sql.Conn]struct{}, size),
	}

	for i := 0; i < size; i++ {
		conn, err := p.newConn(context.Background())
		if err != nil {
			p.CloseAll()
			return nil, err
		}
		p.free <- conn
	}

	return p, nil
}

// newConn opens a dedicated connection and applies per-connection pragmas.
func (p *Pool) newConn(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "open connection", err)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=30000;",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "apply connection pragma", err)
		}
	}
	return conn, nil
}

// Acquire returns a ready-to-use connection, blocking until one is free
// or the acquire timeout elapses. Callers must pass the connection back
// through Release on every exit path.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrPoolClosed, "pool is closed")
	}
	restore := p.deficit > 0
	if restore {
		p.deficit--
	}
	p.mu.Unlock()

	if restore {
		if conn, err := p.newConn(ctx); err == nil {
			select {
			case p.free <- conn:
			default:
				conn.Close()
			}
		} else {
			p.mu.Lock()
			p.deficit++
			p.mu.Unlock()
		}
	}

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case conn, ok := <-p.free:
		if !ok {
			return nil, apperrors.New(apperrors.ErrPoolClosed, "pool is closed")
		}
		p.mu.Lock()
		p.inUse[conn] = struct{}{}
		p.mu.Unlock()
		return conn, nil
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.ErrPoolExhausted, "acquire canceled", ctx.Err())
	case <-timer.C:
		return nil, apperrors.New(apperrors.ErrPoolExhausted,
			fmt.Sprintf("no connection available within %s", p.acquireTimeout))
	}
}

// Release returns a connection to the pool. The connection is validated
// first; an unhealthy connection is discarded and replaced so the pool
// keeps its fixed size. Transient connection failures are absorbed here
// rather than surfaced to callers.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	delete(p.inUse, conn)
	closed := p.closed
	p.mu.Unlock()

	if closed {
		conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var probe int
	if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&probe); err != nil {
		logging.Warn("discarding unhealthy connection", map[string]interface{}{
			"error": err.Error(),
		})
		conn.Close()

		replacement, rerr := p.newConn(ctx)
		if rerr != nil {
			logging.Error("failed to replace discarded connection", rerr, nil)
			p.mu.Lock()
			p.deficit++
			p.mu.Unlock()
			return
		}
		conn = replacement
	}

	select {
	case p.free <- conn:
	default:
		// Pool already full; close the surplus connection.
		conn.Close()
	}
}

// CloseAll drains and closes every connection, idle and in use, then
// closes the underlying database. Safe to call more than once.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	inUse := make([]*sql.Conn, 0, len(p.inUse))
	for conn := range p.inUse {
		inUse = append(inUse, conn)
	}
	p.inUse = map[*sql.Conn]struct{}{}
	p.mu.Unlock()

	close(p.free)
	for conn := range p.free {
		conn.Close()
	}
	for _, conn := range inUse {
		conn.Close()
	}

	return p.db.Close()
}

// Size returns the fixed pool size.
func (p *Pool) Size() int {
	return p.size
}
