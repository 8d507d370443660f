// Package sqlite implements the canonical single-file store on SQLite via
// sqlx. One database holds the event log and all trading state so that
// order/fill/trade/position writes for a single intent can commit in one
// transaction.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tmflab/tmftrader/internal/store"
)

const defaultTimeout = 10 * time.Second

// DB is the sqlite-backed store.Store.
type DB struct {
	db      *sqlx.DB
	ext     sqlx.ExtContext
	timeout time.Duration
}

var _ store.Store = (*DB)(nil)

// Open opens (creating if needed) the database at path and ensures the
// schema exists. WAL keeps the recorder writer from blocking readers.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", store.ErrUnavailable, path, err)
	}
	// Single writer; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", store.ErrUnavailable, err)
	}
	return &DB{db: db, ext: db, timeout: defaultTimeout}, nil
}

// Close releases the underlying database handle.
func (s *DB) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *DB) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Tx runs fn against a transaction-scoped view. Nested calls reuse the
// enclosing transaction.
func (s *DB) Tx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.db == nil {
		// Already transaction-scoped.
		return fn(s)
	}
	txx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", store.ErrTxFailed, err)
	}
	scoped := &DB{ext: txx, timeout: s.timeout}
	if err := fn(scoped); err != nil {
		_ = txx.Rollback()
		return err
	}
	if err := txx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrTxFailed, err)
	}
	return nil
}
