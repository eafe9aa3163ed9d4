// Package store implements the cache store: the single SQLite database
// under the omni cache directory that records installs, the work
// directories referencing them, cached remote version listings,
// environment history, and prompt answers.
//
// Readers use the database connection directly. Writers go through
// WithWriteLock, which serializes writes across processes with a file
// lock on the database path and wraps the operation in a transaction.
// The lock is held only for the duration of the record-keeping calls
// passed to WithWriteLock, never across an external installer run.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/xaf/omni/internal/omnierr"
)

// DefaultLockTimeout is how long a writer waits for the store lock
// before giving up with omnierr.ErrStoreBusy.
const DefaultLockTimeout = 30 * time.Second

// Store is a handle on the cache database.
type Store struct {
	db          *sql.DB
	lock        *flock.Flock
	lockTimeout time.Duration
}

// Open opens (creating if necessary) the cache database at dbPath and
// applies any pending migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to open database %s: %v", dbPath, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to enable foreign keys: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to enable WAL journal mode: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:          db,
		lock:        flock.New(dbPath + ".lock"),
		lockTimeout: DefaultLockTimeout,
	}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection for read-only queries that
// don't need transactional isolation.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithWriteLock acquires the cross-process store lock, opens a
// transaction, runs fn, and commits on success. If the lock cannot be
// acquired within the store's lock timeout it returns
// omnierr.ErrStoreBusy. fn's error is returned unwrapped after a
// rollback.
func (s *Store) WithWriteLock(ctx context.Context, fn func(tx *sql.Tx) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return eris.Wrapf(omnierr.ErrStoreBusy, "timed out waiting %s for store lock", s.lockTimeout)
	}
	defer func() {
		//nolint:errcheck // best-effort unlock
		s.lock.Unlock()
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(omnierr.ErrStoreIO, "failed to begin transaction: %v", err)
	}

	if err := fn(tx); err != nil {
		//nolint:errcheck // rollback in error path
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(omnierr.ErrStoreIO, "failed to commit transaction: %v", err)
	}
	return nil
}
