// Package store persists all durable engine state in a single embedded
// SQLite database: the local hash cache, the upload job ledger, and the
// mirror of the remote asset index.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	apperrors "github.com/snapwire/photosync/internal/errors"
)

const storeDirPerm = 0o700

// Store wraps the shared database handle. All writes serialize through
// a single writer mutex so concurrent batches never interleave at the
// row level; WAL mode lets readers proceed during a writer transaction.
type Store struct {
	db *sql.DB

	// wmu is the single logical writer queue. Batch transactions hold it
	// for their full duration.
	wmu sync.Mutex
}

// Open opens (creating if needed) the database at the given path and
// applies the schema. The parent directory is created with restrictive
// permissions since the database mirrors remote account data.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging store db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// write runs fn against the database under the writer mutex. Used for
// single-statement writes where an explicit transaction adds nothing.
func (s *Store) write(fn func() error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := fn(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreWriteFailed, err)
	}

	return nil
}

// writeTx runs fn inside one transaction under the writer mutex. The
// whole batch commits or none of it does; a failure leaves previously
// committed batches untouched.
func (s *Store) writeTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := WithTx(ctx, s.db, nil, fn); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreWriteFailed, err)
	}

	return nil
}
