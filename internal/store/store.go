// Package store is the relational source of truth for the control plane.
// It persists users, environments, service instances, port allocations,
// usage intervals, DNS records, and emulated cloud resources in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/afterdarksys/mockfactory/internal/fault"
)

// Store wraps the sqlite handle with typed queries. All mutations that touch
// two related entities run inside Tx so a crash never leaves half a change.
type Store struct {
	db *sql.DB

	// now is injectable so tests can advance logical time.
	now func() time.Time
}

// Open opens (and migrates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate&_loc=UTC", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// storms under concurrent provisioning.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// SetClock overrides the store clock. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Now returns the store's current time in UTC.
func (s *Store) Now() time.Time { return s.now().UTC() }

// Tx runs fn inside an immediate transaction. The _txlock=immediate DSN
// option makes BeginTx issue BEGIN IMMEDIATE, taking the write lock up
// front, which is what serializes port allocation.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// classify maps driver errors onto the shared fault kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fault.ErrNotFound
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", fault.ErrConflict, err)
	}
	return err
}

// requireRow converts a zero-row UPDATE/DELETE into NotFound.
func requireRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.NotFoundf(format, args...)
	}
	return nil
}

// nullTime converts an optional time for storage.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// nullStr converts an optional string for storage.
func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
