package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"codeframe/internal/clock"
	"codeframe/internal/shared/logging"
)

// Store wraps one workspace's SQLite file. All writes go through a single
// mutex so concurrent callers never contend at the driver level; reads run
// freely under WAL.
type Store struct {
	db     *sql.DB
	path   string
	logger logging.Logger
	clock  clock.Clock

	// writeMu serializes all writers. SQLite allows one writer at a time;
	// taking it in-process avoids SQLITE_BUSY churn.
	writeMu sync.Mutex
}

// Option configures a Store at open time.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens (creating if necessary) the state database at path and applies
// pending migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: logging.Nop(),
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// SnapshotTo writes a consistent single-file copy of the database to dest.
// VACUUM INTO folds the WAL in, so the snapshot opens standalone.
func (s *Store) SnapshotTo(ctx context.Context, dest string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("snapshot to %s: %w", dest, err)
	}
	return nil
}

// now returns the current UTC time truncated to microseconds, the resolution
// stored on disk.
func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// withWrite runs fn while holding the write lock, retrying on busy errors
// with a bounded backoff before surfacing ErrDatabaseLocked.
func (s *Store) withWrite(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= len(busyRetrySchedule); attempt++ {
		if attempt > 0 {
			delay := busyRetrySchedule[attempt-1]
			s.logger.Warn("store: busy, retrying in %s (attempt %d)", delay, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = s.runTx(ctx, fn)
		if lastErr == nil || !isBusyError(lastErr) {
			return classify(lastErr)
		}
	}
	return fmt.Errorf("%w: %v", ErrDatabaseLocked, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// timePtr scans a nullable RFC 3339 column into *time.Time.
func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
