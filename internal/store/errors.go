package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors surfaced by the typed repositories.
var (
	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDatabaseLocked means the write lock could not be acquired after
	// bounded retries.
	ErrDatabaseLocked = errors.New("database locked")

	// ErrIntegrityViolation means a uniqueness or referential constraint
	// was violated.
	ErrIntegrityViolation = errors.New("integrity violation")
)

// TransitionError reports an illegal status change.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s (id=%s)", e.Entity, e.From, e.To, e.ID)
}

// IsInvalidTransition reports whether err wraps a TransitionError.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// busyRetrySchedule is the bounded backoff used when SQLite reports the
// database is busy beyond its own busy_timeout.
var busyRetrySchedule = []time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "SQLITE_CONSTRAINT")
}

// classify maps raw driver errors onto the package sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isBusyError(err):
		return fmt.Errorf("%w: %v", ErrDatabaseLocked, err)
	case isConstraintError(err):
		return fmt.Errorf("%w: %v", ErrIntegrityViolation, err)
	default:
		return err
	}
}
