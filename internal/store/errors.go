package store

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Mschirtzinger/todomd/internal/blob"
	"github.com/Mschirtzinger/todomd/internal/search"
)

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when a task or issue does not exist, or is
	// archived and the read excludes archived tasks.
	ErrNotFound = errors.New("not found")

	// ErrNotArchived is returned by Restore for a task that is live.
	ErrNotArchived = fmt.Errorf("%w: task is not archived", ErrNotFound)

	// ErrVersionConflict is returned when an expected vclock does not match.
	ErrVersionConflict = errors.New("vclock_conflict")

	// ErrArchivedConflict is returned when mutating an archived task.
	ErrArchivedConflict = errors.New("task is archived")

	// ErrInvalidOperation is returned for malformed input.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrStorageFault wraps unexpected database failures.
	ErrStorageFault = errors.New("storage fault")

	// ErrDigestMismatch is returned when an attachment's claimed digest is
	// wrong.
	ErrDigestMismatch = blob.ErrDigestMismatch
)

// ConflictError reports the current vclock of a task whose update lost an
// optimistic-concurrency check.
type ConflictError struct {
	ID       string
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("vclock_conflict: task %s expected %d, current %d", e.ID, e.Expected, e.Current)
}

// Unwrap lets errors.Is match ErrVersionConflict.
func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// IsNotFound reports whether err means the entity is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a version or archived conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrArchivedConflict)
}

// IsInvalid reports whether err was caused by caller input.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, search.ErrInvalidQuery) ||
		errors.Is(err, blob.ErrDigestMismatch) ||
		errors.Is(err, blob.ErrInvalidDigest)
}

// Code maps an error to the HTTP status an API surface should return.
func Code(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsInvalid(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CurrentVclock extracts the current vclock from a conflict, if any.
func CurrentVclock(err error) (int64, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Current, true
	}
	return 0, false
}

func fault(what string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStorageFault, what, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}
