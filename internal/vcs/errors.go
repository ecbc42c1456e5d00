package vcs

import "errors"

// Common errors returned by VCS operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrNotInVCS) {
//	    // Handle case where we're outside any VCS repository
//	}
var (
	// ErrNotInVCS is returned when the operation requires being inside
	// a VCS repository but none was found.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrVCSNotAvailable is returned when the git binary is not installed
	// or not in PATH.
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrNoRemote is returned when an operation requires a remote
	// but none is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrDetached is returned when an operation requires being on
	// a branch but HEAD is detached.
	ErrDetached = errors.New("not on a branch")

	// ErrNothingToCommit is returned by Commit when the index matches HEAD.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrPushRejected is returned when a push is rejected by the remote,
	// typically due to non-fast-forward updates.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrTimeout is returned when a VCS operation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// This is useful for transient network errors or temporary lock conflicts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Timeouts are often transient
	if errors.Is(err, ErrTimeout) {
		return true
	}

	// Push rejections might succeed after a pull
	if errors.Is(err, ErrPushRejected) {
		return true
	}

	return false
}

// IsUserActionRequired returns true if the error requires user intervention
// to resolve.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}

	// Push rejected usually means divergent remote
	if errors.Is(err, ErrPushRejected) {
		return true
	}

	// A detached HEAD has no branch to push
	if errors.Is(err, ErrDetached) {
		return true
	}

	return false
}

// IsFatal returns true if the error indicates a non-recoverable state
// that requires manual intervention or re-initialization.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Not in VCS means we can't do anything
	if errors.Is(err, ErrNotInVCS) {
		return true
	}

	// Binary not available means we can't execute commands
	if errors.Is(err, ErrVCSNotAvailable) {
		return true
	}

	return false
}
