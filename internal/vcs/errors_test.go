package vcs

import (
	"fmt"
	"testing"
)

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		retryable  bool
		userAction bool
		fatal      bool
	}{
		{"nil", nil, false, false, false},
		{"timeout", fmt.Errorf("git push: %w", ErrTimeout), true, false, false},
		{"push rejected", ErrPushRejected, true, true, false},
		{"detached", ErrDetached, false, true, false},
		{"not in vcs", fmt.Errorf("open: %w", ErrNotInVCS), false, false, true},
		{"binary missing", ErrVCSNotAvailable, false, false, true},
		{"nothing to commit", ErrNothingToCommit, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := IsUserActionRequired(tt.err); got != tt.userAction {
				t.Errorf("IsUserActionRequired() = %v, want %v", got, tt.userAction)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}
