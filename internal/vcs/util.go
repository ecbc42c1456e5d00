package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds a single VCS command.
const DefaultTimeout = 30 * time.Second

// ===================
// Command Execution Utilities
// ===================

// ExecContext executes a VCS command with timeout and context support.
//
// A missing binary is reported as ErrVCSNotAvailable and an expired
// timeout as ErrTimeout. Other failures wrap the *exec.ExitError, with
// stderr appended to the message.
//
// Example:
//
//	output, err := ExecContext(ctx, 30*time.Second, repoRoot, "git", "status", "--porcelain")
func ExecContext(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]byte, error) {
	// Create context with timeout if specified
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Create command
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir

	// Capture output
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Execute
	err := cmd.Run()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVCSNotAvailable, name)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, name, strings.Join(args, " "))
		}
		// Include stderr in error message for debugging
		if stderr.Len() > 0 {
			return stdout.Bytes(), fmt.Errorf("%s %s failed: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
		}
		return stdout.Bytes(), fmt.Errorf("%s %s failed: %w", name, strings.Join(args, " "), err)
	}

	return stdout.Bytes(), nil
}

// ExecLines executes a command and returns the output as lines.
// Empty lines are filtered out.
func ExecLines(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]string, error) {
	output, err := ExecContext(ctx, timeout, workDir, name, args...)
	if err != nil {
		return nil, err
	}

	return ParseLines(output), nil
}

// ===================
// Output Parsing Utilities
// ===================

// ParseLines splits command output into non-empty lines.
// This is a common pattern for parsing VCS command output.
func ParseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}

	return result
}

// TrimOutput trims whitespace and trailing newlines from command output.
func TrimOutput(output []byte) string {
	return strings.TrimSpace(string(output))
}

// ===================
// Path Utilities
// ===================

// RelativePath returns the relative path from base to target.
// Returns an error if the paths cannot be related.
func RelativePath(base, target string) (string, error) {
	base = filepath.Clean(base)
	target = filepath.Clean(target)

	relPath, err := filepath.Rel(base, target)
	if err != nil {
		return "", fmt.Errorf("cannot determine relative path: %w", err)
	}

	return relPath, nil
}

// IsSubPath returns true if target is inside base directory.
func IsSubPath(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)

	relPath, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}

	// If relative path starts with "..", it's outside base
	return relPath != ".." && !strings.HasPrefix(relPath, ".."+string(filepath.Separator))
}

// ===================
// Error Utilities
// ===================

// GetExitCode returns the exit code from an error, or -1 if not an exit error.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
