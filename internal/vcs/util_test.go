package vcs

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestParseLines(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []string
	}{
		{
			name:     "empty input",
			input:    []byte(""),
			expected: nil,
		},
		{
			name:     "single line",
			input:    []byte("line1"),
			expected: []string{"line1"},
		},
		{
			name:     "multiple lines",
			input:    []byte("line1\nline2\nline3"),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "lines with whitespace",
			input:    []byte("  line1  \n  line2  \n  line3  "),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "empty lines filtered",
			input:    []byte("line1\n\nline2\n\n\nline3"),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "trailing newline",
			input:    []byte("line1\nline2\n"),
			expected: []string{"line1", "line2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseLines(tt.input)

			if len(result) != len(tt.expected) {
				t.Errorf("Expected %d lines, got %d", len(tt.expected), len(result))
				return
			}

			for i, line := range result {
				if line != tt.expected[i] {
					t.Errorf("Line %d: expected '%s', got '%s'", i, tt.expected[i], line)
				}
			}
		})
	}
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		target   string
		expected string
	}{
		{
			name:     "same directory",
			base:     "/base",
			target:   "/base",
			expected: ".",
		},
		{
			name:     "child directory",
			base:     "/base",
			target:   "/base/child",
			expected: "child",
		},
		{
			name:     "nested child",
			base:     "/base",
			target:   "/base/child/nested",
			expected: "child/nested",
		},
		{
			name:     "parent directory",
			base:     "/base/child",
			target:   "/base",
			expected: "..",
		},
		{
			name:     "sibling directory",
			base:     "/base/dir1",
			target:   "/base/dir2",
			expected: "../dir2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := RelativePath(tt.base, tt.target)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}

			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsSubPath(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		target   string
		expected bool
	}{
		{
			name:     "same directory",
			base:     "/base",
			target:   "/base",
			expected: true,
		},
		{
			name:     "child directory",
			base:     "/base",
			target:   "/base/child",
			expected: true,
		},
		{
			name:     "nested child",
			base:     "/base",
			target:   "/base/child/nested",
			expected: true,
		},
		{
			name:     "parent directory",
			base:     "/base/child",
			target:   "/base",
			expected: false,
		},
		{
			name:     "sibling directory",
			base:     "/base/dir1",
			target:   "/base/dir2",
			expected: false,
		},
		{
			name:     "dot-dot prefixed name",
			base:     "/base",
			target:   "/base/..hidden",
			expected: true,
		},
		{
			name:     "completely different",
			base:     "/base",
			target:   "/other",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsSubPath(tt.base, tt.target)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestTrimOutput(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "empty",
			input:    []byte(""),
			expected: "",
		},
		{
			name:     "no whitespace",
			input:    []byte("content"),
			expected: "content",
		},
		{
			name:     "leading whitespace",
			input:    []byte("  content"),
			expected: "content",
		},
		{
			name:     "trailing whitespace",
			input:    []byte("content  "),
			expected: "content",
		},
		{
			name:     "both",
			input:    []byte("  content  "),
			expected: "content",
		},
		{
			name:     "newlines",
			input:    []byte("\n\ncontent\n\n"),
			expected: "content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TrimOutput(tt.input)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestExecContext(t *testing.T) {
	ctx := context.Background()

	// Test successful execution
	output, err := ExecContext(ctx, 5*time.Second, "/tmp", "echo", "test")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	result := strings.TrimSpace(string(output))
	if result != "test" {
		t.Errorf("Expected 'test', got '%s'", result)
	}
}

func TestExecContextTimeout(t *testing.T) {
	ctx := context.Background()

	// Test timeout - sleep for 2 seconds with 100ms timeout
	_, err := ExecContext(ctx, 100*time.Millisecond, "/tmp", "sleep", "2")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestExecContextMissingBinary(t *testing.T) {
	_, err := ExecContext(context.Background(), time.Second, "/tmp", "todomd-no-such-binary")
	if !errors.Is(err, ErrVCSNotAvailable) {
		t.Errorf("Expected ErrVCSNotAvailable, got %v", err)
	}
	if !IsFatal(err) {
		t.Error("Expected a missing binary to be fatal")
	}
}

func TestExecContextExitCode(t *testing.T) {
	_, err := ExecContext(context.Background(), 5*time.Second, "/tmp", "sh", "-c", "echo oops >&2; exit 3")
	if code := GetExitCode(err); code != 3 {
		t.Errorf("Expected exit code 3 through the wrapped error, got %d", code)
	}
	if err == nil || !strings.Contains(err.Error(), "oops") {
		t.Errorf("Expected stderr in error, got %v", err)
	}
}

func TestExecLines(t *testing.T) {
	ctx := context.Background()

	// Test command that outputs multiple lines
	lines, err := ExecLines(ctx, 5*time.Second, "/tmp", "sh", "-c", "echo line1; echo line2; echo line3")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	expected := []string{"line1", "line2", "line3"}
	if len(lines) != len(expected) {
		t.Errorf("Expected %d lines, got %d", len(expected), len(lines))
		return
	}

	for i, line := range lines {
		if line != expected[i] {
			t.Errorf("Line %d: expected '%s', got '%s'", i, expected[i], line)
		}
	}
}

func TestGetExitCode(t *testing.T) {
	// Test with nil error
	if code := GetExitCode(nil); code != 0 {
		t.Errorf("Expected exit code 0 for nil error, got %d", code)
	}

	// Test with successful command
	err := exec.Command("echo", "test").Run()
	if code := GetExitCode(err); code != 0 {
		t.Errorf("Expected exit code 0 for successful command, got %d", code)
	}

	// Test with failed command
	err = exec.Command("sh", "-c", "exit 42").Run()
	if code := GetExitCode(err); code != 42 {
		t.Errorf("Expected exit code 42, got %d", code)
	}
}
