package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Mschirtzinger/todomd/internal/vcs"
)

// CurrentRef returns the current branch name
// Returns empty string if in detached HEAD state
func (g *Git) CurrentRef() (string, error) {
	output, err := g.Exec(context.Background(), "symbolic-ref", "--short", "HEAD")
	if err != nil {
		// Check if detached HEAD
		if strings.Contains(err.Error(), "not a symbolic ref") {
			return "", nil // Detached HEAD
		}
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	return vcs.TrimOutput(output), nil
}

// GetCommitHash returns the commit hash for the given reference
func (g *Git) GetCommitHash(ref string) (string, error) {
	output, err := g.Exec(context.Background(), "rev-parse", "--verify", ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve ref %s: %w", ref, err)
	}

	return vcs.TrimOutput(output), nil
}

// CommitCount returns the number of commits reachable from HEAD, or 0 in
// a repository without commits.
func (g *Git) CommitCount(ctx context.Context) (int, error) {
	if _, err := g.GetCommitHash("HEAD"); err != nil {
		return 0, nil
	}
	output, err := g.Exec(ctx, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(vcs.TrimOutput(output))
	if err != nil {
		return 0, fmt.Errorf("unexpected rev-list output %q: %w", output, err)
	}
	return n, nil
}

// Log returns up to limit commits reachable from HEAD, newest first.
func (g *Git) Log(ctx context.Context, limit int) ([]vcs.CommitInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	if _, err := g.GetCommitHash("HEAD"); err != nil {
		return nil, nil
	}

	lines, err := vcs.ExecLines(ctx, vcs.DefaultTimeout, g.repoRoot,
		"git", "log", "-n", strconv.Itoa(limit), "--format=%H%x1f%an <%ae>%x1f%s")
	if err != nil {
		return nil, fmt.Errorf("git log failed: %w", err)
	}

	commits := make([]vcs.CommitInfo, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, "\x1f", 3)
		if len(parts) < 3 {
			continue
		}
		commits = append(commits, vcs.CommitInfo{Hash: parts[0], Author: parts[1], Subject: parts[2]})
	}
	return commits, nil
}
