// Package git implements vcs.Repo on top of the git binary.
//
// Every operation shells out to git in the repository root with
// vcs.DefaultTimeout, so the repository is exactly what git itself sees,
// including worktrees and user configuration.
package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mschirtzinger/todomd/internal/vcs"
)

// Git implements vcs.Repo for git repositories.
type Git struct {
	// repoRoot is the repository root directory path
	repoRoot string

	// vcsDir is the .git directory path (may be a file for worktrees)
	vcsDir string

	// isWorktree indicates if this is a git worktree
	isWorktree bool
}

var _ vcs.Repo = (*Git)(nil)

// New creates a new Git instance for the given repository.
// The path should be somewhere within a git repository.
func New(path string) (*Git, error) {
	g := &Git{}

	// Detect repository information
	if err := g.detect(path); err != nil {
		return nil, err
	}

	return g, nil
}

// Name returns the VCS type (git)
func (g *Git) Name() vcs.Type {
	return vcs.TypeGit
}

// Version returns the git version string
func (g *Git) Version() (string, error) {
	output, err := vcs.ExecContext(context.Background(), vcs.DefaultTimeout, "", "git", "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}

	// Output format: "git version 2.39.0"
	return strings.TrimPrefix(vcs.TrimOutput(output), "git version "), nil
}

// RepoRoot returns the repository root directory path
func (g *Git) RepoRoot() (string, error) {
	if g.repoRoot == "" {
		return "", vcs.ErrNotInVCS
	}
	return g.repoRoot, nil
}

// VCSDir returns the .git directory path
func (g *Git) VCSDir() (string, error) {
	if g.vcsDir == "" {
		return "", vcs.ErrNotInVCS
	}
	return g.vcsDir, nil
}

// IsWorktree reports whether the repository is a linked worktree.
func (g *Git) IsWorktree() bool {
	return g.isWorktree
}

// Exec executes a raw git command in the repository root.
func (g *Git) Exec(ctx context.Context, args ...string) ([]byte, error) {
	return vcs.ExecContext(ctx, vcs.DefaultTimeout, g.repoRoot, "git", args...)
}

// ConfigGet returns a git configuration value, or an empty string when
// the key is unset.
func (g *Git) ConfigGet(ctx context.Context, key string) (string, error) {
	output, err := g.Exec(ctx, "config", "--get", key)
	if err != nil {
		// git config exits 1 for a missing key
		if vcs.GetExitCode(err) == 1 {
			return "", nil
		}
		return "", err
	}
	return vcs.TrimOutput(output), nil
}
