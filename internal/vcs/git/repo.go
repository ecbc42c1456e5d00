package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Mschirtzinger/todomd/internal/vcs"
)

// detect populates git repository information
func (g *Git) detect(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Use git rev-parse to get all info in one call
	output, err := vcs.ExecContext(context.Background(), vcs.DefaultTimeout, absPath,
		"git", "rev-parse", "--git-dir", "--git-common-dir", "--show-toplevel")
	if err != nil {
		if vcs.IsFatal(err) {
			return err
		}
		return vcs.ErrNotInVCS
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) < 3 {
		return fmt.Errorf("unexpected git rev-parse output: got %d lines, expected 3", len(lines))
	}

	gitDir := strings.TrimSpace(lines[0])
	commonDir := strings.TrimSpace(lines[1])
	repoRoot := strings.TrimSpace(lines[2])

	// Convert to absolute paths
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(absPath, gitDir)
	}
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(absPath, commonDir)
	}

	g.vcsDir = gitDir
	g.repoRoot = normalizeRepoRoot(repoRoot)

	// Detect worktree by comparing git-dir and common-dir
	absGitDir, _ := filepath.Abs(gitDir)
	absCommonDir, _ := filepath.Abs(commonDir)
	g.isWorktree = absGitDir != absCommonDir

	return nil
}

// normalizeRepoRoot normalizes the repository root path
// Resolves symlinks and canonicalizes case on case-insensitive filesystems
func normalizeRepoRoot(path string) string {
	// Normalize Windows paths
	path = filepath.FromSlash(path)

	// Resolve symlinks
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	return path
}
