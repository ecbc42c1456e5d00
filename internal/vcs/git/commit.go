package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mschirtzinger/todomd/internal/vcs"
)

// HasChanges returns true if there are uncommitted changes
// If paths are specified, only checks those paths
func (g *Git) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	args := []string{"status", "--porcelain", "--"}
	args = append(args, paths...)

	output, err := g.Exec(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}

	return len(strings.TrimSpace(string(output))) > 0, nil
}

// HasStagedChanges reports whether the index differs from HEAD. It asks
// git directly ("diff --cached --quiet" exits 1 on a difference), so the
// answer does not depend on what the caller believes it changed.
func (g *Git) HasStagedChanges(ctx context.Context, paths ...string) (bool, error) {
	args := []string{"diff", "--cached", "--quiet"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	_, err := g.Exec(ctx, args...)
	switch {
	case err == nil:
		return false, nil
	case vcs.GetExitCode(err) == 1:
		return true, nil
	default:
		return false, fmt.Errorf("git diff --cached failed: %w", err)
	}
}

// Add stages files for commit
func (g *Git) Add(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	args := append([]string{"add", "--"}, paths...)
	if _, err := g.Exec(ctx, args...); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}

	return nil
}

// Status returns the status of files in the working directory
func (g *Git) Status(ctx context.Context, paths ...string) ([]vcs.FileStatus, error) {
	args := []string{"status", "--porcelain", "--"}
	args = append(args, paths...)

	output, err := g.Exec(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	var statuses []vcs.FileStatus
	for _, line := range strings.Split(string(output), "\n") {
		if len(line) < 4 {
			continue
		}

		// Parse status format: XY filename
		// X = staged status, Y = unstaged status
		statuses = append(statuses, vcs.FileStatus{
			Path:       strings.TrimSpace(line[3:]),
			Status:     parseStatusCode(line[1:2]),
			StagedCode: parseStatusCode(line[0:1]),
		})
	}

	return statuses, nil
}

// parseStatusCode converts git status code to vcs.StatusCode
func parseStatusCode(code string) vcs.StatusCode {
	switch code {
	case "M":
		return vcs.StatusModified
	case "A":
		return vcs.StatusAdded
	case "D":
		return vcs.StatusDeleted
	case "R":
		return vcs.StatusRenamed
	case "C":
		return vcs.StatusCopied
	case "?":
		return vcs.StatusUntracked
	case "!":
		return vcs.StatusIgnored
	case "U":
		return vcs.StatusConflict
	default:
		return vcs.StatusUnmodified
	}
}

// Commit creates a commit with the specified options
func (g *Git) Commit(ctx context.Context, opts vcs.CommitOptions) error {
	if opts.Message == "" {
		return fmt.Errorf("commit message is required")
	}

	// Stage files if paths specified
	if err := g.Add(ctx, opts.Paths); err != nil {
		return err
	}

	// Build commit arguments
	args := []string{"commit", "-m", opts.Message}

	if opts.Body != "" {
		args = append(args, "-m", opts.Body)
	}

	if opts.Author != "" {
		args = append(args, "--author", opts.Author)
	}

	if opts.NoGPGSign {
		args = append(args, "--no-gpg-sign")
	}

	if opts.NoVerify {
		args = append(args, "--no-verify")
	}

	if opts.AllowEmpty {
		args = append(args, "--allow-empty")
	}

	// Add paths with -- to ensure they're treated as paths
	if len(opts.Paths) > 0 {
		args = append(args, "--")
		args = append(args, opts.Paths...)
	}

	output, err := g.Exec(ctx, args...)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") || strings.Contains(string(output), "no changes added to commit") {
			return vcs.ErrNothingToCommit
		}
		return fmt.Errorf("git commit failed: %w", err)
	}

	return nil
}
