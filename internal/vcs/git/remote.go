package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mschirtzinger/todomd/internal/vcs"
)

// HasRemote returns true if any remote is configured
func (g *Git) HasRemote() bool {
	output, err := g.Exec(context.Background(), "remote")
	if err != nil {
		return false
	}

	return len(strings.TrimSpace(string(output))) > 0
}

// Push pushes a branch to the remote. It returns vcs.ErrNoRemote when no
// remote is configured and vcs.ErrPushRejected for non-fast-forward
// updates.
func (g *Git) Push(ctx context.Context, opts vcs.PushOptions) error {
	if !g.HasRemote() {
		return vcs.ErrNoRemote
	}

	// Determine ref
	ref := opts.Ref
	if ref == "" {
		// Use current branch
		var err error
		ref, err = g.CurrentRef()
		if err != nil {
			return err
		}
		if ref == "" {
			return vcs.ErrDetached
		}
	}

	// Determine remote
	remote := opts.Remote
	if remote == "" {
		// Try to get configured remote for the branch
		remote, _ = g.ConfigGet(ctx, fmt.Sprintf("branch.%s.remote", ref))

		// Default to origin if not configured
		if remote == "" {
			remote = "origin"
		}
	}

	// Build push arguments
	args := []string{"push"}

	if opts.SetUpstream {
		args = append(args, "-u")
	}

	if opts.Force {
		args = append(args, "--force")
	}

	args = append(args, remote, ref)

	if _, err := g.Exec(ctx, args...); err != nil {
		// Check for push rejection
		if strings.Contains(err.Error(), "rejected") || strings.Contains(err.Error(), "non-fast-forward") {
			return fmt.Errorf("%w: %v", vcs.ErrPushRejected, err)
		}

		return fmt.Errorf("git push failed: %w", err)
	}

	return nil
}
