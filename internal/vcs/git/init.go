package git

import (
	"context"
	"fmt"
	"os"

	"github.com/Mschirtzinger/todomd/internal/vcs"
)

// Init opens the repository containing dir, running "git init" first when
// dir is not inside one. A non-empty branch names the initial branch of a
// new repository.
func Init(ctx context.Context, dir, branch string) (*Git, error) {
	if g, err := New(dir); err == nil {
		return g, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}

	args := []string{"init"}
	if branch != "" {
		args = append(args, "--initial-branch", branch)
	}
	if _, err := vcs.ExecContext(ctx, vcs.DefaultTimeout, dir, "git", args...); err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}

	return New(dir)
}
