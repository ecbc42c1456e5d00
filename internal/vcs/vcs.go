// Package vcs defines the version control operations todomd needs to
// publish its rendered files, plus shared command helpers.
//
// # Architecture
//
// The sync worker depends on the Repo interface only. The git backend in
// internal/vcs/git implements it by shelling out to the git binary, so a
// repository is whatever directory git itself would operate on.
//
// # Usage
//
//	repo, err := git.Init(ctx, "/srv/todos", "main")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := repo.Add(ctx, []string{"TODO.md"}); err != nil {
//	    log.Fatal(err)
//	}
//	staged, err := repo.HasStagedChanges(ctx)
//	if err == nil && staged {
//	    err = repo.Commit(ctx, vcs.CommitOptions{Message: "chore(todos): sync"})
//	}
package vcs

import "context"

// Type represents the VCS backend type
type Type string

const (
	// TypeGit indicates a git repository
	TypeGit Type = "git"
)

// String returns the string representation of the VCS type
func (t Type) String() string {
	return string(t)
}

// Repo is the set of repository operations the git sync worker performs.
// Implementations run every operation in the repository root.
type Repo interface {
	// Name returns the VCS type.
	Name() Type

	// RepoRoot returns the repository root directory path.
	RepoRoot() (string, error)

	// CurrentRef returns the current branch name, or an empty string on a
	// detached HEAD.
	CurrentRef() (string, error)

	// HasRemote reports whether any remote is configured.
	HasRemote() bool

	// ConfigGet returns a configuration value, or an empty string when the
	// key is unset.
	ConfigGet(ctx context.Context, key string) (string, error)

	// Add stages the given paths, relative to the repository root.
	Add(ctx context.Context, paths []string) error

	// HasStagedChanges reports whether the index differs from HEAD,
	// optionally restricted to paths.
	HasStagedChanges(ctx context.Context, paths ...string) (bool, error)

	// Commit records the staged changes. It returns ErrNothingToCommit
	// when nothing is staged and AllowEmpty is unset.
	Commit(ctx context.Context, opts CommitOptions) error

	// Push sends a branch to a remote.
	Push(ctx context.Context, opts PushOptions) error
}

// FileStatus represents the status of a file in the working directory
type FileStatus struct {
	// Path is the file path relative to repository root
	Path string

	// Status is the working directory status
	Status StatusCode

	// StagedCode is the staging area status
	StagedCode StatusCode
}

// StatusCode represents file status codes
type StatusCode string

const (
	StatusUnmodified StatusCode = " " // No changes
	StatusModified   StatusCode = "M" // Modified
	StatusAdded      StatusCode = "A" // Added/new file
	StatusDeleted    StatusCode = "D" // Deleted
	StatusRenamed    StatusCode = "R" // Renamed
	StatusCopied     StatusCode = "C" // Copied
	StatusUntracked  StatusCode = "?" // Untracked
	StatusIgnored    StatusCode = "!" // Ignored
	StatusConflict   StatusCode = "U" // Unmerged/conflict
)

// CommitOptions configures a commit operation
type CommitOptions struct {
	// Message is the commit subject (required)
	Message string

	// Body is an optional second paragraph.
	Body string

	// Paths limits the commit to these files. Empty commits the index.
	Paths []string

	// Author overrides the commit author (optional, format: "Name <email>")
	Author string

	// NoGPGSign disables GPG signing
	NoGPGSign bool

	// NoVerify skips pre-commit hooks
	NoVerify bool

	// AllowEmpty allows creating an empty commit
	AllowEmpty bool
}

// PushOptions configures a push operation
type PushOptions struct {
	// Remote is the remote name. Empty uses the branch's configured
	// remote, then "origin".
	Remote string

	// Ref is the reference to push. Empty uses current branch.
	Ref string

	// SetUpstream configures the upstream tracking reference
	SetUpstream bool

	// Force enables force push (use with caution!)
	Force bool
}

// CommitInfo is one entry of the commit log.
type CommitInfo struct {
	Hash    string
	Subject string
	Author  string
}
