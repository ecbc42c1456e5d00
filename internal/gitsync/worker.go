// Package gitsync provides the background worker that commits the projected
// task files to git.
//
// The worker:
//  1. Polls the shadow document's mtime and watches it with fsnotify
//  2. Debounces triggers so that a burst of changes produces one sync
//  3. Projects the store (TODO.md and the .specify tree) into the repository
//  4. Stages the projected files, commits when the index differs from HEAD,
//     and optionally pushes
//
// At most one sync runs at a time. A trigger that arrives while a sync is
// running is remembered as a single pending reschedule.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mschirtzinger/todomd/internal/projection"
	"github.com/Mschirtzinger/todomd/internal/store"
	"github.com/Mschirtzinger/todomd/internal/vcs"
)

// Skip reasons reported in Outcome.SkippedReason.
const (
	SkipCommitDisabled = "commit_on_write_disabled"
	SkipNoFiles        = "no_files"
	SkipNoChanges      = "no_changes"
)

// ReasonShadowUpdate is the reason of syncs triggered by the shadow document.
const ReasonShadowUpdate = "shadow-update"

const (
	minPollInterval     = 250 * time.Millisecond
	defaultPollInterval = 2 * time.Second
)

// DefaultMessageTemplate is used when Config.MessageTemplate is empty.
const DefaultMessageTemplate = "chore(todos): {summary}\n\nRefs: {taskIds}\n\n{signoff}"

// Config holds configuration for the worker.
type Config struct {
	// ShadowPath is the document whose mtime triggers a sync. Empty
	// disables the file triggers; ForceSync still works.
	ShadowPath string

	// Debounce is how long to wait after a trigger before syncing.
	Debounce time.Duration

	// PollInterval is how often the shadow mtime is checked. Values below
	// 250ms are raised to 250ms; zero means 2s.
	PollInterval time.Duration

	CommitOnWrite bool
	AutoPush      bool
	Remote        string
	// Branch to push. Empty means the current branch.
	Branch string

	// MessageTemplate supports {summary}, {taskIds} and {signoff}.
	MessageTemplate string
	// Signoff appends a Signed-off-by line resolved from git config.
	Signoff bool

	// Logger for worker activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:        2 * time.Second,
		PollInterval:    defaultPollInterval,
		CommitOnWrite:   true,
		Remote:          "origin",
		MessageTemplate: DefaultMessageTemplate,
		Signoff:         true,
		Logger:          log.New(os.Stderr, "[git-sync] ", log.LstdFlags),
	}
}

// Projector renders the store into the repository and reports the files it
// produced.
type Projector func(ctx context.Context) (*projection.Result, error)

// StoreProjector projects st into repoRoot with projection.ProjectAll.
func StoreProjector(st *store.Store, repoRoot, specifyDir string) Projector {
	return func(ctx context.Context) (*projection.Result, error) {
		return projection.ProjectAll(ctx, st, repoRoot, specifyDir)
	}
}

// Outcome describes one sync attempt.
type Outcome struct {
	OK            bool               `json:"ok"`
	Reason        string             `json:"reason"`
	Projection    *projection.Result `json:"projection,omitempty"`
	Committed     bool               `json:"committed"`
	Pushed        bool               `json:"pushed"`
	CommitMessage string             `json:"commitMessage,omitempty"`
	SkippedReason string             `json:"skippedReason,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// State is the scheduling state of the worker.
type State int

const (
	// StateIdle means no sync is scheduled or running.
	StateIdle State = iota
	// StateDebouncing means a sync is scheduled for when the timer fires.
	StateDebouncing
	// StateRunning means a sync is executing.
	StateRunning
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Worker commits projections of the store to a git repository.
type Worker struct {
	repo    vcs.Repo
	project Projector
	config  *Config

	mu         sync.Mutex
	state      State
	pending    string // reason of the scheduled sync
	reschedule string // trigger received while running
	timer      *time.Timer
	gen        uint64 // invalidates timers that fired after being replaced
	runDone    chan struct{}
	last       *Outcome
	stopped    bool

	signoffOnce sync.Once
	signoff     string

	lastMtime time.Time
	watcher   *FileWatcher

	done     chan struct{}
	wg       sync.WaitGroup
	running  bool
	runsWG   sync.WaitGroup
	stopOnce sync.Once
}

// New creates a worker with default configuration.
func New(repo vcs.Repo, project Projector) (*Worker, error) {
	return NewWithConfig(repo, project, DefaultConfig())
}

// NewWithConfig creates a worker with custom configuration.
func NewWithConfig(repo vcs.Repo, project Projector, config *Config) (*Worker, error) {
	if repo == nil {
		return nil, fmt.Errorf("repo cannot be nil")
	}
	if project == nil {
		return nil, fmt.Errorf("projector cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[git-sync] ", log.LstdFlags)
	}
	switch {
	case config.PollInterval <= 0:
		config.PollInterval = defaultPollInterval
	case config.PollInterval < minPollInterval:
		config.PollInterval = minPollInterval
	}
	if config.Debounce < 0 {
		config.Debounce = 0
	}

	w := &Worker{
		repo:    repo,
		project: project,
		config:  config,
		done:    make(chan struct{}),
	}
	if config.ShadowPath != "" {
		w.lastMtime = mtime(config.ShadowPath)
	}
	return w, nil
}

// State returns the current scheduling state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastOutcome returns the outcome of the most recent sync, or nil.
func (w *Worker) LastOutcome() *Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Start begins polling and watching the shadow document. It returns
// immediately; call Stop to shut the worker down.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker already running")
	}
	if w.stopped {
		return fmt.Errorf("worker stopped")
	}
	w.running = true

	if w.config.ShadowPath == "" {
		w.config.Logger.Println("No shadow path configured; only forced syncs will run")
		return nil
	}

	fw, err := NewFileWatcher()
	if err == nil {
		err = fw.Start(w.config.ShadowPath)
	}
	if err != nil {
		w.config.Logger.Printf("Warning: file watch unavailable, polling only: %v", err)
		fw = nil
	}
	w.watcher = fw

	w.config.Logger.Printf("Watching %s (poll every %s)", w.config.ShadowPath, w.config.PollInterval)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop cancels pending timers, waits for an in-flight sync to finish, and
// stops the watchers. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.gen++
		if w.state == StateDebouncing {
			w.state = StateIdle
			w.pending = ""
		}
		w.reschedule = ""
		watcher := w.watcher
		w.mu.Unlock()

		close(w.done)
		if watcher != nil {
			if err := watcher.Stop(); err != nil {
				w.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}
		w.wg.Wait()
		w.runsWG.Wait()
	})
}

// loop polls the shadow mtime and reacts to watcher events.
func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	var events <-chan FileEvent
	var errs <-chan error
	if w.watcher != nil {
		events = w.watcher.Events()
		errs = w.watcher.Errors()
	}

	w.checkShadow()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.checkShadow()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.checkShadow()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// checkShadow schedules a sync when the shadow document is newer than the
// last one seen.
func (w *Worker) checkShadow() {
	m := mtime(w.config.ShadowPath)
	if m.IsZero() {
		return
	}
	w.mu.Lock()
	newer := m.After(w.lastMtime)
	if newer {
		w.lastMtime = m
	}
	w.mu.Unlock()
	if newer {
		w.Trigger(ReasonShadowUpdate)
	}
}

// Trigger schedules a debounced sync. While debouncing, the timer is left
// alone and the latest reason wins. While running, the trigger is
// remembered and a new debounce starts once the run completes.
func (w *Worker) Trigger(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	switch w.state {
	case StateIdle:
		w.scheduleLocked(reason)
	case StateDebouncing:
		w.pending = reason
	case StateRunning:
		w.reschedule = reason
	}
}

func (w *Worker) scheduleLocked(reason string) {
	w.gen++
	gen := w.gen
	w.state = StateDebouncing
	w.pending = reason
	w.timer = time.AfterFunc(w.config.Debounce, func() { w.fire(gen) })
}

// fire runs the scheduled sync unless the timer was superseded.
func (w *Worker) fire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.state != StateDebouncing || w.stopped {
		w.mu.Unlock()
		return
	}
	reason := w.pending
	w.beginLocked()
	w.runsWG.Add(1)
	w.mu.Unlock()

	defer w.runsWG.Done()
	out := w.performSync(context.Background(), reason)
	w.finish(out)
}

func (w *Worker) beginLocked() {
	w.state = StateRunning
	w.pending = ""
	w.timer = nil
	w.runDone = make(chan struct{})
}

// finish records the outcome and re-enters Debouncing when a trigger
// arrived during the run.
func (w *Worker) finish(out *Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.last = out
	w.state = StateIdle
	close(w.runDone)
	w.runDone = nil
	if w.reschedule != "" && !w.stopped {
		reason := w.reschedule
		w.reschedule = ""
		w.scheduleLocked(reason)
	}
}

// ForceSync runs a sync now, bypassing the debounce timer. It waits for an
// in-flight sync to finish first and cancels any scheduled one.
func (w *Worker) ForceSync(ctx context.Context, reason string) (*Outcome, error) {
	for {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return nil, fmt.Errorf("worker stopped")
		}
		if w.state != StateRunning {
			break
		}
		wait := w.runDone
		w.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	w.reschedule = ""
	w.beginLocked()
	w.runsWG.Add(1)
	w.mu.Unlock()

	defer w.runsWG.Done()
	out := w.performSync(ctx, reason)
	w.finish(out)
	return out, nil
}

// performSync projects, stages, commits and pushes. Only projection and
// git failures before the commit make the outcome not OK.
func (w *Worker) performSync(ctx context.Context, reason string) *Outcome {
	logger := w.config.Logger
	out := &Outcome{Reason: reason}

	res, err := w.project(ctx)
	if err != nil {
		logger.Printf("Projection failed (reason=%s): %v", reason, err)
		out.Error = err.Error()
		return out
	}
	out.OK = true
	out.Projection = res

	if !w.config.CommitOnWrite {
		out.SkippedReason = SkipCommitDisabled
		return out
	}

	fail := func(err error) *Outcome {
		logger.Printf("Sync failed (reason=%s): %v", reason, err)
		out.OK = false
		out.Error = err.Error()
		return out
	}

	paths, err := w.stagePaths(res)
	if err != nil {
		return fail(err)
	}
	if len(paths) == 0 {
		out.SkippedReason = SkipNoFiles
		return out
	}

	if err := w.repo.Add(ctx, paths); err != nil {
		return fail(err)
	}
	staged, err := w.repo.HasStagedChanges(ctx, paths...)
	if err != nil {
		return fail(err)
	}
	if !staged {
		out.SkippedReason = SkipNoChanges
		return out
	}

	message := w.buildMessage(ctx, taskRefs(res.TodoPath))
	subject, body := splitMessage(message)
	err = w.repo.Commit(ctx, vcs.CommitOptions{Message: subject, Body: body, Paths: paths})
	if errors.Is(err, vcs.ErrNothingToCommit) {
		out.SkippedReason = SkipNoChanges
		return out
	}
	if err != nil {
		return fail(err)
	}
	out.Committed = true
	out.CommitMessage = message
	logger.Printf("Committed %d file(s) (reason=%s): %s", len(paths), reason, subject)

	if w.config.AutoPush {
		out.Pushed = w.push(ctx)
	}
	return out
}

// push reports whether the push succeeded. Failures are logged only.
func (w *Worker) push(ctx context.Context) bool {
	if w.config.Remote == "" {
		return false
	}
	branch := w.config.Branch
	if branch == "" {
		ref, err := w.repo.CurrentRef()
		if err != nil || ref == "" {
			w.config.Logger.Printf("Push skipped: no current branch")
			return false
		}
		branch = ref
	}
	opts := vcs.PushOptions{Remote: w.config.Remote, Ref: branch}
	err := w.repo.Push(ctx, opts)
	if err != nil && vcs.IsRetryable(err) && !vcs.IsUserActionRequired(err) {
		w.config.Logger.Printf("Push to %s/%s failed, retrying: %v", w.config.Remote, branch, err)
		err = w.repo.Push(ctx, opts)
	}
	switch {
	case err == nil:
		return true
	case vcs.IsUserActionRequired(err):
		w.config.Logger.Printf("Push to %s/%s needs attention, commit kept locally: %v", w.config.Remote, branch, err)
	default:
		w.config.Logger.Printf("Push to %s/%s failed: %v", w.config.Remote, branch, err)
	}
	return false
}

// stagePaths returns the projected files that live inside the repository,
// relative to its root.
func (w *Worker) stagePaths(res *projection.Result) ([]string, error) {
	root, err := w.repo.RepoRoot()
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	var paths []string
	for _, f := range res.Files() {
		if f == "" {
			continue
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
			abs = filepath.Join(dir, filepath.Base(abs))
		}
		if !vcs.IsSubPath(root, abs) {
			continue
		}
		rel, err := vcs.RelativePath(root, abs)
		if err != nil || rel == "." {
			continue
		}
		paths = append(paths, filepath.ToSlash(rel))
	}
	return paths, nil
}

func mtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
