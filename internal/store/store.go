// Package store is the SQLite-backed task store for todomd.
//
// The store owns tasks, review issues and issue responses, and it is the
// only writer of change feed rows for them. It runs on embedded SQLite
// (ncruces/go-sqlite3) in WAL mode so that readers proceed while a write
// is in flight.
//
// Architecture:
//   - Database file: <data_dir>/todo.db
//   - Tables: tasks, archived_tasks, task_state_history, reviews,
//     review_comments, review_issues, issue_responses, changes, blobs,
//     task_blobs, id_counters
//   - Full-text index: tasks_fts (see package search), kept in sync by
//     triggers inside the same transaction as each row change
//
// Concurrency:
//
// All mutations go through Batch, which serializes writers behind one mutex
// and runs each batch in a single transaction. Change feed rows for a batch
// are written in that transaction, and subscribers are notified after it
// commits.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Mschirtzinger/todomd/internal/blob"
	"github.com/Mschirtzinger/todomd/internal/search"
)

// Options tunes a Store. The zero value is usable.
type Options struct {
	// BlobDir is the content-addressed blob directory. Blob attachment is
	// unavailable when empty.
	BlobDir string

	// Logger receives warnings (lenient metadata, degraded archive writes).
	Logger *log.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Store wraps the SQLite connection pool.
type Store struct {
	conn   *sql.DB
	path   string
	blobs  *blob.Store
	logger *log.Logger
	clock  func() time.Time

	writeMu sync.Mutex
	emitMu  sync.Mutex

	subsMu  sync.RWMutex
	subs    map[int]func(Notification)
	nextSub int
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates a connection pool for the database at path.
//
// Every pooled connection gets WAL journaling, a 5s busy timeout and
// foreign keys, and transactions begin IMMEDIATE so that a writer takes
// the lock up front.
//
// The caller MUST call Close() when done, and InitSchema() before first use.
//
// Example:
//
//	st, err := store.Open("data/todo.db", &store.Options{BlobDir: "data/cas"})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	if err := st.InitSchema(ctx); err != nil {
//	    return err
//	}
func Open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:   conn,
		path:   path,
		logger: opts.Logger,
		clock:  opts.Clock,
		subs:   make(map[int]func(Notification)),
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	if opts.BlobDir != "" {
		b, err := blob.New(opts.BlobDir)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		s.blobs = b
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates all tables, indexes and the search index. It is
// idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		pk INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		done INTEGER NOT NULL DEFAULT 0,
		meta TEXT,
		meta_text TEXT NOT NULL DEFAULT '',
		vclock INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		parent_id TEXT,
		level INTEGER NOT NULL DEFAULT 2,
		state TEXT NOT NULL DEFAULT 'DRAFT',
		assignee TEXT,
		due_at TEXT,
		archived INTEGER NOT NULL DEFAULT 0,
		spec_id TEXT,
		story_id TEXT,
		ac_md TEXT,
		phase TEXT,
		last_test_status TEXT,
		worktree_path TEXT
	);

	CREATE TABLE IF NOT EXISTS archived_tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		text TEXT NOT NULL,
		done INTEGER NOT NULL,
		state TEXT NOT NULL,
		meta TEXT,
		vclock INTEGER NOT NULL,
		due_at TEXT,
		archived_at TEXT NOT NULL,
		reason TEXT
	);

	CREATE TABLE IF NOT EXISTS task_state_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		from_state TEXT,
		to_state TEXT NOT NULL,
		at TEXT NOT NULL,
		by TEXT,
		note TEXT
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		at TEXT NOT NULL,
		by TEXT NOT NULL,
		decision TEXT NOT NULL,
		note TEXT
	);

	CREATE TABLE IF NOT EXISTS review_comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		at TEXT NOT NULL,
		by TEXT NOT NULL,
		text TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS review_issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'open',
		priority TEXT NOT NULL DEFAULT 'medium',
		category TEXT,
		severity TEXT,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		resolved_at TEXT,
		resolved_by TEXT,
		closed_at TEXT,
		closed_by TEXT,
		due_date TEXT,
		tags TEXT  -- JSON array
	);

	CREATE TABLE IF NOT EXISTS issue_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id INTEGER NOT NULL REFERENCES review_issues(id) ON DELETE CASCADE,
		response_type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		is_internal INTEGER NOT NULL DEFAULT 0,
		attachment_sha256 TEXT
	);

	CREATE TABLE IF NOT EXISTS changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		vclock INTEGER
	);

	CREATE TABLE IF NOT EXISTS blobs (
		sha256 TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_blobs (
		task_id TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		PRIMARY KEY (task_id, sha256)
	);

	CREATE TABLE IF NOT EXISTS id_counters (
		day TEXT PRIMARY KEY,
		next INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_recent ON tasks(archived, updated_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_history_task ON task_state_history(task_id, at);
	CREATE INDEX IF NOT EXISTS idx_reviews_task ON reviews(task_id, at);
	CREATE INDEX IF NOT EXISTS idx_comments_task ON review_comments(task_id, at);
	CREATE INDEX IF NOT EXISTS idx_issues_task ON review_issues(task_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_issues_status ON review_issues(status);
	CREATE INDEX IF NOT EXISTS idx_responses_issue ON issue_responses(issue_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_changes_entity ON changes(entity, entity_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := search.EnsureSchema(ctx, s.conn); err != nil {
		return err
	}
	return nil
}

// now returns the store clock in UTC.
func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// timeLayout is fixed-width so that TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func timeToNull(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
