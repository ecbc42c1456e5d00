package store

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/Mschirtzinger/todomd/internal/blob"
	"github.com/Mschirtzinger/todomd/internal/search"
)

// newTestStore opens an initialized store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "todo.db"), &Options{
		BlobDir: filepath.Join(dir, "cas"),
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func mustUpsert(t *testing.T, s *Store, id, title, text string) int64 {
	t.Helper()
	v, err := s.Upsert(context.Background(), UpsertInput{ID: id, Title: title, Text: text})
	if err != nil {
		t.Fatalf("Upsert(%s) failed: %v", id, err)
	}
	return v
}

func TestInitSchema_Tables(t *testing.T) {
	s := newTestStore(t)

	tables := []string{
		"tasks", "archived_tasks", "task_state_history", "reviews", "review_comments",
		"review_issues", "issue_responses", "changes", "blobs", "task_blobs", "id_counters", "tasks_fts",
	}
	for _, table := range tables {
		var count int
		err := s.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestOpen_WALMode(t *testing.T) {
	s := newTestStore(t)

	var mode string
	if err := s.conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestClose_Twice(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"not archived", ErrNotArchived, http.StatusNotFound},
		{"conflict", &ConflictError{ID: "T-1", Expected: 1, Current: 2}, http.StatusConflict},
		{"archived", ErrArchivedConflict, http.StatusConflict},
		{"invalid", invalid("bad"), http.StatusBadRequest},
		{"digest", blob.ErrDigestMismatch, http.StatusBadRequest},
		{"query", search.ErrInvalidQuery, http.StatusBadRequest},
		{"fault", fault("do thing", errors.New("disk")), http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestCurrentVclock(t *testing.T) {
	err := error(&ConflictError{ID: "T-1", Expected: 1, Current: 4})
	if v, ok := CurrentVclock(err); !ok || v != 4 {
		t.Errorf("CurrentVclock() = %d, %v, want 4, true", v, ok)
	}
	if _, ok := CurrentVclock(ErrNotFound); ok {
		t.Error("CurrentVclock(ErrNotFound) ok = true")
	}
}
