// Package search maintains the full-text index over live tasks.
//
// The index is an SQLite FTS5 external-content table over the tasks table:
// it stores tokens and a back-reference (the task's pk) but never a second
// copy of the text. Triggers on tasks keep it in step with every insert,
// update and delete inside the same transaction as the row change, and rows
// with archived = 1 are kept out of it entirely.
//
// Ranking uses FTS5's bm25 function; snippets use snippet() across all
// indexed columns.
package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery is returned for empty queries and FTS5 syntax errors.
var ErrInvalidQuery = errors.New("invalid search query")

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Schema creates the index and its sync triggers. It requires the tasks
// table (pk, id, title, text, meta_text, archived) to exist already.
const Schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(
	id UNINDEXED,
	title,
	text,
	meta_text,
	content='tasks',
	content_rowid='pk'
);

CREATE TRIGGER IF NOT EXISTS tasks_fts_ai AFTER INSERT ON tasks
WHEN new.archived = 0
BEGIN
	INSERT INTO tasks_fts(rowid, id, title, text, meta_text)
	VALUES (new.pk, new.id, new.title, new.text, new.meta_text);
END;

CREATE TRIGGER IF NOT EXISTS tasks_fts_ad AFTER DELETE ON tasks
WHEN old.archived = 0
BEGIN
	INSERT INTO tasks_fts(tasks_fts, rowid, id, title, text, meta_text)
	VALUES ('delete', old.pk, old.id, old.title, old.text, old.meta_text);
END;

CREATE TRIGGER IF NOT EXISTS tasks_fts_au AFTER UPDATE ON tasks
BEGIN
	INSERT INTO tasks_fts(tasks_fts, rowid, id, title, text, meta_text)
	SELECT 'delete', old.pk, old.id, old.title, old.text, old.meta_text
	WHERE old.archived = 0;
	INSERT INTO tasks_fts(rowid, id, title, text, meta_text)
	SELECT new.pk, new.id, new.title, new.text, new.meta_text
	WHERE new.archived = 0;
END;
`

// DefaultLimit applies when Query.Limit is not positive.
const DefaultLimit = 20

// Query is one search request.
type Query struct {
	Text      string
	Limit     int
	Offset    int
	Highlight bool
}

// Hit is one ranked result. Lower Score is a better match (bm25 convention).
type Hit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// EnsureSchema creates the index objects if they do not exist.
func EnsureSchema(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create search index: %w", err)
	}
	return nil
}

// Search runs query against live tasks, best match first. Ties on score are
// broken by index rowid so that results are stable across rebuilds.
func Search(ctx context.Context, q Querier, query Query) ([]Hit, error) {
	text := strings.TrimSpace(query.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	snippet := "NULL"
	if query.Highlight {
		snippet = "snippet(tasks_fts, -1, '<b>', '</b>', '…', 12)"
	}

	stmt := `
	SELECT t.id, t.title, bm25(tasks_fts) AS score, ` + snippet + ` AS snippet
	FROM tasks_fts
	JOIN tasks t ON t.pk = tasks_fts.rowid
	WHERE tasks_fts MATCH ? AND t.archived = 0
	ORDER BY score, tasks_fts.rowid
	LIMIT ? OFFSET ?
	`

	rows, err := q.QueryContext(ctx, stmt, text, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var snip sql.NullString
		if err := rows.Scan(&h.ID, &h.Title, &h.Score, &snip); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		h.Snippet = snip.String
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return hits, nil
}

// Rebuild discards the index and re-derives it from live rows. Running it
// on a consistent index changes neither hit sets nor their order.
func Rebuild(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, `INSERT INTO tasks_fts(tasks_fts) VALUES('delete-all')`); err != nil {
		return fmt.Errorf("failed to clear search index: %w", err)
	}
	_, err := q.ExecContext(ctx, `
	INSERT INTO tasks_fts(rowid, id, title, text, meta_text)
	SELECT pk, id, title, text, meta_text FROM tasks WHERE archived = 0 ORDER BY pk
	`)
	if err != nil {
		return fmt.Errorf("failed to repopulate search index: %w", err)
	}
	return nil
}

// Check runs the FTS5 structural integrity check.
func Check(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, `INSERT INTO tasks_fts(tasks_fts) VALUES('integrity-check')`); err != nil {
		return fmt.Errorf("search index integrity check failed: %w", err)
	}
	return nil
}

// Escape turns free text into an FTS5 query matching every word literally,
// so input like "beta-gamma" or "a:b" is not parsed as query syntax.
func Escape(text string) string {
	fields := strings.Fields(text)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "fts5") || strings.Contains(msg, "no such column") || strings.Contains(msg, "unterminated string") {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return fmt.Errorf("failed to search: %w", err)
}
