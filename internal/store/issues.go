package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Mschirtzinger/todomd/internal/blob"
	"github.com/Mschirtzinger/todomd/internal/schema"
)

// IssueFilter narrows IssuesByTask. Empty fields match everything.
type IssueFilter struct {
	Status   string
	Priority string
	Category string
}

// IssueUpdate changes selected issue fields. Nil fields are left alone.
type IssueUpdate struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	Category    *string
	Severity    *string
	DueDate     *time.Time
	Tags        []string
	By          string
}

const issueColumns = `id, task_id, title, description, status, priority, category, severity,
	created_at, created_by, resolved_at, resolved_by, closed_at, closed_by, due_date, tags`

func scanIssue(r rowScanner) (*schema.Issue, error) {
	var is schema.Issue
	var desc, cat, sev, resolvedAt, resolvedBy, closedAt, closedBy, due, tags sql.NullString
	var created string
	err := r.Scan(&is.ID, &is.TaskID, &is.Title, &desc, &is.Status, &is.Priority, &cat, &sev,
		&created, &is.CreatedBy, &resolvedAt, &resolvedBy, &closedAt, &closedBy, &due, &tags)
	if err != nil {
		return nil, err
	}
	is.Description = desc.String
	is.Category = cat.String
	is.Severity = sev.String
	is.CreatedAt = parseTime(created)
	is.ResolvedAt = nullToTime(resolvedAt)
	is.ResolvedBy = resolvedBy.String
	is.ClosedAt = nullToTime(closedAt)
	is.ClosedBy = closedBy.String
	is.DueDate = nullToTime(due)
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &is.Tags)
	}
	return &is, nil
}

func encodeTags(tags []string) sql.NullString {
	if len(tags) == 0 {
		return sql.NullString{}
	}
	data, _ := json.Marshal(tags)
	return sql.NullString{String: string(data), Valid: true}
}

func loadIssue(ctx context.Context, q querier, id int64) (*schema.Issue, error) {
	row := q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM review_issues WHERE id = ?`, id)
	is, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: issue %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fault("load issue", err)
	}
	return is, nil
}

func queryIssues(ctx context.Context, q querier, where string, args ...any) ([]schema.Issue, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+issueColumns+` FROM review_issues `+where, args...)
	if err != nil {
		return nil, fault("list issues", err)
	}
	defer rows.Close()

	var out []schema.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, fault("scan issue", err)
		}
		out = append(out, *is)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("list issues", err)
	}
	return out, nil
}

func queryResponses(ctx context.Context, q querier, issueID int64, includeInternal bool) ([]schema.IssueResponse, error) {
	query := `
		SELECT id, issue_id, response_type, content, created_at, created_by, is_internal, attachment_sha256
		FROM issue_responses WHERE issue_id = ?`
	if !includeInternal {
		query += ` AND is_internal = 0`
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, query, issueID)
	if err != nil {
		return nil, fault("list responses", err)
	}
	defer rows.Close()

	var out []schema.IssueResponse
	for rows.Next() {
		var r schema.IssueResponse
		var created string
		var internal int
		var sha sql.NullString
		if err := rows.Scan(&r.ID, &r.IssueID, &r.Type, &r.Content, &created, &r.CreatedBy, &internal, &sha); err != nil {
			return nil, fault("scan response", err)
		}
		r.CreatedAt = parseTime(created)
		r.Internal = internal != 0
		r.AttachmentSHA256 = sha.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("list responses", err)
	}
	return out, nil
}

func issueKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// CreateIssue files a new issue against an existing task.
func (b *Batch) CreateIssue(is schema.Issue) (int64, error) {
	if err := is.Validate(); err != nil {
		return 0, invalid("%v", err)
	}
	if _, err := b.task(is.TaskID); err != nil {
		return 0, err
	}
	if is.CreatedAt.IsZero() {
		is.CreatedAt = b.now
	}
	if is.CreatedBy == "" {
		is.CreatedBy = "system"
	}

	res, err := b.tx.ExecContext(b.ctx, `
		INSERT INTO review_issues (task_id, title, description, status, priority, category, severity,
			created_at, created_by, resolved_at, resolved_by, closed_at, closed_by, due_date, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, is.TaskID, is.Title, stringToNull(is.Description), is.Status, is.Priority,
		stringToNull(is.Category), stringToNull(is.Severity),
		formatTime(is.CreatedAt), is.CreatedBy, timeToNull(is.ResolvedAt), stringToNull(is.ResolvedBy),
		timeToNull(is.ClosedAt), stringToNull(is.ClosedBy), timeToNull(is.DueDate), encodeTags(is.Tags))
	if err != nil {
		return 0, fault("insert issue", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault("read issue id", err)
	}
	b.touch(schema.EntityIssue, issueKey(id), schema.OpInsert, nil)
	b.annotate(schema.EntityIssue, issueKey(id), "task_id", is.TaskID)
	return id, nil
}

// SaveIssue overwrites every field of an existing issue.
func (b *Batch) SaveIssue(is *schema.Issue) error {
	if err := is.Validate(); err != nil {
		return invalid("%v", err)
	}
	res, err := b.tx.ExecContext(b.ctx, `
		UPDATE review_issues SET
			title = ?, description = ?, status = ?, priority = ?, category = ?, severity = ?,
			resolved_at = ?, resolved_by = ?, closed_at = ?, closed_by = ?, due_date = ?, tags = ?
		WHERE id = ?
	`, is.Title, stringToNull(is.Description), is.Status, is.Priority,
		stringToNull(is.Category), stringToNull(is.Severity),
		timeToNull(is.ResolvedAt), stringToNull(is.ResolvedBy), timeToNull(is.ClosedAt),
		stringToNull(is.ClosedBy), timeToNull(is.DueDate), encodeTags(is.Tags), is.ID)
	if err != nil {
		return fault("update issue", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: issue %d", ErrNotFound, is.ID)
	}
	b.touch(schema.EntityIssue, issueKey(is.ID), schema.OpUpdate, nil)
	b.annotate(schema.EntityIssue, issueKey(is.ID), "status", is.Status)
	return nil
}

// UpdateIssue applies a partial update. Moving to resolved or closed
// stamps the matching time and actor when they are unset.
func (b *Batch) UpdateIssue(id int64, u IssueUpdate) (*schema.Issue, error) {
	is, err := loadIssue(b.ctx, b.tx, id)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&is.Title, u.Title)
	set(&is.Description, u.Description)
	set(&is.Status, u.Status)
	set(&is.Priority, u.Priority)
	set(&is.Category, u.Category)
	set(&is.Severity, u.Severity)
	if u.DueDate != nil {
		due := u.DueDate.UTC()
		is.DueDate = &due
	}
	if u.Tags != nil {
		is.Tags = u.Tags
	}
	if err := is.Validate(); err != nil {
		return nil, invalid("%v", err)
	}

	now := b.now
	switch is.Status {
	case schema.IssueResolved:
		if is.ResolvedAt == nil {
			is.ResolvedAt = &now
			is.ResolvedBy = u.By
		}
	case schema.IssueClosed:
		if is.ClosedAt == nil {
			is.ClosedAt = &now
			is.ClosedBy = u.By
		}
	}

	if err := b.SaveIssue(is); err != nil {
		return nil, err
	}
	return is, nil
}

// ResolveIssue marks an issue resolved. A non-empty note is logged as a
// fix response.
func (b *Batch) ResolveIssue(id int64, by, note string) error {
	status := schema.IssueResolved
	if _, err := b.UpdateIssue(id, IssueUpdate{Status: &status, By: by}); err != nil {
		return err
	}
	if strings.TrimSpace(note) == "" {
		return nil
	}
	_, err := b.AddResponse(schema.IssueResponse{IssueID: id, Type: schema.ResponseFix, Content: note, CreatedBy: by})
	return err
}

// CloseIssue marks an issue closed. A non-empty reason is logged as a
// comment response.
func (b *Batch) CloseIssue(id int64, by, reason string) error {
	status := schema.IssueClosed
	if _, err := b.UpdateIssue(id, IssueUpdate{Status: &status, By: by}); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return nil
	}
	_, err := b.AddResponse(schema.IssueResponse{IssueID: id, Type: schema.ResponseComment, Content: reason, CreatedBy: by})
	return err
}

// AddResponse appends a reply to an issue.
func (b *Batch) AddResponse(r schema.IssueResponse) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, invalid("%v", err)
	}
	if r.AttachmentSHA256 != "" && !blob.ValidDigest(r.AttachmentSHA256) {
		return 0, invalid("attachment digest %q is not a sha256", r.AttachmentSHA256)
	}
	if _, err := loadIssue(b.ctx, b.tx, r.IssueID); err != nil {
		return 0, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = b.now
	}

	res, err := b.tx.ExecContext(b.ctx, `
		INSERT INTO issue_responses (issue_id, response_type, content, created_at, created_by, is_internal, attachment_sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.IssueID, r.Type, r.Content, formatTime(r.CreatedAt), r.CreatedBy, boolToInt(r.Internal), stringToNull(r.AttachmentSHA256))
	if err != nil {
		return 0, fault("insert response", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault("read response id", err)
	}
	b.touch(schema.EntityIssue, issueKey(r.IssueID), schema.OpResponse, nil)
	b.annotate(schema.EntityIssue, issueKey(r.IssueID), "response_type", r.Type)
	return id, nil
}

// IssuesByTask lists a task's issues in creation order inside the batch.
func (b *Batch) IssuesByTask(taskID string) ([]schema.Issue, error) {
	return queryIssues(b.ctx, b.tx, `WHERE task_id = ? ORDER BY id`, taskID)
}

// Responses lists every response on an issue inside the batch.
func (b *Batch) Responses(issueID int64) ([]schema.IssueResponse, error) {
	return queryResponses(b.ctx, b.tx, issueID, true)
}

// ===== Store-level API =====

// CreateIssue runs Batch.CreateIssue in its own transaction.
func (s *Store) CreateIssue(ctx context.Context, is schema.Issue) (int64, error) {
	var id int64
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		id, err = b.CreateIssue(is)
		return err
	})
	return id, err
}

// UpdateIssue runs Batch.UpdateIssue in its own transaction.
func (s *Store) UpdateIssue(ctx context.Context, id int64, u IssueUpdate) (*schema.Issue, error) {
	var out *schema.Issue
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		out, err = b.UpdateIssue(id, u)
		return err
	})
	return out, err
}

// ResolveIssue runs Batch.ResolveIssue in its own transaction.
func (s *Store) ResolveIssue(ctx context.Context, id int64, by, note string) error {
	return s.Batch(ctx, func(b *Batch) error {
		return b.ResolveIssue(id, by, note)
	})
}

// CloseIssue runs Batch.CloseIssue in its own transaction.
func (s *Store) CloseIssue(ctx context.Context, id int64, by, reason string) error {
	return s.Batch(ctx, func(b *Batch) error {
		return b.CloseIssue(id, by, reason)
	})
}

// AddResponse runs Batch.AddResponse in its own transaction.
func (s *Store) AddResponse(ctx context.Context, r schema.IssueResponse) (int64, error) {
	var id int64
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		id, err = b.AddResponse(r)
		return err
	})
	return id, err
}

// GetIssue returns one issue.
func (s *Store) GetIssue(ctx context.Context, id int64) (*schema.Issue, error) {
	return loadIssue(ctx, s.conn, id)
}

// IssuesByTask lists a task's issues in creation order.
func (s *Store) IssuesByTask(ctx context.Context, taskID string, f IssueFilter) ([]schema.Issue, error) {
	where := `WHERE task_id = ?`
	args := []any{taskID}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, strings.ToLower(f.Status))
	}
	if f.Priority != "" {
		where += ` AND priority = ?`
		args = append(args, strings.ToLower(f.Priority))
	}
	if f.Category != "" {
		where += ` AND category = ?`
		args = append(args, strings.ToLower(f.Category))
	}
	return queryIssues(ctx, s.conn, where+` ORDER BY id`, args...)
}

// IssueResponses lists the replies on an issue, oldest first. Internal
// replies are included only on request.
func (s *Store) IssueResponses(ctx context.Context, issueID int64, includeInternal bool) ([]schema.IssueResponse, error) {
	return queryResponses(ctx, s.conn, issueID, includeInternal)
}

// SearchIssues does a substring match on issue title and description.
func (s *Store) SearchIssues(ctx context.Context, text string, limit int) ([]schema.Issue, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("empty issue query")
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	pattern := "%" + escapeLike(text) + "%"
	return queryIssues(ctx, s.conn, `
		WHERE title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, pattern, pattern, limit)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
