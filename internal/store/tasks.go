package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mschirtzinger/todomd/internal/schema"
	"github.com/Mschirtzinger/todomd/internal/search"
)

// Listing limits for ListRecent.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 500
)

// UpsertInput creates or replaces a task's title and text.
type UpsertInput struct {
	ID    string
	Title string
	Text  string

	// Meta replaces the stored bag when non-nil.
	Meta *schema.Meta

	// ExpectedVclock, when set, must equal the stored vclock (0 for a task
	// that must not exist yet).
	ExpectedVclock *int64

	Extra *Extra
}

// Extra carries optional structural fields. Nil pointers leave the stored
// value unchanged.
type Extra struct {
	ParentID *string
	Level    *int
	State    *string
	Assignee *string
	DueAt    *time.Time
	ClearDue bool

	SpecID             *string
	StoryID            *string
	AcceptanceCriteria *string
	Phase              *string
	LastTestStatus     *string
	WorktreePath       *string

	// By is recorded in state history when State changes.
	By string
}

// TDDUpdate changes the test-driven development fields of a task.
type TDDUpdate struct {
	Phase          *string
	LastTestStatus *string
	WorktreePath   *string
}

// StateOptions qualifies a state transition.
type StateOptions struct {
	By             string
	Note           string
	At             time.Time
	ExpectedVclock *int64
}

const taskColumns = `id, title, text, done, archived, parent_id, level, state, assignee, due_at,
	meta, spec_id, story_id, ac_md, phase, last_test_status, worktree_path, vclock, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTask(r rowScanner) (*schema.Task, error) {
	var t schema.Task
	var done, archived int
	var parent, assignee, due, meta, spec, story, ac, phase, lts, wt sql.NullString
	var updated string

	err := r.Scan(&t.ID, &t.Title, &t.Text, &done, &archived, &parent, &t.Level, &t.State,
		&assignee, &due, &meta, &spec, &story, &ac, &phase, &lts, &wt, &t.Vclock, &updated)
	if err != nil {
		return nil, err
	}

	t.Done = done != 0
	t.Archived = archived != 0
	t.ParentID = parent.String
	t.Assignee = assignee.String
	t.DueAt = nullToTime(due)
	t.SpecID = spec.String
	t.StoryID = story.String
	t.AcceptanceCriteria = ac.String
	t.Phase = phase.String
	t.LastTestStatus = lts.String
	t.WorktreePath = wt.String
	t.UpdatedAt = parseTime(updated)

	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &t.Meta); err != nil {
			s.logger.Printf("Warning: task %s has unreadable meta: %v", t.ID, err)
		}
	}
	return &t, nil
}

func (s *Store) loadTask(ctx context.Context, q querier, id string) (*schema.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := s.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fault("load task", err)
	}
	return t, nil
}

func (s *Store) queryTasks(ctx context.Context, q querier, where string, args ...any) ([]*schema.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+where, args...)
	if err != nil {
		return nil, fault("list tasks", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, fault("scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("list tasks", err)
	}
	return tasks, nil
}

func encodeMeta(m schema.Meta) (sql.NullString, string, error) {
	if m.IsEmpty() {
		return sql.NullString{}, "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, "", invalid("meta is not serializable: %v", err)
	}
	return sql.NullString{String: string(data), Valid: true}, search.FlattenMeta(m), nil
}

// task loads a task inside the batch, archived or not.
func (b *Batch) task(id string) (*schema.Task, error) {
	return b.s.loadTask(b.ctx, b.tx, id)
}

// liveTask loads a task that may be mutated.
func (b *Batch) liveTask(id string, expected *int64) (*schema.Task, error) {
	t, err := b.task(id)
	if err != nil {
		return nil, err
	}
	if t.Archived {
		return nil, fmt.Errorf("%w: %s", ErrArchivedConflict, id)
	}
	if expected != nil && *expected != t.Vclock {
		return nil, &ConflictError{ID: id, Expected: *expected, Current: t.Vclock}
	}
	return t, nil
}

// save writes every mutable column of t with a bumped vclock.
func (b *Batch) save(t *schema.Task) error {
	if err := t.Validate(); err != nil {
		return invalid("%v", err)
	}
	meta, metaText, err := encodeMeta(t.Meta)
	if err != nil {
		return err
	}

	t.Vclock++
	t.UpdatedAt = b.now

	_, err = b.tx.ExecContext(b.ctx, `
		UPDATE tasks SET
			title = ?, text = ?, done = ?, parent_id = ?, level = ?, state = ?,
			assignee = ?, due_at = ?, meta = ?, meta_text = ?,
			spec_id = ?, story_id = ?, ac_md = ?, phase = ?, last_test_status = ?, worktree_path = ?,
			vclock = ?, updated_at = ?
		WHERE id = ?
	`,
		t.Title, t.Text, boolToInt(t.Done), stringToNull(t.ParentID), t.Level, t.State,
		stringToNull(t.Assignee), timeToNull(t.DueAt), meta, metaText,
		stringToNull(t.SpecID), stringToNull(t.StoryID), stringToNull(t.AcceptanceCriteria),
		stringToNull(t.Phase), stringToNull(t.LastTestStatus), stringToNull(t.WorktreePath),
		t.Vclock, formatTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return fault("update task", err)
	}
	return nil
}

func applyExtra(t *schema.Task, e *Extra) {
	if e == nil {
		return
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&t.ParentID, e.ParentID)
	set(&t.State, e.State)
	set(&t.Assignee, e.Assignee)
	set(&t.SpecID, e.SpecID)
	set(&t.StoryID, e.StoryID)
	set(&t.Phase, e.Phase)
	set(&t.LastTestStatus, e.LastTestStatus)
	set(&t.WorktreePath, e.WorktreePath)
	if e.AcceptanceCriteria != nil {
		t.AcceptanceCriteria = *e.AcceptanceCriteria
	}
	if e.Level != nil {
		t.Level = *e.Level
	}
	if e.ClearDue {
		t.DueAt = nil
	} else if e.DueAt != nil {
		due := e.DueAt.UTC()
		t.DueAt = &due
	}
	t.State = strings.ToUpper(t.State)
}

// Upsert creates a task (vclock 1) or replaces its title and text (vclock
// incremented). It returns the new vclock.
func (b *Batch) Upsert(in UpsertInput) (int64, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return 0, invalid("task id is required")
	}

	cur, err := b.task(id)
	if IsNotFound(err) {
		return b.insert(id, in)
	}
	if err != nil {
		return 0, err
	}
	if cur.Archived {
		return 0, fmt.Errorf("%w: %s", ErrArchivedConflict, id)
	}
	if in.ExpectedVclock != nil && *in.ExpectedVclock != cur.Vclock {
		return 0, &ConflictError{ID: id, Expected: *in.ExpectedVclock, Current: cur.Vclock}
	}

	prevState := cur.State
	cur.Title = in.Title
	cur.Text = in.Text
	if in.Meta != nil {
		cur.Meta = in.Meta.Clone()
	}
	applyExtra(cur, in.Extra)
	if cur.State == "" {
		cur.State = prevState
	}
	b.warnMalformed(cur)

	if err := b.save(cur); err != nil {
		return 0, err
	}
	if cur.State != prevState {
		by := ""
		if in.Extra != nil {
			by = in.Extra.By
		}
		if err := b.addHistory(schema.StateChange{TaskID: id, From: prevState, To: cur.State, At: b.now, By: by}); err != nil {
			return 0, err
		}
	}
	b.touch(schema.EntityTask, id, schema.OpUpdate, vclockPtr(cur.Vclock))
	return cur.Vclock, nil
}

func (b *Batch) insert(id string, in UpsertInput) (int64, error) {
	if in.ExpectedVclock != nil && *in.ExpectedVclock != 0 {
		return 0, &ConflictError{ID: id, Expected: *in.ExpectedVclock, Current: 0}
	}

	t := &schema.Task{
		ID:     id,
		Title:  in.Title,
		Text:   in.Text,
		Level:  schema.LevelTask,
		State:  schema.StateDraft,
		Vclock: 1,
	}
	if in.Meta != nil {
		t.Meta = in.Meta.Clone()
	}
	applyExtra(t, in.Extra)
	if t.State == "" {
		t.State = schema.StateDraft
	}
	if err := t.Validate(); err != nil {
		return 0, invalid("%v", err)
	}
	b.warnMalformed(t)

	meta, metaText, err := encodeMeta(t.Meta)
	if err != nil {
		return 0, err
	}
	now := formatTime(b.now)
	_, err = b.tx.ExecContext(b.ctx, `
		INSERT INTO tasks (
			id, title, text, done, meta, meta_text, vclock, created_at, updated_at,
			parent_id, level, state, assignee, due_at,
			spec_id, story_id, ac_md, phase, last_test_status, worktree_path
		) VALUES (?, ?, ?, 0, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Title, t.Text, meta, metaText, now, now,
		stringToNull(t.ParentID), t.Level, t.State, stringToNull(t.Assignee), timeToNull(t.DueAt),
		stringToNull(t.SpecID), stringToNull(t.StoryID), stringToNull(t.AcceptanceCriteria),
		stringToNull(t.Phase), stringToNull(t.LastTestStatus), stringToNull(t.WorktreePath),
	)
	if err != nil {
		return 0, fault("insert task", err)
	}

	by := ""
	if in.Extra != nil {
		by = in.Extra.By
	}
	if err := b.addHistory(schema.StateChange{TaskID: id, To: t.State, At: b.now, By: by}); err != nil {
		return 0, err
	}
	b.touch(schema.EntityTask, id, schema.OpInsert, vclockPtr(1))
	return 1, nil
}

func (b *Batch) warnMalformed(t *schema.Task) {
	if keys := t.Meta.MalformedKeys(); len(keys) > 0 {
		b.s.logger.Printf("Warning: task %s meta has malformed reserved keys %v, stored as-is", t.ID, keys)
	}
}

// MarkDone sets the done flag and returns the new vclock.
func (b *Batch) MarkDone(id string, done bool, expected *int64) (int64, error) {
	t, err := b.liveTask(id, expected)
	if err != nil {
		return 0, err
	}
	t.Done = done
	if err := b.save(t); err != nil {
		return 0, err
	}
	b.touch(schema.EntityTask, id, schema.OpUpdate, vclockPtr(t.Vclock))
	return t.Vclock, nil
}

// SetState moves a task to a new workflow state and logs the transition.
// Moving to the current state is a no-op that returns the current vclock.
// The done flag follows the DONE state.
func (b *Batch) SetState(id, to string, opts StateOptions) (int64, error) {
	to = strings.ToUpper(strings.TrimSpace(to))
	if to == "" {
		return 0, invalid("state is required")
	}
	t, err := b.liveTask(id, opts.ExpectedVclock)
	if err != nil {
		return 0, err
	}
	if t.State == to {
		return t.Vclock, nil
	}

	from := t.State
	t.State = to
	t.Done = to == schema.StateDone
	if err := b.save(t); err != nil {
		return 0, err
	}

	at := opts.At
	if at.IsZero() {
		at = b.now
	}
	if err := b.addHistory(schema.StateChange{TaskID: id, From: from, To: to, At: at, By: opts.By, Note: opts.Note}); err != nil {
		return 0, err
	}
	b.touch(schema.EntityTask, id, schema.OpUpdate, vclockPtr(t.Vclock))
	return t.Vclock, nil
}

// UpdateTDD changes phase, last test status and worktree path.
func (b *Batch) UpdateTDD(id string, u TDDUpdate, expected *int64) (int64, error) {
	t, err := b.liveTask(id, expected)
	if err != nil {
		return 0, err
	}
	applyExtra(t, &Extra{Phase: u.Phase, LastTestStatus: u.LastTestStatus, WorktreePath: u.WorktreePath})
	if err := b.save(t); err != nil {
		return 0, err
	}
	b.touch(schema.EntityTask, id, schema.OpUpdate, vclockPtr(t.Vclock))
	return t.Vclock, nil
}

// Get returns a task by id. Archived tasks are NotFound unless
// includeArchived is set.
func (b *Batch) Get(id string, includeArchived bool) (*schema.Task, error) {
	t, err := b.task(id)
	if err != nil {
		return nil, err
	}
	if t.Archived && !includeArchived {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return t, nil
}

// addHistory appends a state transition unless an identical one exists.
func (b *Batch) addHistory(h schema.StateChange) error {
	at := formatTime(h.At)
	var exists int
	err := b.tx.QueryRowContext(b.ctx, `
		SELECT COUNT(*) FROM task_state_history
		WHERE task_id = ? AND COALESCE(from_state, '') = ? AND to_state = ? AND at = ? AND COALESCE(by, '') = ?
	`, h.TaskID, h.From, h.To, at, h.By).Scan(&exists)
	if err != nil {
		return fault("check state history", err)
	}
	if exists > 0 {
		return nil
	}
	_, err = b.tx.ExecContext(b.ctx, `
		INSERT INTO task_state_history (task_id, from_state, to_state, at, by, note)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.TaskID, stringToNull(h.From), h.To, at, stringToNull(h.By), stringToNull(h.Note))
	if err != nil {
		return fault("record state history", err)
	}
	return nil
}

// ===== Store-level single-operation wrappers =====

// Upsert runs Batch.Upsert in its own transaction.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (int64, error) {
	var v int64
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		v, err = b.Upsert(in)
		return err
	})
	return v, err
}

// MarkDone runs Batch.MarkDone in its own transaction.
func (s *Store) MarkDone(ctx context.Context, id string, done bool, expected *int64) (int64, error) {
	var v int64
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		v, err = b.MarkDone(id, done, expected)
		return err
	})
	return v, err
}

// SetState runs Batch.SetState in its own transaction.
func (s *Store) SetState(ctx context.Context, id, to string, opts StateOptions) (int64, error) {
	var v int64
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		v, err = b.SetState(id, to, opts)
		return err
	})
	return v, err
}

// UpdateTDD runs Batch.UpdateTDD in its own transaction.
func (s *Store) UpdateTDD(ctx context.Context, id string, u TDDUpdate, expected *int64) (int64, error) {
	var v int64
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		v, err = b.UpdateTDD(id, u, expected)
		return err
	})
	return v, err
}

// Get returns a task by id. Archived tasks are NotFound unless
// includeArchived is set.
func (s *Store) Get(ctx context.Context, id string, includeArchived bool) (*schema.Task, error) {
	t, err := s.loadTask(ctx, s.conn, id)
	if err != nil {
		return nil, err
	}
	if t.Archived && !includeArchived {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return t, nil
}

// ListRecent returns live tasks, most recently updated first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]schema.TaskSummary, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, done, state, vclock, updated_at
		FROM tasks
		WHERE archived = 0
		ORDER BY updated_at DESC, pk DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fault("list recent tasks", err)
	}
	defer rows.Close()

	var out []schema.TaskSummary
	for rows.Next() {
		var ts schema.TaskSummary
		var done int
		var updated string
		if err := rows.Scan(&ts.ID, &ts.Title, &done, &ts.State, &ts.Vclock, &updated); err != nil {
			return nil, fault("scan task summary", err)
		}
		ts.Done = done != 0
		ts.UpdatedAt = parseTime(updated)
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("list recent tasks", err)
	}
	return out, nil
}

// ListTasks returns every live task in creation order.
func (s *Store) ListTasks(ctx context.Context) ([]*schema.Task, error) {
	return s.queryTasks(ctx, s.conn, `WHERE archived = 0 ORDER BY pk`)
}

// Children returns the live subtasks of parentID in creation order.
func (s *Store) Children(ctx context.Context, parentID string) ([]*schema.Task, error) {
	return s.queryTasks(ctx, s.conn, `WHERE archived = 0 AND parent_id = ? ORDER BY pk`, parentID)
}

// Count returns the number of live and archived tasks.
func (s *Store) Count(ctx context.Context) (live, archived int, err error) {
	err = s.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(archived = 0), 0), COALESCE(SUM(archived = 1), 0) FROM tasks
	`).Scan(&live, &archived)
	if err != nil {
		return 0, 0, fault("count tasks", err)
	}
	return live, archived, nil
}

// History returns the state transitions of a task, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]schema.StateChange, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT task_id, from_state, to_state, at, by, note
		FROM task_state_history
		WHERE task_id = ?
		ORDER BY at, id
	`, id)
	if err != nil {
		return nil, fault("load state history", err)
	}
	defer rows.Close()

	var out []schema.StateChange
	for rows.Next() {
		var h schema.StateChange
		var from, by, note sql.NullString
		var at string
		if err := rows.Scan(&h.TaskID, &from, &h.To, &at, &by, &note); err != nil {
			return nil, fault("scan state history", err)
		}
		h.From = from.String
		h.By = by.String
		h.Note = note.String
		h.At = parseTime(at)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("load state history", err)
	}
	return out, nil
}

// Search runs a full-text query over live tasks.
func (s *Store) Search(ctx context.Context, q search.Query) ([]search.Hit, error) {
	return search.Search(ctx, s.conn, q)
}

// Reindex rebuilds the full-text index from live rows.
func (s *Store) Reindex(ctx context.Context) error {
	return s.Batch(ctx, func(b *Batch) error {
		return search.Rebuild(b.ctx, b.tx)
	})
}

// CheckIndex runs the full-text index integrity check.
func (s *Store) CheckIndex(ctx context.Context) error {
	return search.Check(ctx, s.conn)
}
