package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/Mschirtzinger/todomd/internal/schema"
)

// decisionState maps a review decision to the state it drives. Unknown
// decisions are logged without a transition.
func decisionState(decision string) string {
	switch decision {
	case schema.DecisionApprove, schema.DecisionApproved:
		return schema.StateApproved
	case schema.DecisionRequestChanges:
		return schema.StateChangesRequested
	}
	return ""
}

// AddReview logs a review decision and applies the state it implies. It
// returns the task's vclock afterwards.
func (b *Batch) AddReview(r schema.Review) (int64, error) {
	r.Decision = strings.ToUpper(strings.TrimSpace(r.Decision))
	if r.Decision == "" {
		return 0, invalid("review decision is required")
	}
	if r.At.IsZero() {
		r.At = b.now
	}
	t, err := b.liveTask(r.TaskID, nil)
	if err != nil {
		return 0, err
	}

	exists, err := b.exists(`
		SELECT COUNT(*) FROM reviews
		WHERE task_id = ? AND at = ? AND by = ? AND decision = ? AND COALESCE(note, '') = ?
	`, r.TaskID, formatTime(r.At), r.By, r.Decision, r.Note)
	if err != nil || exists {
		return t.Vclock, err
	}

	_, err = b.tx.ExecContext(b.ctx, `
		INSERT INTO reviews (task_id, at, by, decision, note) VALUES (?, ?, ?, ?, ?)
	`, r.TaskID, formatTime(r.At), r.By, r.Decision, stringToNull(r.Note))
	if err != nil {
		return 0, fault("insert review", err)
	}

	vc := t.Vclock
	if to := decisionState(r.Decision); to != "" {
		vc, err = b.SetState(r.TaskID, to, StateOptions{By: r.By, Note: r.Note, At: r.At})
		if err != nil {
			return 0, err
		}
	}
	b.touch(schema.EntityTask, r.TaskID, schema.OpReview, vclockPtr(vc))
	return vc, nil
}

// AddComment appends an immutable review comment. Comments do not change
// the task's vclock. Like reviews, they are refused on archived tasks.
func (b *Batch) AddComment(c schema.Comment) error {
	if strings.TrimSpace(c.Text) == "" {
		return invalid("comment text is required")
	}
	if c.At.IsZero() {
		c.At = b.now
	}
	t, err := b.liveTask(c.TaskID, nil)
	if err != nil {
		return err
	}

	exists, err := b.exists(`
		SELECT COUNT(*) FROM review_comments WHERE task_id = ? AND at = ? AND by = ? AND text = ?
	`, c.TaskID, formatTime(c.At), c.By, c.Text)
	if err != nil || exists {
		return err
	}

	_, err = b.tx.ExecContext(b.ctx, `
		INSERT INTO review_comments (task_id, at, by, text) VALUES (?, ?, ?, ?)
	`, c.TaskID, formatTime(c.At), c.By, c.Text)
	if err != nil {
		return fault("insert comment", err)
	}
	b.touch(schema.EntityTask, c.TaskID, schema.OpComment, vclockPtr(t.Vclock))
	return nil
}

func (b *Batch) exists(query string, args ...any) (bool, error) {
	var n int
	if err := b.tx.QueryRowContext(b.ctx, query, args...).Scan(&n); err != nil {
		return false, fault("check duplicate", err)
	}
	return n > 0, nil
}

// AddReview runs Batch.AddReview in its own transaction.
func (s *Store) AddReview(ctx context.Context, r schema.Review) (int64, error) {
	var v int64
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		v, err = b.AddReview(r)
		return err
	})
	return v, err
}

// AddComment runs Batch.AddComment in its own transaction.
func (s *Store) AddComment(ctx context.Context, c schema.Comment) error {
	return s.Batch(ctx, func(b *Batch) error {
		return b.AddComment(c)
	})
}

// Reviews returns the review log of a task, oldest first.
func (s *Store) Reviews(ctx context.Context, taskID string) ([]schema.Review, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, task_id, at, by, decision, note FROM reviews WHERE task_id = ? ORDER BY at, id
	`, taskID)
	if err != nil {
		return nil, fault("load reviews", err)
	}
	defer rows.Close()

	var out []schema.Review
	for rows.Next() {
		var r schema.Review
		var at string
		var note sql.NullString
		if err := rows.Scan(&r.ID, &r.TaskID, &at, &r.By, &r.Decision, &note); err != nil {
			return nil, fault("scan review", err)
		}
		r.At = parseTime(at)
		r.Note = note.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("load reviews", err)
	}
	return out, nil
}

// Comments returns the review comments of a task, oldest first.
func (s *Store) Comments(ctx context.Context, taskID string) ([]schema.Comment, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, task_id, at, by, text FROM review_comments WHERE task_id = ? ORDER BY at, id
	`, taskID)
	if err != nil {
		return nil, fault("load comments", err)
	}
	defer rows.Close()

	var out []schema.Comment
	for rows.Next() {
		var c schema.Comment
		var at string
		if err := rows.Scan(&c.ID, &c.TaskID, &at, &c.By, &c.Text); err != nil {
			return nil, fault("scan comment", err)
		}
		c.At = parseTime(at)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("load comments", err)
	}
	return out, nil
}
