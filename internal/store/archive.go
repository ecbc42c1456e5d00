package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mschirtzinger/todomd/internal/schema"
)

// ArchiveResult describes a completed archive.
type ArchiveResult struct {
	ArchivedAt time.Time `json:"archived_at"`

	// Degraded is set when the snapshot could not be written and only the
	// archived flag was flipped.
	Degraded bool `json:"degraded,omitempty"`
}

// Archive hides a live task from reads, search and export. A snapshot of
// its content goes to archived_tasks so Restore can bring it back.
// Archiving an archived task returns its original archive time.
func (b *Batch) Archive(id, reason string) (ArchiveResult, error) {
	t, err := b.task(id)
	if err != nil {
		return ArchiveResult{}, err
	}
	if t.Archived {
		return ArchiveResult{ArchivedAt: b.archivedAt(t)}, nil
	}

	meta, _, err := encodeMeta(t.Meta)
	if err != nil {
		return ArchiveResult{}, err
	}
	_, err = b.tx.ExecContext(b.ctx, `
		INSERT OR REPLACE INTO archived_tasks (id, title, text, done, state, meta, vclock, due_at, archived_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Text, boolToInt(t.Done), t.State, meta, t.Vclock, timeToNull(t.DueAt),
		formatTime(b.now), stringToNull(reason))
	if err != nil {
		return ArchiveResult{}, fault("write archive snapshot", err)
	}

	vc, err := b.flipArchived(id, true)
	if err != nil {
		return ArchiveResult{}, err
	}
	b.touch(schema.EntityTask, id, schema.OpArchive, vclockPtr(vc))
	if reason != "" {
		b.annotate(schema.EntityTask, id, "reason", reason)
	}
	return ArchiveResult{ArchivedAt: b.now}, nil
}

func (b *Batch) archivedAt(t *schema.Task) time.Time {
	var at string
	err := b.tx.QueryRowContext(b.ctx, `SELECT archived_at FROM archived_tasks WHERE id = ?`, t.ID).Scan(&at)
	if err != nil {
		return t.UpdatedAt
	}
	return parseTime(at)
}

// flipArchived sets the archived flag and bumps the vclock. The search
// triggers add or drop the index row.
func (b *Batch) flipArchived(id string, archived bool) (int64, error) {
	var vc int64
	err := b.tx.QueryRowContext(b.ctx, `
		UPDATE tasks SET archived = ?, vclock = vclock + 1, updated_at = ?
		WHERE id = ?
		RETURNING vclock
	`, boolToInt(archived), formatTime(b.now), id).Scan(&vc)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, fault("flip archived flag", err)
	}
	return vc, nil
}

// Restore brings an archived task back from its snapshot. Without a
// snapshot only the flag is cleared. A live task yields ErrNotArchived.
func (b *Batch) Restore(id string) (int64, error) {
	t, err := b.task(id)
	if err != nil {
		return 0, err
	}
	if !t.Archived {
		return 0, fmt.Errorf("%w: %s", ErrNotArchived, id)
	}

	var title, text, state string
	var done int
	var meta, due sql.NullString
	err = b.tx.QueryRowContext(b.ctx, `
		SELECT title, text, done, state, meta, due_at FROM archived_tasks WHERE id = ?
	`, id).Scan(&title, &text, &done, &state, &meta, &due)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		vc, err := b.flipArchived(id, false)
		if err != nil {
			return 0, err
		}
		b.touch(schema.EntityTask, id, schema.OpRestore, vclockPtr(vc))
		return vc, nil
	case err != nil:
		return 0, fault("read archive snapshot", err)
	}

	m := schema.Meta{}
	if meta.Valid && meta.String != "" {
		if err := m.UnmarshalJSON([]byte(meta.String)); err != nil {
			b.s.logger.Printf("Warning: archive snapshot of %s has unreadable meta: %v", id, err)
		}
	}
	metaCol, metaText, err := encodeMeta(m)
	if err != nil {
		return 0, err
	}

	var vc int64
	err = b.tx.QueryRowContext(b.ctx, `
		UPDATE tasks SET
			title = ?, text = ?, done = ?, state = ?, due_at = ?, meta = ?, meta_text = ?,
			archived = 0, vclock = vclock + 1, updated_at = ?
		WHERE id = ?
		RETURNING vclock
	`, title, text, done, state, due, metaCol, metaText, formatTime(b.now), id).Scan(&vc)
	if err != nil {
		return 0, fault("restore task", err)
	}
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM archived_tasks WHERE id = ?`, id); err != nil {
		return 0, fault("drop archive snapshot", err)
	}
	b.touch(schema.EntityTask, id, schema.OpRestore, vclockPtr(vc))
	return vc, nil
}

// Archive archives a task in its own transaction. If the snapshot cannot
// be written the archived flag is flipped on its own and the result is
// marked Degraded.
func (s *Store) Archive(ctx context.Context, id, reason string) (ArchiveResult, error) {
	var res ArchiveResult
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		res, err = b.Archive(id, reason)
		return err
	})
	if err == nil || !errors.Is(err, ErrStorageFault) {
		return res, err
	}

	s.logger.Printf("Warning: archive of %s failed (%v), flipping archived flag only", id, err)
	out, err := s.degradedFlip(ctx, id, true, err)
	if err != nil {
		return ArchiveResult{}, err
	}
	return out.ArchiveResult, nil
}

// Restore restores a task in its own transaction, falling back to clearing
// the flag when the snapshot table is unusable.
func (s *Store) Restore(ctx context.Context, id string) (int64, error) {
	var vc int64
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		vc, err = b.Restore(id)
		return err
	})
	if err == nil || !errors.Is(err, ErrStorageFault) {
		return vc, err
	}

	s.logger.Printf("Warning: restore of %s failed (%v), clearing archived flag only", id, err)
	res, err := s.degradedFlip(ctx, id, false, err)
	if err != nil {
		return 0, err
	}
	return res.vclock, nil
}

type flipResult struct {
	ArchiveResult
	vclock int64
}

func (s *Store) degradedFlip(ctx context.Context, id string, archived bool, cause error) (flipResult, error) {
	var out flipResult
	err := s.Batch(ctx, func(b *Batch) error {
		t, err := b.task(id)
		if err != nil {
			return err
		}
		if t.Archived == archived {
			out.vclock = t.Vclock
			out.ArchivedAt = t.UpdatedAt
			return nil
		}
		vc, err := b.flipArchived(id, archived)
		if err != nil {
			return err
		}
		op := schema.OpRestore
		if archived {
			op = schema.OpArchive
		}
		b.touch(schema.EntityTask, id, op, vclockPtr(vc))
		out.vclock = vc
		out.ArchivedAt = b.now
		return nil
	})
	if err != nil {
		return flipResult{}, fmt.Errorf("%w (after %v)", err, cause)
	}
	out.Degraded = true
	return out, nil
}

// ListArchived returns archived tasks, most recently archived first.
// Tasks archived in degraded mode have no snapshot and report their last
// update time.
func (s *Store) ListArchived(ctx context.Context, limit, offset int) ([]schema.ArchivedTask, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT t.id, t.title, COALESCE(a.archived_at, t.updated_at), a.reason
		FROM tasks t
		LEFT JOIN archived_tasks a ON a.id = t.id
		WHERE t.archived = 1
		ORDER BY 3 DESC, t.pk DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fault("list archived tasks", err)
	}
	defer rows.Close()

	var out []schema.ArchivedTask
	for rows.Next() {
		var a schema.ArchivedTask
		var at string
		var reason sql.NullString
		if err := rows.Scan(&a.ID, &a.Title, &at, &reason); err != nil {
			return nil, fault("scan archived task", err)
		}
		a.ArchivedAt = parseTime(at)
		a.Reason = reason.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("list archived tasks", err)
	}
	return out, nil
}
