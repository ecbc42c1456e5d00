package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Mschirtzinger/todomd/internal/schema"
)

// Poll limits.
const (
	DefaultPollLimit = 100
	MaxPollLimit     = 1000
)

// Notification is pushed to subscribers after a batch commits. It carries
// the same fields as the change row it mirrors.
type Notification struct {
	Seq    int64     `json:"seq"`
	At     time.Time `json:"at"`
	Entity string    `json:"entity"`
	ID     string    `json:"id"`
	Op     string    `json:"op"`
	Vclock *int64    `json:"vclock,omitempty"`

	// Data carries op-specific context, such as the owning task of an
	// issue or an archive reason. It is not persisted.
	Data map[string]any `json:"data,omitempty"`
}

// Subscribe registers fn for every committed change and returns a function
// that unregisters it. fn runs on the writer's goroutine and must not block.
func (s *Store) Subscribe(fn func(Notification)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) emit(notes []Notification) {
	if len(notes) == 0 {
		return
	}
	s.subsMu.RLock()
	subs := make([]func(Notification), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.RUnlock()

	for _, n := range notes {
		for _, fn := range subs {
			fn(n)
		}
	}
}

// Poll returns changes with seq > since in ascending order. A limit of
// zero or less means DefaultPollLimit, and limits above MaxPollLimit are
// clamped.
func (s *Store) Poll(ctx context.Context, since int64, limit int) ([]schema.ChangeEvent, error) {
	if limit <= 0 {
		limit = DefaultPollLimit
	}
	if limit > MaxPollLimit {
		limit = MaxPollLimit
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT seq, at, entity, entity_id, op, vclock
		FROM changes
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fault("poll changes", err)
	}
	defer rows.Close()

	var out []schema.ChangeEvent
	for rows.Next() {
		var ev schema.ChangeEvent
		var at string
		var vc sql.NullInt64
		if err := rows.Scan(&ev.Seq, &at, &ev.Entity, &ev.EntityID, &ev.Op, &vc); err != nil {
			return nil, fault("scan change", err)
		}
		ev.At = parseTime(at)
		if vc.Valid {
			ev.Vclock = vclockPtr(vc.Int64)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("poll changes", err)
	}
	return out, nil
}

// LatestSeq returns the highest recorded seq, or 0 for an empty feed.
func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, `SELECT MAX(seq) FROM changes`).Scan(&seq); err != nil {
		return 0, fault("read latest seq", err)
	}
	return seq.Int64, nil
}

// RecordChange appends a single change row in its own batch.
func (s *Store) RecordChange(ctx context.Context, entity, id, op string, vclock *int64) error {
	return s.Batch(ctx, func(b *Batch) error {
		return b.Record(entity, id, op, vclock)
	})
}
