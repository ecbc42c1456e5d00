package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Mschirtzinger/todomd/internal/schema"
)

// Batch is one serialized write transaction. Mutations made through a Batch
// commit together, and each entity they touch yields exactly one change
// feed row.
type Batch struct {
	s   *Store
	ctx context.Context
	tx  *sql.Tx
	now time.Time

	touched []touch
	index   map[string]int
}

type touch struct {
	entity string
	id     string
	op     string
	vclock *int64
	data   map[string]any
}

// Batch runs fn inside a write transaction. If fn returns an error the
// transaction rolls back and nothing is recorded.
//
// Subscribers are notified after commit, in seq order. They must not call
// back into Batch synchronously.
func (s *Store) Batch(ctx context.Context, fn func(b *Batch) error) error {
	s.writeMu.Lock()
	notes, err := s.runBatch(ctx, fn)
	if err != nil {
		s.writeMu.Unlock()
		return err
	}
	s.emitMu.Lock()
	s.writeMu.Unlock()
	s.emit(notes)
	s.emitMu.Unlock()
	return nil
}

func (s *Store) runBatch(ctx context.Context, fn func(b *Batch) error) ([]Notification, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fault("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	b := &Batch{
		s:     s,
		ctx:   ctx,
		tx:    tx,
		now:   s.now(),
		index: make(map[string]int),
	}
	if err := fn(b); err != nil {
		return nil, err
	}

	notes, err := b.flush()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fault("commit transaction", err)
	}
	return notes, nil
}

// Now is the timestamp every write in this batch uses.
func (b *Batch) Now() time.Time {
	return b.now
}

// touch records that an entity changed. Repeated touches of one entity
// coalesce: the latest op and vclock win, except that an insert stays an
// insert.
func (b *Batch) touch(entity, id, op string, vclock *int64) {
	key := entity + "\x00" + id
	if i, ok := b.index[key]; ok {
		t := &b.touched[i]
		if t.op != schema.OpInsert {
			t.op = op
		}
		if vclock != nil {
			t.vclock = vclock
		}
		return
	}
	b.index[key] = len(b.touched)
	b.touched = append(b.touched, touch{entity: entity, id: id, op: op, vclock: vclock})
}

// annotate attaches a data field to an already-touched entity's
// notification.
func (b *Batch) annotate(entity, id, key string, value any) {
	i, ok := b.index[entity+"\x00"+id]
	if !ok {
		return
	}
	t := &b.touched[i]
	if t.data == nil {
		t.data = make(map[string]any)
	}
	t.data[key] = value
}

// flush writes one change row per touched entity, in first-touch order.
func (b *Batch) flush() ([]Notification, error) {
	if len(b.touched) == 0 {
		return nil, nil
	}
	at := formatTime(b.now)
	notes := make([]Notification, 0, len(b.touched))
	for _, t := range b.touched {
		var vc sql.NullInt64
		if t.vclock != nil {
			vc = sql.NullInt64{Int64: *t.vclock, Valid: true}
		}
		res, err := b.tx.ExecContext(b.ctx, `
			INSERT INTO changes (at, entity, entity_id, op, vclock)
			VALUES (?, ?, ?, ?, ?)
		`, at, t.entity, t.id, t.op, vc)
		if err != nil {
			return nil, fault("record change", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, fault("read change seq", err)
		}
		notes = append(notes, Notification{
			Seq:    seq,
			At:     b.now,
			Entity: t.entity,
			ID:     t.id,
			Op:     t.op,
			Vclock: t.vclock,
			Data:   t.data,
		})
	}
	return notes, nil
}

// Record adds a change row for an entity the store does not own, such as a
// TODO section document.
func (b *Batch) Record(entity, id, op string, vclock *int64) error {
	if entity == "" || id == "" || op == "" {
		return invalid("change requires entity, id and op")
	}
	b.touch(entity, id, op, vclock)
	return nil
}

func vclockPtr(v int64) *int64 {
	return &v
}
