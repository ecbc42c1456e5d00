package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MaxReserve caps how many ids one ReserveIDs call hands out.
const MaxReserve = 100

// ReserveIDs hands out n fresh task ids of the form T-YYYYMMDD-NNN. The
// counter is per UTC day and never reuses a number.
func (s *Store) ReserveIDs(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		n = 1
	}
	if n > MaxReserve {
		return nil, invalid("cannot reserve more than %d ids", MaxReserve)
	}

	var ids []string
	err := s.Batch(ctx, func(b *Batch) error {
		day := b.now.Format("20060102")

		var last int
		err := b.tx.QueryRowContext(b.ctx, `SELECT next FROM id_counters WHERE day = ?`, day).Scan(&last)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fault("read id counter", err)
		}

		_, err = b.tx.ExecContext(b.ctx, `
			INSERT INTO id_counters (day, next) VALUES (?, ?)
			ON CONFLICT(day) DO UPDATE SET next = excluded.next
		`, day, last+n)
		if err != nil {
			return fault("advance id counter", err)
		}

		ids = make([]string, 0, n)
		for i := 1; i <= n; i++ {
			ids = append(ids, fmt.Sprintf("T-%s-%03d", day, last+i))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
