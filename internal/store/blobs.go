package store

import (
	"context"
	"fmt"

	"github.com/Mschirtzinger/todomd/internal/blob"
	"github.com/Mschirtzinger/todomd/internal/schema"
)

// AttachBlob stores data in the blob directory and links it to a task.
// When claimed is non-empty it must equal the SHA-256 of data, otherwise
// nothing is written and ErrDigestMismatch is returned.
func (s *Store) AttachBlob(ctx context.Context, taskID string, data []byte, claimed string) (*schema.BlobRef, error) {
	digest, err := blob.Verify(data, claimed)
	if err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, invalid("blob storage is not configured")
	}

	ref := &schema.BlobRef{SHA256: digest, Size: int64(len(data))}
	err = s.Batch(ctx, func(b *Batch) error {
		if _, err := b.liveTask(taskID, nil); err != nil {
			return err
		}
		if _, _, err := s.blobs.Put(digest, data); err != nil {
			return fault("write blob", err)
		}

		ref.CreatedAt = b.now
		_, err := b.tx.ExecContext(b.ctx, `
			INSERT OR IGNORE INTO blobs (sha256, size, created_at) VALUES (?, ?, ?)
		`, digest, ref.Size, formatTime(b.now))
		if err != nil {
			return fault("record blob", err)
		}
		_, err = b.tx.ExecContext(b.ctx, `
			INSERT OR IGNORE INTO task_blobs (task_id, sha256) VALUES (?, ?)
		`, taskID, digest)
		if err != nil {
			return fault("link blob", err)
		}
		b.touch(schema.EntityBlob, digest, schema.OpAttach, nil)
		b.annotate(schema.EntityBlob, digest, "task_id", taskID)
		b.annotate(schema.EntityBlob, digest, "size", ref.Size)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("attach blob to %s: %w", taskID, err)
	}
	return ref, nil
}

// TaskBlobs lists the blobs linked to a task, oldest first.
func (s *Store) TaskBlobs(ctx context.Context, taskID string) ([]schema.BlobRef, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT b.sha256, b.size, b.created_at
		FROM task_blobs tb
		JOIN blobs b ON b.sha256 = tb.sha256
		WHERE tb.task_id = ?
		ORDER BY b.created_at, b.sha256
	`, taskID)
	if err != nil {
		return nil, fault("list task blobs", err)
	}
	defer rows.Close()

	var out []schema.BlobRef
	for rows.Next() {
		var r schema.BlobRef
		var at string
		if err := rows.Scan(&r.SHA256, &r.Size, &at); err != nil {
			return nil, fault("scan blob", err)
		}
		r.CreatedAt = parseTime(at)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("list task blobs", err)
	}
	return out, nil
}
