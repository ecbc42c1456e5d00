package store

import (
	"context"
	"errors"
	"testing"

	"github.com/Mschirtzinger/todomd/internal/schema"
	"github.com/Mschirtzinger/todomd/internal/search"
)

func searchIDs(t *testing.T, s *Store, q string) []string {
	t.Helper()
	hits, err := s.Search(context.Background(), search.Query{Text: q})
	if err != nil {
		t.Fatalf("Search(%q) failed: %v", q, err)
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestArchive_HidesFromReads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, "T-1", "Alpha", "beta gamma")

	if ids := searchIDs(t, s, "beta"); !contains(ids, "T-1") {
		t.Fatalf("Search(beta) = %v, want T-1", ids)
	}

	res, err := s.Archive(ctx, "T-1", "done")
	if err != nil {
		t.Fatalf("Archive() failed: %v", err)
	}
	if res.Degraded {
		t.Error("Archive() Degraded = true, want false")
	}

	if ids := searchIDs(t, s, "beta"); contains(ids, "T-1") {
		t.Errorf("Search(beta) after archive = %v, want no T-1", ids)
	}
	recent, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent() failed: %v", err)
	}
	for _, r := range recent {
		if r.ID == "T-1" {
			t.Error("ListRecent() includes archived T-1")
		}
	}
	if _, err := s.Get(ctx, "T-1", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	task, err := s.Get(ctx, "T-1", true)
	if err != nil {
		t.Fatalf("Get(includeArchived) failed: %v", err)
	}
	if !task.Archived || task.Vclock != 2 {
		t.Errorf("task archived=%v vclock=%d, want true, 2", task.Archived, task.Vclock)
	}

	archived, err := s.ListArchived(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListArchived() failed: %v", err)
	}
	if len(archived) != 1 || archived[0].ID != "T-1" || archived[0].Reason != "done" {
		t.Errorf("ListArchived() = %+v", archived)
	}

	if _, err := s.Upsert(ctx, UpsertInput{ID: "T-1", Title: "x"}); !errors.Is(err, ErrArchivedConflict) {
		t.Errorf("Upsert(archived) error = %v, want ErrArchivedConflict", err)
	}
	if _, err := s.MarkDone(ctx, "T-1", true, nil); !errors.Is(err, ErrArchivedConflict) {
		t.Errorf("MarkDone(archived) error = %v, want ErrArchivedConflict", err)
	}
}

func TestArchive_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, "T-1", "Alpha", "")

	first, err := s.Archive(ctx, "T-1", "one")
	if err != nil {
		t.Fatalf("Archive() failed: %v", err)
	}
	second, err := s.Archive(ctx, "T-1", "two")
	if err != nil {
		t.Fatalf("second Archive() failed: %v", err)
	}
	if !second.ArchivedAt.Equal(first.ArchivedAt) {
		t.Errorf("ArchivedAt = %v, want original %v", second.ArchivedAt, first.ArchivedAt)
	}

	task, _ := s.Get(ctx, "T-1", true)
	if task.Vclock != 2 {
		t.Errorf("vclock = %d after double archive, want 2", task.Vclock)
	}
	archived, _ := s.ListArchived(ctx, 0, 0)
	if len(archived) != 1 || archived[0].Reason != "one" {
		t.Errorf("ListArchived() = %+v, want single snapshot with reason one", archived)
	}

	if _, err := s.Archive(ctx, "T-404", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Archive(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRestore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	notes := "keep me"
	_, err := s.Upsert(ctx, UpsertInput{ID: "T-1", Title: "Alpha", Text: "beta", Meta: &schema.Meta{Notes: &notes}})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if _, err := s.Archive(ctx, "T-1", ""); err != nil {
		t.Fatalf("Archive() failed: %v", err)
	}

	v, err := s.Restore(ctx, "T-1")
	if err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if v != 3 {
		t.Errorf("vclock = %d, want 3", v)
	}

	task, err := s.Get(ctx, "T-1", false)
	if err != nil {
		t.Fatalf("Get() after restore failed: %v", err)
	}
	if task.Title != "Alpha" || task.Text != "beta" || task.Meta.NotesText() != notes {
		t.Errorf("restored task = %+v", task)
	}
	if ids := searchIDs(t, s, "beta"); !contains(ids, "T-1") {
		t.Errorf("Search(beta) after restore = %v, want T-1", ids)
	}
	if archived, _ := s.ListArchived(ctx, 0, 0); len(archived) != 0 {
		t.Errorf("ListArchived() after restore = %+v", archived)
	}

	if _, err := s.Restore(ctx, "T-1"); !errors.Is(err, ErrNotArchived) {
		t.Errorf("Restore(live) error = %v, want ErrNotArchived", err)
	}
	if _, err := s.Restore(ctx, "T-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Restore(missing) error = %v, want ErrNotFound", err)
	}
}

func TestArchive_DegradedWhenSnapshotTableBroken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, "T-1", "Alpha", "beta")

	if _, err := s.conn.Exec(`DROP TABLE archived_tasks`); err != nil {
		t.Fatalf("DROP TABLE failed: %v", err)
	}

	res, err := s.Archive(ctx, "T-1", "done")
	if err != nil {
		t.Fatalf("Archive() failed: %v", err)
	}
	if !res.Degraded {
		t.Error("Archive() Degraded = false, want true")
	}
	if _, err := s.Get(ctx, "T-1", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if ids := searchIDs(t, s, "beta"); contains(ids, "T-1") {
		t.Errorf("Search(beta) = %v, want no T-1", ids)
	}

	if _, err := s.Restore(ctx, "T-1"); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	task, err := s.Get(ctx, "T-1", false)
	if err != nil {
		t.Fatalf("Get() after degraded restore failed: %v", err)
	}
	if task.Title != "Alpha" {
		t.Errorf("Title = %q, want Alpha", task.Title)
	}
}

func TestArchive_RefusesReviewsAndComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, "T-1", "Alpha", "")
	if _, err := s.Archive(ctx, "T-1", ""); err != nil {
		t.Fatalf("Archive() failed: %v", err)
	}
	before, _ := s.LatestSeq(ctx)

	if _, err := s.AddReview(ctx, schema.Review{TaskID: "T-1", Decision: "APPROVE", By: "rev"}); !errors.Is(err, ErrArchivedConflict) {
		t.Errorf("AddReview(archived) error = %v, want ErrArchivedConflict", err)
	}
	if err := s.AddComment(ctx, schema.Comment{TaskID: "T-1", By: "rev", Text: "late note"}); !errors.Is(err, ErrArchivedConflict) {
		t.Errorf("AddComment(archived) error = %v, want ErrArchivedConflict", err)
	}
	if comments, _ := s.Comments(ctx, "T-1"); len(comments) != 0 {
		t.Errorf("Comments() = %+v, want none on an archived task", comments)
	}
	if after, _ := s.LatestSeq(ctx); after != before {
		t.Errorf("LatestSeq() = %d, want %d", after, before)
	}

	if _, err := s.Restore(ctx, "T-1"); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if err := s.AddComment(ctx, schema.Comment{TaskID: "T-1", By: "rev", Text: "late note"}); err != nil {
		t.Errorf("AddComment() after restore failed: %v", err)
	}
}
