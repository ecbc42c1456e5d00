package store

import (
	"context"
	"errors"
	"testing"

	"github.com/Mschirtzinger/todomd/internal/schema"
)

func TestIssues_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, "T-1", "Alpha", "")

	id, err := s.CreateIssue(ctx, schema.Issue{TaskID: "T-1", Title: "Null deref", Priority: "HIGH", CreatedBy: "rev", Tags: []string{"crash"}})
	if err != nil {
		t.Fatalf("CreateIssue() failed: %v", err)
	}

	is, err := s.GetIssue(ctx, id)
	if err != nil {
		t.Fatalf("GetIssue() failed: %v", err)
	}
	if is.Status != schema.IssueOpen || is.Priority != schema.PriorityHigh {
		t.Errorf("issue = %s/%s, want open/high", is.Status, is.Priority)
	}
	if len(is.Tags) != 1 || is.Tags[0] != "crash" {
		t.Errorf("Tags = %v, want [crash]", is.Tags)
	}

	if err := s.ResolveIssue(ctx, id, "dev", "guarded the pointer"); err != nil {
		t.Fatalf("ResolveIssue() failed: %v", err)
	}
	is, _ = s.GetIssue(ctx, id)
	if is.Status != schema.IssueResolved || is.ResolvedBy != "dev" || is.ResolvedAt == nil {
		t.Errorf("resolved issue = %+v", is)
	}
	responses, err := s.IssueResponses(ctx, id, false)
	if err != nil {
		t.Fatalf("IssueResponses() failed: %v", err)
	}
	if len(responses) != 1 || responses[0].Type != schema.ResponseFix {
		t.Errorf("IssueResponses() = %+v, want one fix", responses)
	}

	if err := s.CloseIssue(ctx, id, "rev", "verified"); err != nil {
		t.Fatalf("CloseIssue() failed: %v", err)
	}
	is, _ = s.GetIssue(ctx, id)
	if is.Status != schema.IssueClosed || is.ClosedBy != "rev" {
		t.Errorf("closed issue = %+v", is)
	}
}

func TestIssues_InternalResponsesHidden(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, "T-1", "Alpha", "")
	id, err := s.CreateIssue(ctx, schema.Issue{TaskID: "T-1", Title: "x", CreatedBy: "rev"})
	if err != nil {
		t.Fatalf("CreateIssue() failed: %v", err)
	}

	if _, err := s.AddResponse(ctx, schema.IssueResponse{IssueID: id, Content: "public", CreatedBy: "a"}); err != nil {
		t.Fatalf("AddResponse() failed: %v", err)
	}
	if _, err := s.AddResponse(ctx, schema.IssueResponse{IssueID: id, Type: "question", Content: "private", CreatedBy: "b", Internal: true}); err != nil {
		t.Fatalf("AddResponse(internal) failed: %v", err)
	}

	external, _ := s.IssueResponses(ctx, id, false)
	if len(external) != 1 || external[0].Content != "public" || external[0].Type != schema.ResponseComment {
		t.Errorf("external responses = %+v", external)
	}
	all, _ := s.IssueResponses(ctx, id, true)
	if len(all) != 2 {
		t.Errorf("all responses = %d, want 2", len(all))
	}

	if _, err := s.AddResponse(ctx, schema.IssueResponse{IssueID: 999, Content: "x", CreatedBy: "a"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddResponse(missing issue) error = %v, want ErrNotFound", err)
	}
	if _, err := s.AddResponse(ctx, schema.IssueResponse{IssueID: id, Content: "x", CreatedBy: "a", AttachmentSHA256: "zz"}); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("AddResponse(bad digest) error = %v, want ErrInvalidOperation", err)
	}
}

func TestIssues_FilterAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, "T-1", "Alpha", "")

	if _, err := s.CreateIssue(ctx, schema.Issue{TaskID: "T-404", Title: "orphan"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateIssue(missing task) error = %v, want ErrNotFound", err)
	}
	if _, err := s.CreateIssue(ctx, schema.Issue{TaskID: "T-1"}); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("CreateIssue(no title) error = %v, want ErrInvalidOperation", err)
	}

	for _, in := range []schema.Issue{
		{TaskID: "T-1", Title: "Slow query", Priority: "low", Category: "perf"},
		{TaskID: "T-1", Title: "Missing index", Priority: "high", Category: "perf", Description: "query planner scans 100%"},
		{TaskID: "T-1", Title: "Typo", Priority: "low", Category: "docs"},
	} {
		if _, err := s.CreateIssue(ctx, in); err != nil {
			t.Fatalf("CreateIssue(%s) failed: %v", in.Title, err)
		}
	}

	perf, err := s.IssuesByTask(ctx, "T-1", IssueFilter{Category: "perf"})
	if err != nil {
		t.Fatalf("IssuesByTask() failed: %v", err)
	}
	if len(perf) != 2 || perf[0].Title != "Slow query" {
		t.Errorf("IssuesByTask(perf) = %+v", perf)
	}
	low, _ := s.IssuesByTask(ctx, "T-1", IssueFilter{Priority: "LOW"})
	if len(low) != 2 {
		t.Errorf("IssuesByTask(low) returned %d, want 2", len(low))
	}

	hits, err := s.SearchIssues(ctx, "query", 10)
	if err != nil {
		t.Fatalf("SearchIssues() failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("SearchIssues(query) returned %d, want 2", len(hits))
	}
	pct, _ := s.SearchIssues(ctx, "100%", 10)
	if len(pct) != 1 || pct[0].Title != "Missing index" {
		t.Errorf("SearchIssues(100%%) = %+v", pct)
	}
	if _, err := s.SearchIssues(ctx, " ", 10); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("SearchIssues(empty) error = %v, want ErrInvalidOperation", err)
	}
}

func TestUpdateIssue_Partial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, "T-1", "Alpha", "")
	id, _ := s.CreateIssue(ctx, schema.Issue{TaskID: "T-1", Title: "x", Severity: "minor"})

	sev := "MAJOR"
	is, err := s.UpdateIssue(ctx, id, IssueUpdate{Severity: &sev})
	if err != nil {
		t.Fatalf("UpdateIssue() failed: %v", err)
	}
	if is.Severity != "major" || is.Title != "x" {
		t.Errorf("issue = %+v", is)
	}
	if _, err := s.UpdateIssue(ctx, 999, IssueUpdate{Severity: &sev}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateIssue(missing) error = %v, want ErrNotFound", err)
	}
}
