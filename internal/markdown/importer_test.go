package markdown

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Mschirtzinger/todomd/internal/schema"
	"github.com/Mschirtzinger/todomd/internal/store"
)

func newTestStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "todo.db"), &store.Options{
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func testImportOptions() *ImportOptions {
	return &ImportOptions{
		By:     "import",
		Logger: log.New(io.Discard, "", 0),
		Now:    func() time.Time { return testNow },
	}
}

const twoIssuesDoc = `# Tasks

## [T-100] Harden the parser {state: IN_PROGRESS}
- [ ] Make import lenient

### Issues:

#### Issue 1: Crash on empty meta
- Status: Open
- Priority: High
- Created: 2025-01-16T09:00:00Z by reviewer1

#### Issue 2: Slow export
- Status: Resolved
- Priority: Medium
- Created: 2025-01-16T09:30:00Z by reviewer1
- Resolved: 2025-01-17T10:00:00Z by developer1

**Responses:**
- 2025-01-17T10:00:00Z by developer1 (fix): "Batched the issue queries"
`

func TestImport_TwoIssues(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := ImportString(ctx, st, twoIssuesDoc, testImportOptions())
	if err != nil {
		t.Fatalf("ImportString() failed: %v", err)
	}
	if !res.OK || res.Tasks != 1 || res.Issues != 2 || res.Responses != 1 {
		t.Errorf("result = %+v, want 1 task, 2 issues, 1 response", res)
	}

	issues, err := st.IssuesByTask(ctx, "T-100", store.IssueFilter{})
	if err != nil {
		t.Fatalf("IssuesByTask() failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("IssuesByTask() returned %d issues, want 2", len(issues))
	}
	if issues[0].Status != schema.IssueOpen || issues[0].Priority != schema.PriorityHigh {
		t.Errorf("issue 1 = %s/%s, want open/high", issues[0].Status, issues[0].Priority)
	}
	if issues[1].Status != schema.IssueResolved || issues[1].Priority != schema.PriorityMedium {
		t.Errorf("issue 2 = %s/%s, want resolved/medium", issues[1].Status, issues[1].Priority)
	}
	if issues[1].ResolvedBy != "developer1" {
		t.Errorf("issue 2 ResolvedBy = %q, want developer1", issues[1].ResolvedBy)
	}
	responses, _ := st.IssueResponses(ctx, issues[1].ID, true)
	if len(responses) != 1 || responses[0].Type != schema.ResponseFix {
		t.Errorf("responses = %+v, want one fix", responses)
	}

	out, err := ExportString(ctx, st, nil)
	if err != nil {
		t.Fatalf("ExportString() failed: %v", err)
	}
	for _, want := range []string{"Crash on empty meta", "Slow export", "Status: Open", "Status: Resolved", "Priority: High"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}
}

func TestImport_ReimportDoesNotDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := ImportString(ctx, st, twoIssuesDoc, testImportOptions()); err != nil {
			t.Fatalf("ImportString() #%d failed: %v", i+1, err)
		}
	}
	issues, _ := st.IssuesByTask(ctx, "T-100", store.IssueFilter{})
	if len(issues) != 2 {
		t.Fatalf("IssuesByTask() returned %d after re-import, want 2", len(issues))
	}
	responses, _ := st.IssueResponses(ctx, issues[1].ID, true)
	if len(responses) != 1 {
		t.Errorf("responses = %d after re-import, want 1", len(responses))
	}
	history, _ := st.History(ctx, "T-100")
	if len(history) != 1 {
		t.Errorf("History() = %+v, want only the creation entry", history)
	}
}

func TestImport_StateLineAndReviews(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	doc := "## [T-1] Reviewed {state: DRAFT}\n" +
		"- [ ] body\n" +
		"State: IN_PROGRESS\n" +
		"\n" +
		"#### Reviews\n" +
		"- review@2025-01-17T09:00:00Z by rev => REQUEST_CHANGES \"tests missing\"\n" +
		"- comment@2025-01-17T09:05:00Z by rev: \"see CI\"\n" +
		"\n" +
		"### [T-2] Child {state: DRAFT}\n" +
		"- [x] done already\n"
	res, err := ImportString(ctx, st, doc, testImportOptions())
	if err != nil {
		t.Fatalf("ImportString() failed: %v", err)
	}
	if res.Reviews != 1 || res.Comments != 1 {
		t.Errorf("result = %+v", res)
	}

	task, err := st.Get(ctx, "T-1", false)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if task.State != schema.StateInProgress {
		t.Errorf("State = %q, want IN_PROGRESS from the State line", task.State)
	}
	reviews, _ := st.Reviews(ctx, "T-1")
	if len(reviews) != 1 || reviews[0].Note != "tests missing" {
		t.Errorf("Reviews() = %+v", reviews)
	}

	child, err := st.Get(ctx, "T-2", false)
	if err != nil {
		t.Fatalf("Get(child) failed: %v", err)
	}
	if child.ParentID != "T-1" || child.Level != schema.LevelSubtask || !child.Done {
		t.Errorf("child = parent %q level %d done %v", child.ParentID, child.Level, child.Done)
	}
}

func TestImport_ArchivedTaskIsWarning(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Upsert(ctx, store.UpsertInput{ID: "T-1", Title: "old"}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if _, err := st.Archive(ctx, "T-1", ""); err != nil {
		t.Fatalf("Archive() failed: %v", err)
	}

	res, err := ImportString(ctx, st, "## [T-1] new\n## [T-2] fresh\n", testImportOptions())
	if err != nil {
		t.Fatalf("ImportString() failed: %v", err)
	}
	if !res.OK || res.Tasks != 1 || len(res.Warnings) != 1 {
		t.Errorf("result = %+v, want T-2 imported and one warning", res)
	}
	if _, err := st.Get(ctx, "T-2", false); err != nil {
		t.Errorf("Get(T-2) failed: %v", err)
	}
}

func TestImport_OneChangePerTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := ImportString(ctx, st, twoIssuesDoc+"\n## [T-101] Second\n", testImportOptions()); err != nil {
		t.Fatalf("ImportString() failed: %v", err)
	}
	changes, err := st.Poll(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	// Two tasks and two issues.
	if len(changes) != 4 {
		t.Errorf("Poll() returned %d changes, want 4: %+v", len(changes), changes)
	}
}

func TestExport_Layout(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	doc := "## [T-1] Parent {state: DRAFT, spec: SPEC-1}\n" +
		"- [ ] body\n" +
		"\n" +
		"Notes:\n" +
		"keep me\n" +
		"\n" +
		"### [T-3] Orphan {state: DRAFT, parent: T-9}\n" +
		"- [ ]\n" +
		"\n" +
		"### [T-2] Child {state: DRAFT}\n" +
		"- [ ]\n"
	if _, err := ImportString(ctx, st, doc, testImportOptions()); err != nil {
		t.Fatalf("ImportString() failed: %v", err)
	}

	out, err := ExportString(ctx, st, &ExportOptions{SpecifyDir: ".specify"})
	if err != nil {
		t.Fatalf("ExportString() failed: %v", err)
	}
	orphan := strings.Index(out, "### [T-3]")
	parent := strings.Index(out, "## [T-1]")
	child := strings.Index(out, "### [T-2]")
	if orphan < 0 || parent < 0 || child < 0 || !(orphan < parent && parent < child) {
		t.Errorf("task order wrong:\n%s", out)
	}
	for _, want := range []string{
		"{state: DRAFT, parent: T-9}",
		"- [Requirements](.specify/requirements/T-1.md)",
		"Notes:\nkeep me\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}
}

func TestExport_OmitInternal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	doc := "## [T-1] A {state: DRAFT}\n### Issues:\n#### Issue 1: X\n- Status: Open\nResponses:\n" +
		"- 2025-01-16T10:00:00Z by dev (comment): \"public\"\n" +
		"- 2025-01-16T11:00:00Z by dev (comment): \"secret\" (internal)\n"
	if _, err := ImportString(ctx, st, doc, testImportOptions()); err != nil {
		t.Fatalf("ImportString() failed: %v", err)
	}

	full, _ := ExportString(ctx, st, nil)
	if !strings.Contains(full, `"secret" (internal)`) {
		t.Errorf("full export missing internal response:\n%s", full)
	}
	public, _ := ExportString(ctx, st, &ExportOptions{OmitInternal: true})
	if strings.Contains(public, "secret") || !strings.Contains(public, "public") {
		t.Errorf("public export = \n%s", public)
	}
}

func TestExport_EscapesStructuralLines(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	text := "intro\nNotes:\nState: DONE\n## [T-9] not a task\n\\Related:"
	notes := "Timeline:\n### Issues:\nplain"
	ac := "Meta:\n- Given a user"
	_, err := st.Upsert(ctx, store.UpsertInput{
		ID:    "T-1",
		Title: "Tricky",
		Text:  text,
		Meta:  &schema.Meta{Notes: &notes},
		Extra: &store.Extra{AcceptanceCriteria: &ac},
	})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	out, err := ExportString(ctx, st, nil)
	if err != nil {
		t.Fatalf("ExportString() failed: %v", err)
	}
	for _, want := range []string{"\n\\Notes:\n", "\n\\State: DONE\n", "\n\\## [T-9] not a task\n", "\n\\\\Related:\n", "\n\\Timeline:\n", "\n\\Meta:\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}

	again := newTestStore(t)
	res, err := ImportString(ctx, again, out, testImportOptions())
	if err != nil {
		t.Fatalf("ImportString() failed: %v", err)
	}
	if res.Tasks != 1 {
		t.Fatalf("imported %d tasks, want 1:\n%s", res.Tasks, out)
	}
	got, err := again.Get(ctx, "T-1", false)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Text != text {
		t.Errorf("Text = %q, want %q", got.Text, text)
	}
	if got.Meta.NotesText() != notes {
		t.Errorf("Notes = %q, want %q", got.Meta.NotesText(), notes)
	}
	if got.AcceptanceCriteria != ac {
		t.Errorf("AcceptanceCriteria = %q, want %q", got.AcceptanceCriteria, ac)
	}
	if got.State == schema.StateDone {
		t.Error("escaped State line changed the task state")
	}

	reexported, _ := ExportString(ctx, again, nil)
	if reexported != out {
		t.Errorf("second export differs:\n%s\nwant:\n%s", reexported, out)
	}
}
