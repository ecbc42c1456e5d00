package projection

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Mschirtzinger/todomd/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
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

func strPtr(s string) *string { return &s }

func seed(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	inputs := []store.UpsertInput{
		{ID: "T-1", Title: "Login form", Text: "build it", Extra: &store.Extra{
			SpecID:             strPtr("SPEC-7"),
			Phase:              strPtr("red"),
			AcceptanceCriteria: strPtr("## Criteria\n- [ ] rejects empty password\n2. locks after 3 attempts\n"),
		}},
		{ID: "T-2", Title: "Plain task", Text: "no spec"},
	}
	for _, in := range inputs {
		if _, err := st.Upsert(ctx, in); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", in.ID, err)
		}
	}
}

func TestProjectAll(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	out := t.TempDir()

	res, err := ProjectAll(context.Background(), st, out, "")
	if err != nil {
		t.Fatalf("ProjectAll() failed: %v", err)
	}
	if res.TodoPath != filepath.Join(out, TodoFile) {
		t.Errorf("TodoPath = %q", res.TodoPath)
	}
	wantReq := filepath.Join(out, ".specify", "requirements", "T-1.md")
	wantTC := filepath.Join(out, ".specify", "testcases", "T-1.md")
	if len(res.Requirements) != 1 || res.Requirements[0] != wantReq {
		t.Errorf("Requirements = %v, want [%s]", res.Requirements, wantReq)
	}
	if len(res.Testcases) != 1 || res.Testcases[0] != wantTC {
		t.Errorf("Testcases = %v, want [%s]", res.Testcases, wantTC)
	}
	if res.Written != 3 {
		t.Errorf("Written = %d, want 3", res.Written)
	}

	todo, err := os.ReadFile(res.TodoPath)
	if err != nil {
		t.Fatalf("ReadFile(TODO.md) failed: %v", err)
	}
	for _, want := range []string{"## [T-1] Login form", "## [T-2] Plain task", "- [Requirements](.specify/requirements/T-1.md)"} {
		if !strings.Contains(string(todo), want) {
			t.Errorf("TODO.md missing %q:\n%s", want, todo)
		}
	}

	data, err := os.ReadFile(wantReq)
	if err != nil {
		t.Fatalf("ReadFile(requirements) failed: %v", err)
	}
	fm, body, err := ParseFrontMatter(data)
	if err != nil {
		t.Fatalf("ParseFrontMatter() failed: %v", err)
	}
	if fm.ID != "T-1" || fm.Kind != KindRequirements || fm.SpecID != "SPEC-7" || fm.Phase != "red" {
		t.Errorf("front matter = %+v", fm)
	}
	if fm.UpdatedAt.IsZero() {
		t.Errorf("front matter UpdatedAt is zero")
	}
	if !strings.Contains(body, "rejects empty password") {
		t.Errorf("requirements body = %q", body)
	}

	data, err = os.ReadFile(wantTC)
	if err != nil {
		t.Fatalf("ReadFile(testcases) failed: %v", err)
	}
	for _, want := range []string{"## TC-1: rejects empty password", "## TC-2: locks after 3 attempts", "- Then: locks after 3 attempts"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("testcases missing %q:\n%s", want, data)
		}
	}
}

func TestProjectAll_UnchangedFilesAreNotRewritten(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	out := t.TempDir()
	ctx := context.Background()

	if _, err := ProjectAll(ctx, st, out, ""); err != nil {
		t.Fatalf("ProjectAll() failed: %v", err)
	}
	res, err := ProjectAll(ctx, st, out, "")
	if err != nil {
		t.Fatalf("second ProjectAll() failed: %v", err)
	}
	if res.Written != 0 {
		t.Errorf("Written = %d on an unchanged store, want 0", res.Written)
	}

	if _, err := st.Upsert(ctx, store.UpsertInput{ID: "T-2", Title: "Plain task", Text: "edited"}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	res, err = ProjectAll(ctx, st, out, "")
	if err != nil {
		t.Fatalf("third ProjectAll() failed: %v", err)
	}
	if res.Written != 1 {
		t.Errorf("Written = %d after editing a task without spec, want 1", res.Written)
	}
}

func TestProjectAll_AbsoluteSpecifyDir(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	out := t.TempDir()
	spec := filepath.Join(t.TempDir(), "specs")

	res, err := ProjectAll(context.Background(), st, out, spec)
	if err != nil {
		t.Fatalf("ProjectAll() failed: %v", err)
	}
	if want := filepath.Join(spec, "requirements", "T-1.md"); len(res.Requirements) != 1 || res.Requirements[0] != want {
		t.Errorf("Requirements = %v, want [%s]", res.Requirements, want)
	}
	if len(res.Files()) != 3 {
		t.Errorf("Files() = %v, want 3 paths", res.Files())
	}
}

func TestProjectRequirements_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := ProjectRequirements(context.Background(), st, "T-404", t.TempDir())
	if !store.IsNotFound(err) {
		t.Errorf("ProjectRequirements() error = %v, want not found", err)
	}
}

func TestProjectTestcases_NoCriteria(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if _, err := st.Upsert(ctx, store.UpsertInput{ID: "T-1", Title: "Spec only", Extra: &store.Extra{SpecID: strPtr("S-1")}}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	path, err := ProjectTestcases(ctx, st, "T-1", t.TempDir())
	if err != nil {
		t.Fatalf("ProjectTestcases() failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "No acceptance criteria recorded") {
		t.Errorf("testcases = %s", data)
	}
}

func TestCriteria(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"bullets", "- one\n* two\n+ three", []string{"one", "two", "three"}},
		{"checkboxes", "- [ ] open\n- [x] closed", []string{"open", "closed"}},
		{"numbered", "1. first\n2) second", []string{"first", "second"}},
		{"headings skipped", "# AC\n\nplain line", []string{"plain line"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Criteria(tt.in)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Criteria(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFrontMatter_Errors(t *testing.T) {
	for _, in := range []string{"no front matter", "+++\nid = \"x\"\n", "+++\nid = \n+++\n"} {
		if _, _, err := ParseFrontMatter([]byte(in)); err == nil {
			t.Errorf("ParseFrontMatter(%q) succeeded, want error", in)
		}
	}
}
