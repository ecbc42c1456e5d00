// Package projection materializes the task store onto disk.
//
// ProjectAll renders the full task document to <output>/TODO.md and, for
// every task linked to spec material, a requirements and a test-case file
// under the specify directory:
//
//	<output>/TODO.md
//	<specify>/requirements/<task-id>.md
//	<specify>/testcases/<task-id>.md
//
// The .specify files start with TOML front matter between "+++" lines.
// Every file is written through a temporary file and a rename, and a file
// whose content did not change is left untouched so that its mtime stays
// put.
package projection

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"

	"github.com/Mschirtzinger/todomd/internal/markdown"
	"github.com/Mschirtzinger/todomd/internal/schema"
	"github.com/Mschirtzinger/todomd/internal/store"
)

// Default names.
const (
	TodoFile          = "TODO.md"
	DefaultSpecifyDir = ".specify"
	RequirementsDir   = "requirements"
	TestcasesDir      = "testcases"
)

// Front matter kinds.
const (
	KindRequirements = "requirements"
	KindTestcases    = "testcases"
)

const frontMatterDelim = "+++"

// Result lists the files a projection produced.
type Result struct {
	TodoPath     string   `json:"todo_md"`
	Requirements []string `json:"requirements"`
	Testcases    []string `json:"testcases"`

	// Written counts files whose content changed on disk.
	Written int `json:"written"`
}

// Files returns every produced path, TODO.md first.
func (r *Result) Files() []string {
	files := make([]string, 0, 1+len(r.Requirements)+len(r.Testcases))
	files = append(files, r.TodoPath)
	files = append(files, r.Requirements...)
	files = append(files, r.Testcases...)
	return files
}

// FrontMatter heads every .specify file.
type FrontMatter struct {
	ID             string    `toml:"id"`
	Kind           string    `toml:"kind"`
	Title          string    `toml:"title"`
	State          string    `toml:"state"`
	SpecID         string    `toml:"spec_id,omitempty"`
	StoryID        string    `toml:"story_id,omitempty"`
	Phase          string    `toml:"phase,omitempty"`
	LastTestStatus string    `toml:"last_test_status,omitempty"`
	UpdatedAt      time.Time `toml:"updated_at"`
}

// ProjectAll writes TODO.md into outputDir and the .specify tree into
// specifyDir. A relative specifyDir is taken relative to outputDir, and an
// empty one means DefaultSpecifyDir.
func ProjectAll(ctx context.Context, st *store.Store, outputDir, specifyDir string) (*Result, error) {
	specDir := resolveSpecifyDir(outputDir, specifyDir)
	link, err := filepath.Rel(outputDir, specDir)
	if err != nil {
		link = specDir
	}

	var doc bytes.Buffer
	if err := markdown.Export(ctx, st, &doc, &markdown.ExportOptions{SpecifyDir: filepath.ToSlash(link)}); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", TodoFile, err)
	}

	res := &Result{TodoPath: filepath.Join(outputDir, TodoFile)}
	if err := res.write(res.TodoPath, doc.Bytes()); err != nil {
		return nil, err
	}

	tasks, err := st.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if !t.HasSpec() {
			continue
		}
		path := specPath(specDir, KindRequirements, t.ID)
		if err := res.write(path, renderRequirements(t)); err != nil {
			return nil, err
		}
		res.Requirements = append(res.Requirements, path)

		path = specPath(specDir, KindTestcases, t.ID)
		if err := res.write(path, renderTestcases(t)); err != nil {
			return nil, err
		}
		res.Testcases = append(res.Testcases, path)
	}
	return res, nil
}

// ProjectRequirements writes the requirements file of one task.
func ProjectRequirements(ctx context.Context, st *store.Store, id, specifyDir string) (string, error) {
	return projectOne(ctx, st, id, specifyDir, KindRequirements, renderRequirements)
}

// ProjectTestcases writes the test-case skeleton of one task.
func ProjectTestcases(ctx context.Context, st *store.Store, id, specifyDir string) (string, error) {
	return projectOne(ctx, st, id, specifyDir, KindTestcases, renderTestcases)
}

func projectOne(ctx context.Context, st *store.Store, id, specifyDir, kind string, render func(*schema.Task) []byte) (string, error) {
	t, err := st.Get(ctx, id, false)
	if err != nil {
		return "", err
	}
	if specifyDir == "" {
		specifyDir = DefaultSpecifyDir
	}
	path := specPath(specifyDir, kind, t.ID)
	if _, err := writeFile(path, render(t)); err != nil {
		return "", err
	}
	return path, nil
}

func (r *Result) write(path string, data []byte) error {
	changed, err := writeFile(path, data)
	if err != nil {
		return err
	}
	if changed {
		r.Written++
	}
	return nil
}

func resolveSpecifyDir(outputDir, specifyDir string) string {
	if specifyDir == "" {
		specifyDir = DefaultSpecifyDir
	}
	if filepath.IsAbs(specifyDir) {
		return specifyDir
	}
	return filepath.Join(outputDir, specifyDir)
}

func specPath(specDir, kind, id string) string {
	sub := RequirementsDir
	if kind == KindTestcases {
		sub = TestcasesDir
	}
	return filepath.Join(specDir, sub, id+".md")
}

// writeFile atomically replaces path with data. It reports false, without
// touching the file, when the content is already data.
func writeFile(path string, data []byte) (bool, error) {
	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, data) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

func frontMatter(t *schema.Task, kind string) FrontMatter {
	return FrontMatter{
		ID:             t.ID,
		Kind:           kind,
		Title:          t.Title,
		State:          t.State,
		SpecID:         t.SpecID,
		StoryID:        t.StoryID,
		Phase:          t.Phase,
		LastTestStatus: t.LastTestStatus,
		UpdatedAt:      t.UpdatedAt.UTC(),
	}
}

func writeFrontMatter(buf *bytes.Buffer, fm FrontMatter) {
	buf.WriteString(frontMatterDelim + "\n")
	// Encoding a flat struct of strings and a time cannot fail.
	_ = toml.NewEncoder(buf).Encode(fm)
	buf.WriteString(frontMatterDelim + "\n")
}

const noCriteria = "_No acceptance criteria recorded._\n"

func renderRequirements(t *schema.Task) []byte {
	var buf bytes.Buffer
	writeFrontMatter(&buf, frontMatter(t, KindRequirements))
	fmt.Fprintf(&buf, "\n# Requirements: %s\n\n", t.Title)
	if ac := strings.TrimSpace(t.AcceptanceCriteria); ac != "" {
		buf.WriteString(ac + "\n")
	} else {
		buf.WriteString(noCriteria)
	}
	return buf.Bytes()
}

func renderTestcases(t *schema.Task) []byte {
	var buf bytes.Buffer
	writeFrontMatter(&buf, frontMatter(t, KindTestcases))
	fmt.Fprintf(&buf, "\n# Test Cases: %s\n", t.Title)
	items := Criteria(t.AcceptanceCriteria)
	if len(items) == 0 {
		buf.WriteString("\n" + noCriteria)
		return buf.Bytes()
	}
	for i, c := range items {
		fmt.Fprintf(&buf, "\n## TC-%d: %s\n", i+1, c)
		buf.WriteString("- Given: TBD\n")
		buf.WriteString("- When: TBD\n")
		fmt.Fprintf(&buf, "- Then: %s\n", c)
	}
	return buf.Bytes()
}

var criterionMarker = regexp.MustCompile(`^(?:[-*+]\s+(?:\[[ xX]\]\s+)?|\d+[.)]\s+)`)

// Criteria splits acceptance criteria Markdown into one entry per list
// item. Headings and blank lines are skipped, and a document without list
// markers yields one entry per remaining line.
func Criteria(ac string) []string {
	var items []string
	for _, line := range strings.Split(ac, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(criterionMarker.ReplaceAllString(line, ""))
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

// ParseFrontMatter splits a .specify file into its front matter and body.
func ParseFrontMatter(data []byte) (FrontMatter, string, error) {
	var fm FrontMatter
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return fm, text, fmt.Errorf("missing %s front matter", frontMatterDelim)
	}
	rest := text[len(frontMatterDelim)+1:]
	head, body, ok := strings.Cut(rest, "\n"+frontMatterDelim+"\n")
	if !ok {
		return fm, text, fmt.Errorf("unterminated %s front matter", frontMatterDelim)
	}
	if _, err := toml.Decode(head, &fm); err != nil {
		return fm, text, fmt.Errorf("failed to parse front matter: %w", err)
	}
	return fm, body, nil
}
