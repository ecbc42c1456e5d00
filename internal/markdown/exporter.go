package markdown

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Mschirtzinger/todomd/internal/schema"
	"github.com/Mschirtzinger/todomd/internal/store"
)

// DefaultTitle heads an exported document.
const DefaultTitle = "Tasks"

// ExportOptions configures Export.
type ExportOptions struct {
	// Title is the document heading. Defaults to DefaultTitle.
	Title string

	// OmitInternal leaves internal issue responses out of the document.
	OmitInternal bool

	// SpecifyDir, when set, adds Requirements and TestCases links under
	// Related for tasks that carry spec material. Links are relative to
	// the document, e.g. ".specify".
	SpecifyDir string
}

// Export renders every live task of st as a document.
//
// Level-3 tasks follow their level-2 parent. Subtasks whose parent is not
// a live level-2 task are written first, with an explicit parent
// attribute, so that re-importing does not attach them to the wrong
// task.
func Export(ctx context.Context, st *store.Store, w io.Writer, opts *ExportOptions) error {
	if opts == nil {
		opts = &ExportOptions{}
	}
	tasks, err := st.ListTasks(ctx)
	if err != nil {
		return err
	}

	tops := make(map[string]bool)
	for _, t := range tasks {
		if t.Level != schema.LevelSubtask {
			tops[t.ID] = true
		}
	}
	children := make(map[string][]*schema.Task)
	var orphans, roots []*schema.Task
	for _, t := range tasks {
		switch {
		case t.Level != schema.LevelSubtask:
			roots = append(roots, t)
		case t.ParentID != "" && tops[t.ParentID]:
			children[t.ParentID] = append(children[t.ParentID], t)
		default:
			orphans = append(orphans, t)
		}
	}

	ex := &exporter{ctx: ctx, st: st, opts: opts, w: bufio.NewWriter(w)}
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	ex.printf("# %s\n", title)

	for _, t := range orphans {
		if err := ex.task(t, t.ParentID != ""); err != nil {
			return err
		}
	}
	for _, t := range roots {
		if err := ex.task(t, t.ParentID != ""); err != nil {
			return err
		}
		for _, c := range children[t.ID] {
			if err := ex.task(c, false); err != nil {
				return err
			}
		}
	}
	if err := ex.w.Flush(); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

// ExportString renders the store into a string.
func ExportString(ctx context.Context, st *store.Store, opts *ExportOptions) (string, error) {
	var buf bytes.Buffer
	if err := Export(ctx, st, &buf, opts); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type exporter struct {
	ctx  context.Context
	st   *store.Store
	opts *ExportOptions
	w    *bufio.Writer
}

// printf writes to the buffer. Write errors are sticky in bufio.Writer and
// surface at Flush.
func (ex *exporter) printf(format string, args ...any) {
	fmt.Fprintf(ex.w, format, args...)
}

func (ex *exporter) task(t *schema.Task, withParent bool) error {
	attrs := map[string]string{
		AttrState:    t.State,
		AttrAssignee: t.Assignee,
		AttrSpec:     t.SpecID,
		AttrStory:    t.StoryID,
		AttrPhase:    t.Phase,
		AttrTest:     t.LastTestStatus,
		AttrWorktree: t.WorktreePath,
	}
	if t.DueAt != nil {
		attrs[AttrDue] = formatStamp(*t.DueAt)
	}
	if withParent {
		attrs[AttrParent] = t.ParentID
	}

	marks := "##"
	if t.Level == schema.LevelSubtask {
		marks = "###"
	}
	header := fmt.Sprintf("%s [%s] %s", marks, t.ID, t.Title)
	if a := formatAttrs(attrs); a != "" {
		header += " " + a
	}
	ex.printf("\n%s\n", strings.TrimRight(header, " "))

	box := " "
	if t.Done {
		box = "x"
	}
	first, rest, _ := strings.Cut(t.Text, "\n")
	ex.printf("- [%s] %s\n", box, first)
	if rest != "" {
		ex.printf("%s\n", EscapeText(rest))
	}
	// Reviews replay state transitions on import; the State line restores
	// the final state after them.
	ex.printf("State: %s\n", t.State)

	ex.timeline(t.Meta.Timeline)
	ex.related(t)
	if t.Meta.Notes != nil {
		ex.printf("\nNotes:\n%s\n", EscapeText(*t.Meta.Notes))
	}
	if strings.TrimSpace(t.AcceptanceCriteria) != "" {
		ex.printf("\nAcceptance:\n%s\n", EscapeText(t.AcceptanceCriteria))
	}
	if err := ex.meta(t); err != nil {
		return err
	}
	if err := ex.issues(t); err != nil {
		return err
	}
	return ex.reviews(t)
}

func (ex *exporter) timeline(entries []schema.TimelineEntry) {
	if len(entries) == 0 {
		return
	}
	ex.printf("\nTimeline:\n")
	for _, e := range entries {
		ex.printf("- %s by %s: %s\n", formatStamp(e.Timestamp), e.Actor, e.Action)
	}
}

func (ex *exporter) related(t *schema.Task) {
	derived := ex.opts.SpecifyDir != "" && t.HasSpec()
	if len(t.Meta.Related) == 0 && !derived {
		return
	}
	ex.printf("\nRelated:\n")
	for _, r := range t.Meta.Related {
		ex.printf("%s\n", formatRelated(r))
	}
	if derived {
		ex.printf("- [Requirements](%s)\n", path.Join(ex.opts.SpecifyDir, "requirements", t.ID+".md"))
		ex.printf("- [TestCases](%s)\n", path.Join(ex.opts.SpecifyDir, "testcases", t.ID+".md"))
	}
}

func formatRelated(r schema.RelatedLink) string {
	if r.ID == "" {
		return "- " + r.URL
	}
	line := fmt.Sprintf("- [%s] %s", r.ID, r.Title)
	switch {
	case r.URL != "":
		line += ": " + r.URL
	case r.Description != "":
		line += ": " + r.Description
	}
	return strings.TrimRight(line, " ")
}

func (ex *exporter) meta(t *schema.Task) error {
	if len(t.Meta.Extra) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(t.Meta.Extra, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode meta of %s: %w", t.ID, err)
	}
	ex.printf("\nMeta:\n```json\n%s\n```\n", data)
	return nil
}

func (ex *exporter) issues(t *schema.Task) error {
	issues, err := ex.st.IssuesByTask(ex.ctx, t.ID, store.IssueFilter{})
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return nil
	}
	ex.printf("\n### Issues:\n")
	for n, is := range issues {
		ex.printf("\n#### Issue %d: %s\n", n+1, is.Title)
		ex.printf("- Status: %s\n", capitalize(is.Status))
		ex.printf("- Priority: %s\n", capitalize(is.Priority))
		if is.Category != "" {
			ex.printf("- Category: %s\n", capitalize(is.Category))
		}
		if is.Severity != "" {
			ex.printf("- Severity: %s\n", capitalize(is.Severity))
		}
		ex.printf("- Created: %s\n", stampBy(is.CreatedAt, is.CreatedBy))
		if is.ResolvedAt != nil {
			ex.printf("- Resolved: %s\n", stampBy(*is.ResolvedAt, is.ResolvedBy))
		}
		if is.ClosedAt != nil {
			ex.printf("- Closed: %s\n", stampBy(*is.ClosedAt, is.ClosedBy))
		}
		if is.DueDate != nil {
			ex.printf("- Due: %s\n", formatStamp(*is.DueDate))
		}
		if is.Description != "" {
			ex.printf("- Description: %s\n", quoteIfNeeded(is.Description))
		}
		if len(is.Tags) > 0 {
			ex.printf("- Tags: [%s]\n", strings.Join(is.Tags, ", "))
		}

		responses, err := ex.st.IssueResponses(ex.ctx, is.ID, !ex.opts.OmitInternal)
		if err != nil {
			return err
		}
		if len(responses) == 0 {
			continue
		}
		ex.printf("\n**Responses:**\n")
		for _, r := range responses {
			line := fmt.Sprintf("- %s by %s (%s): %s", formatStamp(r.CreatedAt), r.CreatedBy, r.Type, strconv.Quote(r.Content))
			if r.Internal {
				line += " (internal)"
			}
			ex.printf("%s\n", line)
		}
	}
	return nil
}

func (ex *exporter) reviews(t *schema.Task) error {
	reviews, err := ex.st.Reviews(ex.ctx, t.ID)
	if err != nil {
		return err
	}
	comments, err := ex.st.Comments(ex.ctx, t.ID)
	if err != nil {
		return err
	}
	if len(reviews) == 0 && len(comments) == 0 {
		return nil
	}
	ex.printf("\n#### Reviews\n")
	for _, r := range reviews {
		line := fmt.Sprintf("- review@%s by %s => %s", formatStamp(r.At), r.By, r.Decision)
		if r.Note != "" {
			line += " " + strconv.Quote(r.Note)
		}
		ex.printf("%s\n", line)
	}
	for _, c := range comments {
		ex.printf("- comment@%s by %s: %s\n", formatStamp(c.At), c.By, strconv.Quote(c.Text))
	}
	return nil
}

func stampBy(t time.Time, by string) string {
	if by == "" {
		return formatStamp(t)
	}
	return formatStamp(t) + " by " + by
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
