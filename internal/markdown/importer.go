package markdown

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Mschirtzinger/todomd/internal/schema"
	"github.com/Mschirtzinger/todomd/internal/store"
)

// ImportOptions configures Import.
type ImportOptions struct {
	// By is recorded as the actor of state changes made by the import.
	By string

	Logger *log.Logger
	Now    func() time.Time
}

// ImportResult summarizes an import. Skipped fragments are listed in
// Warnings; the import itself still succeeded.
type ImportResult struct {
	OK        bool      `json:"ok"`
	Tasks     int       `json:"tasks"`
	Issues    int       `json:"issues"`
	Responses int       `json:"responses"`
	Reviews   int       `json:"reviews"`
	Comments  int       `json:"comments"`
	Warnings  []Warning `json:"warnings,omitempty"`
}

// Import parses doc and writes every task block to st, one store batch per
// task. Content problems become warnings; only store faults abort.
func Import(ctx context.Context, st *store.Store, doc io.Reader, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[markdown] ", log.LstdFlags)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	im := &importer{st: st, by: opts.By, res: &ImportResult{OK: true}}
	warnings, err := Parse(doc, now(), func(tb *TaskBlock) error {
		return im.apply(ctx, tb)
	})
	im.res.Warnings = append(warnings, im.res.Warnings...)
	for _, w := range im.res.Warnings {
		logger.Printf("Warning: import %s", w)
	}
	if err != nil {
		im.res.OK = false
		return im.res, err
	}
	return im.res, nil
}

// ImportString is Import over an in-memory document.
func ImportString(ctx context.Context, st *store.Store, doc string, opts *ImportOptions) (*ImportResult, error) {
	return Import(ctx, st, strings.NewReader(doc), opts)
}

type importer struct {
	st  *store.Store
	by  string
	res *ImportResult
}

// apply writes one task block. Errors the caller can fix (bad ids,
// archived targets) are downgraded to warnings.
func (im *importer) apply(ctx context.Context, tb *TaskBlock) error {
	var counts ImportResult
	err := im.st.Batch(ctx, func(b *store.Batch) error {
		counts = ImportResult{}
		return im.applyBlock(b, tb, &counts)
	})
	if err == nil {
		im.res.Warnings = append(im.res.Warnings, counts.Warnings...)
		im.res.Tasks++
		im.res.Issues += counts.Issues
		im.res.Responses += counts.Responses
		im.res.Reviews += counts.Reviews
		im.res.Comments += counts.Comments
		return nil
	}
	if store.IsConflict(err) || store.IsInvalid(err) || store.IsNotFound(err) {
		im.res.Warnings = append(im.res.Warnings, Warning{Line: tb.Line, Message: fmt.Sprintf("task %s skipped: %v", tb.ID, err)})
		return nil
	}
	return fmt.Errorf("failed to import task %s: %w", tb.ID, err)
}

func (im *importer) applyBlock(b *store.Batch, tb *TaskBlock, counts *ImportResult) error {
	meta, err := blockMeta(tb)
	if err != nil {
		counts.Warnings = append(counts.Warnings, Warning{Line: tb.Line, Message: err.Error()})
	}

	level := tb.Level
	extra := &store.Extra{
		ParentID:           &tb.ParentID,
		Level:              &level,
		Assignee:           attrPtr(tb.Attrs, AttrAssignee),
		SpecID:             attrPtr(tb.Attrs, AttrSpec),
		StoryID:            attrPtr(tb.Attrs, AttrStory),
		LastTestStatus:     attrPtr(tb.Attrs, AttrTest),
		WorktreePath:       attrPtr(tb.Attrs, AttrWorktree),
		AcceptanceCriteria: new(string),
		DueAt:              tb.Due,
		ClearDue:           tb.Due == nil,
		By:                 im.by,
	}
	if state := tb.Attrs[AttrState]; state != "" {
		extra.State = &state
	}
	if tb.Acceptance != nil {
		extra.AcceptanceCriteria = tb.Acceptance
	}
	if phase := tb.Phase(); phase != "" && !schema.IsPhase(phase) {
		counts.Warnings = append(counts.Warnings, Warning{Line: tb.Line, Message: fmt.Sprintf("task %s: unknown phase %q dropped", tb.ID, tb.Attrs[AttrPhase])})
		extra.Phase = new(string)
	} else {
		extra.Phase = &phase
	}

	if _, err := b.Upsert(store.UpsertInput{ID: tb.ID, Title: tb.Title, Text: tb.Text, Meta: &meta, Extra: extra}); err != nil {
		return err
	}

	for _, r := range tb.Reviews {
		r.TaskID = tb.ID
		if _, err := b.AddReview(r); err != nil {
			return err
		}
		counts.Reviews++
	}
	for _, c := range tb.Comments {
		c.TaskID = tb.ID
		if err := b.AddComment(c); err != nil {
			return err
		}
		counts.Comments++
	}

	if tb.StateLine != "" {
		if _, err := b.SetState(tb.ID, tb.StateLine, store.StateOptions{By: im.by}); err != nil {
			return err
		}
	}
	if tb.Done != nil {
		t, err := b.Get(tb.ID, false)
		if err != nil {
			return err
		}
		if t.Done != *tb.Done {
			if _, err := b.MarkDone(tb.ID, *tb.Done, nil); err != nil {
				return err
			}
		}
	}

	return im.applyIssues(b, tb, counts)
}

// applyIssues matches parsed issues to stored ones by title, in order, so
// re-importing a document updates issues instead of duplicating them.
func (im *importer) applyIssues(b *store.Batch, tb *TaskBlock, counts *ImportResult) error {
	if len(tb.Issues) == 0 {
		return nil
	}
	existing, err := b.IssuesByTask(tb.ID)
	if err != nil {
		return err
	}
	used := make(map[int64]bool, len(existing))

	for _, ib := range tb.Issues {
		is := ib.Issue
		is.TaskID = tb.ID

		var match *schema.Issue
		for i := range existing {
			if !used[existing[i].ID] && existing[i].Title == is.Title {
				match = &existing[i]
				break
			}
		}

		if match != nil {
			used[match.ID] = true
			is.ID = match.ID
			if err := b.SaveIssue(&is); err != nil {
				return err
			}
		} else {
			id, err := b.CreateIssue(is)
			if err != nil {
				if store.IsInvalid(err) {
					counts.Warnings = append(counts.Warnings, Warning{Line: ib.Line, Message: fmt.Sprintf("issue %q skipped: %v", is.Title, err)})
					continue
				}
				return err
			}
			is.ID = id
		}
		counts.Issues++

		if err := im.applyResponses(b, is.ID, ib.Responses, counts); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) applyResponses(b *store.Batch, issueID int64, responses []schema.IssueResponse, counts *ImportResult) error {
	if len(responses) == 0 {
		return nil
	}
	stored, err := b.Responses(issueID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(stored))
	for _, r := range stored {
		seen[responseKey(r)] = true
	}
	for _, r := range responses {
		r.IssueID = issueID
		key := responseKey(r)
		if seen[key] {
			continue
		}
		if _, err := b.AddResponse(r); err != nil {
			return err
		}
		seen[key] = true
		counts.Responses++
	}
	return nil
}

func responseKey(r schema.IssueResponse) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%t", strings.ToLower(r.Type), r.Content, formatStamp(r.CreatedAt), r.CreatedBy, r.Internal)
}

// blockMeta merges the Meta JSON with the typed sections. Sections win
// over same-named JSON keys.
func blockMeta(tb *TaskBlock) (schema.Meta, error) {
	bag := make(map[string]any, len(tb.Meta)+3)
	for k, v := range tb.Meta {
		bag[k] = v
	}
	if len(tb.Timeline) > 0 {
		bag[schema.MetaKeyTimeline] = tb.Timeline
	}
	if len(tb.Related) > 0 {
		bag[schema.MetaKeyRelated] = tb.Related
	}
	if tb.Notes != nil {
		bag[schema.MetaKeyNotes] = *tb.Notes
	}
	m, err := schema.MetaFromMap(bag)
	if err != nil {
		return schema.Meta{}, fmt.Errorf("task %s: metadata dropped: %w", tb.ID, err)
	}
	return m, nil
}

// Phase returns the phase attribute, lowercased.
func (tb *TaskBlock) Phase() string {
	return strings.ToLower(tb.Attrs[AttrPhase])
}

// attrPtr returns a pointer to the attr value, "" when absent, so a
// missing attribute clears the stored field.
func attrPtr(attrs map[string]string, key string) *string {
	v := attrs[key]
	return &v
}
