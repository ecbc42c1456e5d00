package schema

import (
	"fmt"
	"strings"
	"time"
)

// Canonical workflow states. State is stored as free text, these are the
// values the store itself produces.
const (
	StateDraft            = "DRAFT"
	StateInProgress       = "IN_PROGRESS"
	StateApproved         = "APPROVED"
	StateChangesRequested = "CHANGES_REQUESTED"
	StateDone             = "DONE"
	StateCancelled        = "CANCELLED"
)

// Task levels map to Markdown heading depth.
const (
	LevelTask    = 2
	LevelSubtask = 3
)

// TDD phases accepted in Task.Phase.
const (
	PhaseRed      = "red"
	PhaseGreen    = "green"
	PhaseRefactor = "refactor"
	PhaseVerify   = "verify"
)

// Task is a single tracked unit of work.
type Task struct {
	// ===== Identity =====
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`

	// ===== Flags =====
	Done     bool `json:"done"`
	Archived bool `json:"archived"`

	// ===== Hierarchy =====
	ParentID string `json:"parent_id,omitempty"`
	Level    int    `json:"level"`

	// ===== Workflow =====
	State    string     `json:"state"`
	Assignee string     `json:"assignee,omitempty"`
	DueAt    *time.Time `json:"due_at,omitempty"`

	Meta Meta `json:"meta"`

	// ===== Spec linkage =====
	SpecID             string `json:"spec_id,omitempty"`
	StoryID            string `json:"story_id,omitempty"`
	AcceptanceCriteria string `json:"ac_md,omitempty"`
	Phase              string `json:"phase,omitempty"`
	LastTestStatus     string `json:"last_test_status,omitempty"`
	WorktreePath       string `json:"worktree_path,omitempty"`

	Vclock    int64     `json:"vclock"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields the store refuses to persist.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(t.ID, "[]\n") {
		return fmt.Errorf("id %q must not contain brackets or newlines", t.ID)
	}
	if strings.Contains(t.Title, "\n") {
		return fmt.Errorf("title must be a single line")
	}
	if t.Level != 0 && t.Level != LevelTask && t.Level != LevelSubtask {
		return fmt.Errorf("level must be %d or %d (got %d)", LevelTask, LevelSubtask, t.Level)
	}
	if t.Phase != "" && !IsPhase(t.Phase) {
		return fmt.Errorf("phase must be one of red, green, refactor, verify (got %q)", t.Phase)
	}
	return nil
}

// HasSpec reports whether the task links to spec material, which makes it
// eligible for .specify projection.
func (t *Task) HasSpec() bool {
	return t.SpecID != "" || t.StoryID != "" || strings.TrimSpace(t.AcceptanceCriteria) != ""
}

// IsPhase reports whether p is a known TDD phase.
func IsPhase(p string) bool {
	switch p {
	case PhaseRed, PhaseGreen, PhaseRefactor, PhaseVerify:
		return true
	}
	return false
}

// ArchivedTask is the listing view of an archived task.
type ArchivedTask struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ArchivedAt time.Time `json:"archived_at"`
	Reason     string    `json:"reason,omitempty"`
}

// TaskSummary is the row shape returned by recent listings.
type TaskSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	State     string    `json:"state"`
	Vclock    int64     `json:"vclock"`
	UpdatedAt time.Time `json:"updated_at"`
}
