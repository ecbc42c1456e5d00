package schema

import (
	"fmt"
	"strings"
	"time"
)

// Issue statuses.
const (
	IssueOpen     = "open"
	IssueResolved = "resolved"
	IssueClosed   = "closed"
)

// Issue priorities used as defaults.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Response types.
const (
	ResponseComment       = "comment"
	ResponseFix           = "fix"
	ResponseRejection     = "rejection"
	ResponseQuestion      = "question"
	ResponseClarification = "clarification"
)

// Issue is a review finding attached to exactly one task.
type Issue struct {
	ID          int64  `json:"id"`
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Category    string `json:"category,omitempty"`
	Severity    string `json:"severity,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	CreatedBy  string     `json:"created_by"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ClosedBy   string     `json:"closed_by,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

// Validate checks required fields and normalizes enum casing.
func (i *Issue) Validate() error {
	if i.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.Contains(i.Title, "\n") {
		return fmt.Errorf("title must be a single line")
	}
	i.Status = strings.ToLower(strings.TrimSpace(i.Status))
	i.Priority = strings.ToLower(strings.TrimSpace(i.Priority))
	i.Category = strings.ToLower(strings.TrimSpace(i.Category))
	i.Severity = strings.ToLower(strings.TrimSpace(i.Severity))
	if i.Status == "" {
		i.Status = IssueOpen
	}
	if i.Priority == "" {
		i.Priority = PriorityMedium
	}
	return nil
}

// IssueResponse is a reply on an issue. Internal responses are hidden from
// externally-facing reads.
type IssueResponse struct {
	ID               int64     `json:"id"`
	IssueID          int64     `json:"issue_id"`
	Type             string    `json:"response_type"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	CreatedBy        string    `json:"created_by"`
	Internal         bool      `json:"is_internal"`
	AttachmentSHA256 string    `json:"attachment_sha256,omitempty"`
}

// Validate checks required fields and fills the default type.
func (r *IssueResponse) Validate() error {
	if r.IssueID == 0 {
		return fmt.Errorf("issue_id is required")
	}
	if r.CreatedBy == "" {
		return fmt.Errorf("created_by is required")
	}
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	if r.Type == "" {
		r.Type = ResponseComment
	}
	return nil
}
