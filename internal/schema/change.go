package schema

import "time"

// Entity kinds recorded in the change feed.
const (
	EntityTask  = "task"
	EntityIssue = "issue"
	EntityBlob  = "blob"
	EntityTodo  = "todo"
)

// Operations recorded in the change feed.
const (
	OpInsert  = "insert"
	OpUpdate  = "update"
	OpArchive = "archive"
	OpRestore = "restore"
	OpAttach  = "attach"

	OpReview   = "review"
	OpComment  = "comment"
	OpResponse = "response"
)

// ChangeEvent is one append-only change feed row.
type ChangeEvent struct {
	Seq      int64     `json:"seq"`
	At       time.Time `json:"at"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"id"`
	Op       string    `json:"op"`
	Vclock   *int64    `json:"vclock,omitempty"`
}

// Review decisions that drive a state transition.
const (
	DecisionApprove        = "APPROVE"
	DecisionApproved       = "APPROVED"
	DecisionRequestChanges = "REQUEST_CHANGES"
)

// Review is one logged review decision.
type Review struct {
	ID       int64     `json:"id"`
	TaskID   string    `json:"task_id"`
	At       time.Time `json:"at"`
	By       string    `json:"by"`
	Decision string    `json:"decision"`
	Note     string    `json:"note,omitempty"`
}

// Comment is an immutable review comment.
type Comment struct {
	ID     int64     `json:"id"`
	TaskID string    `json:"task_id"`
	At     time.Time `json:"at"`
	By     string    `json:"by"`
	Text   string    `json:"text"`
}

// StateChange is one task_state_history row. From is empty for the
// creation entry.
type StateChange struct {
	TaskID string    `json:"task_id"`
	From   string    `json:"from_state,omitempty"`
	To     string    `json:"to_state"`
	At     time.Time `json:"at"`
	By     string    `json:"by,omitempty"`
	Note   string    `json:"note,omitempty"`
}

// BlobRef is a blob linked to a task.
type BlobRef struct {
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
