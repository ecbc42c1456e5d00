// Package markdown translates between the TODO.md task dialect and the
// task store.
//
// A document is a sequence of task blocks. Each block opens with a task
// header and runs until the next one:
//
//	## [T-1] Ship the importer {state: IN_PROGRESS, assignee: ana, due: 2025-02-01}
//	- [ ] Parse every section in one pass
//	State: IN_PROGRESS
//
//	Timeline:
//	- 2025-01-16T09:00:00Z by ana: started
//
//	Related:
//	- [T-2] Exporter: https://example.com/pr/2
//
//	Notes:
//	Free text, kept verbatim.
//
//	Meta:
//	```json
//	{"estimate": 3}
//	```
//
//	### Issues:
//
//	#### Issue 1: Slow on large files
//	- Status: Open
//	- Priority: High
//	- Created: 2025-01-16T09:00:00Z by reviewer1
//
//	**Responses:**
//	- 2025-01-16T10:00:00Z by ana (comment): "Looking into it"
//
//	#### Reviews
//	- review@2025-01-17T09:00:00Z by reviewer1 => APPROVE "ship it"
//	- comment@2025-01-17T09:05:00Z by reviewer1: "nice"
//
// Level-3 headers (### [id]) are subtasks of the closest preceding level-2
// task unless they carry an explicit parent attribute.
//
// Parsing is a single pass. Every line is first classified on its own (see
// Classify), then a small state machine keyed on the current section
// decides what the line means. Starting a new task header flushes the
// previous block to the importer, so a large document is never held in
// memory as a whole.
//
// Malformed fragments are dropped with a Warning. Import never fails on
// document content; only store faults abort it.
package markdown
