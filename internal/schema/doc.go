// Package schema defines the records held by the todomd task store.
//
// The store keeps one row per Task, each carrying a typed metadata bag
// (Meta) that the Markdown engine fills from Timeline, Related, Notes and
// Meta sections. Review issues hang off tasks, and issue responses hang off
// issues.
//
// # Versioning
//
// Every Task carries a Vclock. The store increments it by exactly one on
// each accepted mutation, and callers may pass the value they last read as
// an expected version to get compare-and-swap semantics:
//
//	task, _ := st.Get(ctx, "T-1", false)
//	v := task.Vclock
//	_, err := st.Upsert(ctx, store.UpsertInput{ID: "T-1", Title: "x", ExpectedVclock: &v})
//
// # Metadata
//
// Meta is a closed set of known sub-structures plus an Extra bucket for
// unknown keys. Unknown keys round-trip unchanged:
//
//	{"timeline":[...],"related":[...],"notes":"...","priority":"High"}
//
// decodes to Meta{Timeline, Related, Notes, Extra: {"priority": "High"}}.
package schema
