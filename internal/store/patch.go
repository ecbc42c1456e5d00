package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Mschirtzinger/todomd/internal/schema"
)

// Patch verbs.
const (
	PatchSet     = "set"
	PatchAppend  = "append"
	PatchMerge   = "merge"
	PatchReplace = "replace"
	PatchDelete  = "delete"
)

// PatchOp is one partial-update instruction.
//
//	set      Title and/or Text replace the stored values
//	append   Text is concatenated to the stored text
//	merge    Meta keys overwrite stored keys, others are kept
//	replace  Meta becomes the whole bag
//	delete   Keys are removed from the bag
type PatchOp struct {
	Op    string         `json:"op"`
	Title *string        `json:"title,omitempty"`
	Text  *string        `json:"text,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Keys  []string       `json:"keys,omitempty"`
}

func (op PatchOp) validate() error {
	switch op.Op {
	case PatchSet:
		if op.Title == nil && op.Text == nil {
			return invalid("set requires title or text")
		}
	case PatchAppend:
		if op.Text == nil {
			return invalid("append requires text")
		}
	case PatchMerge:
		if op.Meta == nil {
			return invalid("merge requires meta")
		}
	case PatchReplace:
		// A nil Meta clears the bag.
	case PatchDelete:
		if len(op.Keys) == 0 {
			return invalid("delete requires keys")
		}
	default:
		return invalid("unknown patch op %q", op.Op)
	}
	return nil
}

// ParsePatch decodes the object form of a patch:
//
//	{"set": {"title": "..", "text": ".."}, "append": {"text": ".."},
//	 "merge": {"meta": {..}}, "replace": {"meta": {..}}, "delete": {"meta": ["k"]}}
//
// Ops come back in the fixed order set, append, merge, replace, delete.
func ParsePatch(data []byte) ([]PatchOp, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid("patch is not a JSON object: %v", err)
	}
	for k := range raw {
		switch k {
		case PatchSet, PatchAppend, PatchMerge, PatchReplace, PatchDelete:
		default:
			return nil, invalid("unknown patch op %q", k)
		}
	}

	var ops []PatchOp
	decode := func(verb string, into any) error {
		body, ok := raw[verb]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(body, into); err != nil {
			return invalid("malformed %s: %v", verb, err)
		}
		return nil
	}

	var set struct {
		Title *string `json:"title"`
		Text  *string `json:"text"`
	}
	if err := decode(PatchSet, &set); err != nil {
		return nil, err
	}
	if _, ok := raw[PatchSet]; ok {
		ops = append(ops, PatchOp{Op: PatchSet, Title: set.Title, Text: set.Text})
	}

	var app struct {
		Text *string `json:"text"`
	}
	if err := decode(PatchAppend, &app); err != nil {
		return nil, err
	}
	if _, ok := raw[PatchAppend]; ok {
		ops = append(ops, PatchOp{Op: PatchAppend, Text: app.Text})
	}

	for _, verb := range []string{PatchMerge, PatchReplace} {
		var m struct {
			Meta map[string]any `json:"meta"`
		}
		if err := decode(verb, &m); err != nil {
			return nil, err
		}
		if _, ok := raw[verb]; ok {
			ops = append(ops, PatchOp{Op: verb, Meta: m.Meta})
		}
	}

	var del struct {
		Meta []string `json:"meta"`
	}
	if err := decode(PatchDelete, &del); err != nil {
		return nil, err
	}
	if _, ok := raw[PatchDelete]; ok {
		ops = append(ops, PatchOp{Op: PatchDelete, Keys: del.Meta})
	}

	for _, op := range ops {
		if err := op.validate(); err != nil {
			return nil, err
		}
	}
	return ops, nil
}

// Patch applies ops in order as one update. Every op is validated before
// anything is written, so an invalid op leaves the task untouched.
func (b *Batch) Patch(id string, ops []PatchOp, expected *int64) (int64, error) {
	if len(ops) == 0 {
		return 0, invalid("patch has no ops")
	}
	for _, op := range ops {
		if err := op.validate(); err != nil {
			return 0, err
		}
	}

	t, err := b.liveTask(id, expected)
	if err != nil {
		return 0, err
	}
	bag, err := t.Meta.ToMap()
	if err != nil {
		return 0, fault("decode meta", err)
	}

	for _, op := range ops {
		switch op.Op {
		case PatchSet:
			if op.Title != nil {
				t.Title = *op.Title
			}
			if op.Text != nil {
				t.Text = *op.Text
			}
		case PatchAppend:
			t.Text += *op.Text
		case PatchMerge:
			for k, v := range op.Meta {
				bag[k] = v
			}
		case PatchReplace:
			bag = make(map[string]any, len(op.Meta))
			for k, v := range op.Meta {
				bag[k] = v
			}
		case PatchDelete:
			for _, k := range op.Keys {
				delete(bag, k)
			}
		}
	}

	meta, err := schema.MetaFromMap(bag)
	if err != nil {
		return 0, invalid("patched meta: %v", err)
	}
	t.Meta = meta
	b.warnMalformed(t)

	if err := b.save(t); err != nil {
		return 0, err
	}
	b.touch(schema.EntityTask, id, schema.OpUpdate, vclockPtr(t.Vclock))
	return t.Vclock, nil
}

// Patch runs Batch.Patch in its own transaction.
func (s *Store) Patch(ctx context.Context, id string, ops []PatchOp, expected *int64) (int64, error) {
	var v int64
	err := s.Batch(ctx, func(b *Batch) error {
		var err error
		v, err = b.Patch(id, ops, expected)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("patch %s: %w", id, err)
	}
	return v, nil
}
