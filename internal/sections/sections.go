// Package sections holds the versioned, in-memory TODO sections (PLAN,
// CONTRACT, TEST and TASKS) that clients edit with line-range patches.
//
// A SectionStore owns one document. Every accepted patch bumps a single
// vclock shared by all sections and recomputes a SHA-256 over the whole
// document, which callers echo back as the base of their next patch. A
// patch based on a stale hash is rejected with a version conflict.
package sections

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Mschirtzinger/todomd/internal/schema"
	"github.com/Mschirtzinger/todomd/internal/store"
)

// Section names, in document order.
const (
	Plan     = "PLAN"
	Contract = "CONTRACT"
	Test     = "TEST"
	Tasks    = "TASKS"
)

// Names lists the sections in document order.
var Names = []string{Plan, Contract, Test, Tasks}

// OpReplaceLines is the only patch verb.
const OpReplaceLines = "replaceLines"

const hashSeparator = "\n#--\n"

// taskLine is the grammar every TASKS line must follow.
var taskLine = regexp.MustCompile(`^(\s{2}){0,2}- \[( |x)\] \[T-[A-Z0-9\-]+\]`)

// Op replaces lines [Start, End) of a section with the lines of Text. An
// empty Text deletes the range.
type Op struct {
	Op    string `json:"op"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Snapshot is the state of one section.
type Snapshot struct {
	Section  string   `json:"section"`
	Lines    []string `json:"lines"`
	Vclock   int64    `json:"vclock"`
	SHA256   string   `json:"sha256"`
	Instance string   `json:"instance"`
}

// Recorder appends change feed rows. *store.Store implements it.
type Recorder interface {
	RecordChange(ctx context.Context, entity, id, op string, vclock *int64) error
}

// SectionStore is a versioned set of TODO sections.
type SectionStore struct {
	recorder Recorder
	instance string

	mu       sync.Mutex
	sections map[string][]string
	vclock   int64
	sha      string
}

// New creates an empty section store. Accepted patches are recorded
// through rec, which may be nil.
func New(rec Recorder) *SectionStore {
	s := &SectionStore{
		recorder: rec,
		instance: uuid.NewString(),
		sections: make(map[string][]string, len(Names)),
	}
	for _, name := range Names {
		s.sections[name] = nil
	}
	s.sha = s.hash(s.sections)
	return s
}

// Instance identifies this store. It changes on every process start, so a
// client can tell a reset vclock from a stale one.
func (s *SectionStore) Instance() string {
	return s.instance
}

// Get returns a copy of one section.
func (s *SectionStore) Get(section string) (*Snapshot, error) {
	if err := checkName(section); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(section), nil
}

// Patch applies ops to section in order. A non-empty baseSHA256 must match
// the current document hash. Either every op applies or none does.
func (s *SectionStore) Patch(ctx context.Context, section, baseSHA256 string, ops []Op) (*Snapshot, error) {
	if err := checkName(section); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if baseSHA256 != "" && !strings.EqualFold(baseSHA256, s.sha) {
		return nil, fmt.Errorf("%w: base sha256 %s is not current", store.ErrVersionConflict, baseSHA256)
	}

	lines := append([]string(nil), s.sections[section]...)
	for i, op := range ops {
		var err error
		lines, err = apply(lines, op)
		if err != nil {
			return nil, fmt.Errorf("%w: op %d: %v", store.ErrInvalidOperation, i, err)
		}
	}
	if section == Tasks {
		for n, line := range lines {
			if !taskLine.MatchString(line) {
				return nil, fmt.Errorf("%w: TASKS format error on line %d: %q", store.ErrInvalidOperation, n, line)
			}
		}
	}

	next := make(map[string][]string, len(s.sections))
	for k, v := range s.sections {
		next[k] = v
	}
	next[section] = lines
	vclock := s.vclock + 1

	if s.recorder != nil {
		if err := s.recorder.RecordChange(ctx, schema.EntityTodo, section, schema.OpUpdate, &vclock); err != nil {
			return nil, err
		}
	}

	s.sections = next
	s.vclock = vclock
	s.sha = s.hash(next)
	return s.snapshot(section), nil
}

// Render joins all sections into one document with a heading per section.
func (s *SectionStore) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for i, name := range Names {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n", name)
		for _, line := range s.sections[name] {
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func (s *SectionStore) snapshot(section string) *Snapshot {
	return &Snapshot{
		Section:  section,
		Lines:    append([]string{}, s.sections[section]...),
		Vclock:   s.vclock,
		SHA256:   s.sha,
		Instance: s.instance,
	}
}

func (s *SectionStore) hash(sections map[string][]string) string {
	parts := make([]string, len(Names))
	for i, name := range Names {
		parts[i] = strings.Join(sections[name], "\n")
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, hashSeparator)))
	return hex.EncodeToString(sum[:])
}

func apply(lines []string, op Op) ([]string, error) {
	if op.Op != OpReplaceLines {
		return nil, fmt.Errorf("unknown op %q", op.Op)
	}
	if op.Start < 0 || op.End < op.Start || op.End > len(lines) {
		return nil, fmt.Errorf("range [%d, %d) outside %d lines", op.Start, op.End, len(lines))
	}
	var repl []string
	if op.Text != "" {
		repl = strings.Split(strings.ReplaceAll(op.Text, "\r\n", "\n"), "\n")
	}
	out := make([]string, 0, len(lines)-(op.End-op.Start)+len(repl))
	out = append(out, lines[:op.Start]...)
	out = append(out, repl...)
	out = append(out, lines[op.End:]...)
	return out, nil
}

func checkName(section string) error {
	for _, name := range Names {
		if section == name {
			return nil
		}
	}
	return fmt.Errorf("%w: invalid section %q", store.ErrInvalidOperation, section)
}
