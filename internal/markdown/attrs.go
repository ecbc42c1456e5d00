package markdown

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Header attribute keys, in export order.
const (
	AttrState    = "state"
	AttrAssignee = "assignee"
	AttrDue      = "due"
	AttrSpec     = "spec"
	AttrStory    = "story"
	AttrPhase    = "phase"
	AttrTest     = "test"
	AttrWorktree = "worktree"
	AttrParent   = "parent"
)

var attrOrder = []string{AttrState, AttrAssignee, AttrDue, AttrSpec, AttrStory, AttrPhase, AttrTest, AttrWorktree, AttrParent}

func knownAttr(key string) bool {
	for _, k := range attrOrder {
		if k == key {
			return true
		}
	}
	return false
}

// parseAttrs reads "key: value, key=value" pairs. Pieces that are not a
// known key/value pair are returned as problems and otherwise ignored.
func parseAttrs(s string) (map[string]string, []string) {
	attrs := make(map[string]string)
	var problems []string
	if strings.TrimSpace(s) == "" {
		return attrs, nil
	}
	for _, piece := range strings.Split(s, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		sep := strings.IndexAny(piece, ":=")
		if sep <= 0 {
			problems = append(problems, fmt.Sprintf("attribute %q has no value", piece))
			continue
		}
		key := strings.ToLower(strings.TrimSpace(piece[:sep]))
		value := strings.TrimSpace(piece[sep+1:])
		if !knownAttr(key) {
			problems = append(problems, fmt.Sprintf("unknown attribute %q", key))
			continue
		}
		attrs[key] = value
	}
	return attrs, problems
}

// formatAttrs renders the non-empty attrs in a stable order.
func formatAttrs(attrs map[string]string) string {
	parts := make([]string, 0, len(attrs))
	for _, k := range attrOrder {
		if v := attrs[k]; v != "" {
			parts = append(parts, k+": "+v)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

var dueParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDue accepts an RFC 3339 timestamp, a bare date, or an English
// phrase such as "next friday" resolved against now.
func parseDue(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	r, err := dueParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized due date %q", s)
	}
	return r.Time.UTC(), nil
}

// parseStamp reads "<timestamp> [by <actor>]" as used by issue fields.
func parseStamp(s string) (time.Time, string, error) {
	s = strings.TrimSpace(s)
	stamp, by, _ := strings.Cut(s, " by ")
	stamp = strings.TrimSpace(stamp)
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		d, derr := time.Parse(time.DateOnly, stamp)
		if derr != nil {
			return time.Time{}, "", fmt.Errorf("failed to parse timestamp %q: %w", stamp, err)
		}
		t = d
	}
	return t.UTC(), strings.TrimSpace(by), nil
}

func formatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
