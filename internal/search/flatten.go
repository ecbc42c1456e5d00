package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mschirtzinger/todomd/internal/schema"
)

// FlattenMeta renders a metadata bag as the plain text stored in the
// meta_text column. The output is deterministic for a given bag.
func FlattenMeta(m schema.Meta) string {
	var parts []string
	for _, e := range m.Timeline {
		parts = append(parts, e.Actor, e.Action)
	}
	for _, r := range m.Related {
		parts = append(parts, r.ID, r.Title, r.URL, r.Description)
	}
	if m.Notes != nil {
		parts = append(parts, *m.Notes)
	}
	for _, k := range m.ExtraKeys() {
		parts = append(parts, k)
		parts = flattenValue(parts, m.Extra[k])
	}

	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func flattenValue(parts []string, v any) []string {
	switch val := v.(type) {
	case nil:
		return parts
	case string:
		return append(parts, val)
	case []any:
		for _, item := range val {
			parts = flattenValue(parts, item)
		}
		return parts
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k)
			parts = flattenValue(parts, val[k])
		}
		return parts
	default:
		return append(parts, fmt.Sprint(val))
	}
}
