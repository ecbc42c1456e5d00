package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Reserved metadata keys decoded into typed fields.
const (
	MetaKeyTimeline = "timeline"
	MetaKeyRelated  = "related"
	MetaKeyNotes    = "notes"
)

// TimelineEntry is one "- <timestamp> by <actor>: <action>" line.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
}

// RelatedLink is one entry of a Related section. At least one of ID or URL
// is set.
type RelatedLink struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Meta is the per-task metadata bag.
//
// Notes is a pointer so that an explicitly empty Notes section survives a
// round trip as "" rather than disappearing.
type Meta struct {
	Timeline []TimelineEntry
	Related  []RelatedLink
	Notes    *string
	Extra    map[string]any

	malformed []string
}

// IsEmpty reports whether the bag holds nothing worth persisting.
func (m Meta) IsEmpty() bool {
	return len(m.Timeline) == 0 && len(m.Related) == 0 && m.Notes == nil && len(m.Extra) == 0
}

// MalformedKeys lists reserved keys whose stored value did not match the
// typed shape and was kept verbatim in Extra instead.
func (m Meta) MalformedKeys() []string {
	return m.malformed
}

// NotesText returns the notes or "" when unset.
func (m Meta) NotesText() string {
	if m.Notes == nil {
		return ""
	}
	return *m.Notes
}

// SetNotes stores s as the notes text.
func (m *Meta) SetNotes(s string) {
	m.Notes = &s
}

// ExtraKeys returns the Extra keys in sorted order.
func (m Meta) ExtraKeys() []string {
	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON flattens the typed fields and Extra into one object.
func (m Meta) MarshalJSON() ([]byte, error) {
	out, err := m.ToMap()
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits an object into typed fields and Extra. Reserved keys
// with an unexpected shape are kept in Extra rather than rejected.
func (m *Meta) UnmarshalJSON(data []byte) error {
	*m = Meta{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("meta must be a JSON object: %w", err)
	}

	for key, value := range raw {
		switch key {
		case MetaKeyTimeline:
			var tl []TimelineEntry
			if err := json.Unmarshal(value, &tl); err == nil {
				m.Timeline = tl
				continue
			}
		case MetaKeyRelated:
			var rel []RelatedLink
			if err := json.Unmarshal(value, &rel); err == nil {
				m.Related = rel
				continue
			}
		case MetaKeyNotes:
			var notes string
			if err := json.Unmarshal(value, &notes); err == nil {
				m.Notes = &notes
				continue
			}
		default:
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("failed to decode meta key %q: %w", key, err)
			}
			m.setExtra(key, v)
			continue
		}

		// Reserved key with the wrong shape: keep it verbatim.
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("failed to decode meta key %q: %w", key, err)
		}
		m.setExtra(key, v)
		m.malformed = append(m.malformed, key)
	}
	sort.Strings(m.malformed)
	return nil
}

func (m *Meta) setExtra(key string, v any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = v
}

// ToMap returns the bag as a generic JSON object.
func (m Meta) ToMap() (map[string]any, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if len(m.Timeline) > 0 {
		out[MetaKeyTimeline] = m.Timeline
	}
	if len(m.Related) > 0 {
		out[MetaKeyRelated] = m.Related
	}
	if m.Notes != nil {
		out[MetaKeyNotes] = *m.Notes
	}
	return out, nil
}

// MetaFromMap rebuilds a Meta from a generic JSON object.
func MetaFromMap(in map[string]any) (Meta, error) {
	if len(in) == 0 {
		return Meta{}, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return Meta{}, fmt.Errorf("failed to encode meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// Clone returns a deep copy of the bag.
func (m Meta) Clone() Meta {
	if m.IsEmpty() {
		return Meta{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out Meta
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}
