package schema

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestMeta_UnmarshalSplitsKnownKeys(t *testing.T) {
	data := []byte(`{
		"timeline": [{"timestamp": "2025-01-16T09:00:00Z", "actor": "system", "action": "Task created"}],
		"related": [{"id": "T-2", "title": "Other"}],
		"notes": "line one\n\nline two",
		"priority": "High",
		"tags": ["a", "b"]
	}`)

	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	if len(m.Timeline) != 1 {
		t.Fatalf("len(Timeline) = %d, want 1", len(m.Timeline))
	}
	want := time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)
	if !m.Timeline[0].Timestamp.Equal(want) {
		t.Errorf("Timeline[0].Timestamp = %v, want %v", m.Timeline[0].Timestamp, want)
	}
	if len(m.Related) != 1 || m.Related[0].ID != "T-2" {
		t.Errorf("Related = %+v, want one link to T-2", m.Related)
	}
	if m.NotesText() != "line one\n\nline two" {
		t.Errorf("Notes = %q", m.NotesText())
	}
	if m.Extra["priority"] != "High" {
		t.Errorf("Extra[priority] = %v, want High", m.Extra["priority"])
	}
	if len(m.MalformedKeys()) != 0 {
		t.Errorf("MalformedKeys() = %v, want none", m.MalformedKeys())
	}
}

func TestMeta_MalformedReservedKeyKeptInExtra(t *testing.T) {
	var m Meta
	if err := json.Unmarshal([]byte(`{"timeline": "not a list", "notes": 42}`), &m); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	if len(m.Timeline) != 0 {
		t.Errorf("Timeline = %v, want empty", m.Timeline)
	}
	if m.Extra["timeline"] != "not a list" {
		t.Errorf("Extra[timeline] = %v, want original value", m.Extra["timeline"])
	}
	if got := m.MalformedKeys(); !reflect.DeepEqual(got, []string{"notes", "timeline"}) {
		t.Errorf("MalformedKeys() = %v", got)
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if back["timeline"] != "not a list" || back["notes"] != float64(42) {
		t.Errorf("round trip = %v, want malformed values preserved", back)
	}
}

func TestMeta_EmptyNotesSurvive(t *testing.T) {
	var m Meta
	m.SetNotes("")

	if m.IsEmpty() {
		t.Fatal("IsEmpty() = true for meta with empty notes")
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if string(data) != `{"notes":""}` {
		t.Errorf("Marshal() = %s", data)
	}

	var back Meta
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if back.Notes == nil || *back.Notes != "" {
		t.Errorf("Notes = %v, want pointer to empty string", back.Notes)
	}
}

func TestMeta_NullAndEmpty(t *testing.T) {
	for _, input := range []string{"null", "{}"} {
		var m Meta
		if err := json.Unmarshal([]byte(input), &m); err != nil {
			t.Fatalf("Unmarshal(%s) failed: %v", input, err)
		}
		if !m.IsEmpty() {
			t.Errorf("Unmarshal(%s) produced non-empty meta: %+v", input, m)
		}
	}

	var m Meta
	if err := json.Unmarshal([]byte(`[1,2]`), &m); err == nil {
		t.Error("Unmarshal([1,2]) succeeded, want error")
	}
}

func TestMetaFromMap_Clone(t *testing.T) {
	m, err := MetaFromMap(map[string]any{
		"notes":    "n",
		"priority": "Low",
	})
	if err != nil {
		t.Fatalf("MetaFromMap() failed: %v", err)
	}

	c := m.Clone()
	c.Extra["priority"] = "High"
	if m.Extra["priority"] != "Low" {
		t.Error("Clone() shares the Extra map with the original")
	}
	if c.NotesText() != "n" {
		t.Errorf("Clone().Notes = %q, want n", c.NotesText())
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{name: "valid", task: Task{ID: "T-1", Title: "Alpha", Level: 2}},
		{name: "zero level allowed", task: Task{ID: "T-1", Title: "Alpha"}},
		{name: "missing id", task: Task{Title: "Alpha"}, wantErr: true},
		{name: "bracket in id", task: Task{ID: "T-[1]"}, wantErr: true},
		{name: "multiline title", task: Task{ID: "T-1", Title: "a\nb"}, wantErr: true},
		{name: "bad level", task: Task{ID: "T-1", Level: 4}, wantErr: true},
		{name: "bad phase", task: Task{ID: "T-1", Phase: "blue"}, wantErr: true},
		{name: "good phase", task: Task{ID: "T-1", Phase: PhaseGreen}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIssue_ValidateNormalizes(t *testing.T) {
	i := Issue{TaskID: "T-1", Title: "Broken", Priority: " High ", Category: "Security"}
	if err := i.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if i.Status != IssueOpen {
		t.Errorf("Status = %q, want %q", i.Status, IssueOpen)
	}
	if i.Priority != "high" || i.Category != "security" {
		t.Errorf("Priority/Category = %q/%q, want lowercased", i.Priority, i.Category)
	}

	r := IssueResponse{IssueID: 1, CreatedBy: "dev"}
	if err := r.Validate(); err != nil {
		t.Fatalf("IssueResponse.Validate() failed: %v", err)
	}
	if r.Type != ResponseComment {
		t.Errorf("Type = %q, want %q", r.Type, ResponseComment)
	}
}
