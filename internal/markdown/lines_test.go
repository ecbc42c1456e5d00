package markdown

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    LineKind
		section Section
		key     string
		value   string
	}{
		{"blank", "   ", KindBlank, SectionNone, "", ""},
		{"doc title", "# Tasks", KindDocTitle, SectionNone, "", ""},
		{"timeline header", "Timeline:", KindSectionHeader, SectionTimeline, "", ""},
		{"hashed header no colon", "#### Reviews", KindSectionHeader, SectionReviews, "", ""},
		{"hashed issues header", "### Issues:", KindSectionHeader, SectionIssues, "", ""},
		{"case insensitive", "NOTES:", KindSectionHeader, SectionNotes, "", ""},
		{"bold responses", "**Responses:**", KindSectionHeader, SectionResponses, "", ""},
		{"bare word is text", "Notes", KindText, SectionNone, "", ""},
		{"issue header", "#### Issue 2: Slow query", KindIssueHeader, SectionNone, "", "Slow query"},
		{"fence", "```json", KindFence, SectionNone, "", ""},
		{"plain field", "- Status: Open", KindField, SectionNone, "status", "Open"},
		{"bold field", "- **Priority**: High", KindField, SectionNone, "priority", "High"},
		{"bold field colon inside", "  **Category:** Performance", KindField, SectionNone, "category", "Performance"},
		{"state line", "State: IN_PROGRESS", KindField, SectionNone, "state", "IN_PROGRESS"},
		{"timeline entry is text", "- 2025-01-16T09:00:00Z by ana: started", KindText, SectionNone, "", ""},
		{"checkbox", "- [x] Ship it", KindCheckbox, SectionNone, "", "Ship it"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Classify(1, tt.raw)
			if l.Kind != tt.kind {
				t.Fatalf("Classify(%q).Kind = %s, want %s", tt.raw, l.Kind, tt.kind)
			}
			if l.Section != tt.section {
				t.Errorf("Section = %s, want %s", l.Section, tt.section)
			}
			if l.Key != tt.key {
				t.Errorf("Key = %q, want %q", l.Key, tt.key)
			}
			if l.Value != tt.value {
				t.Errorf("Value = %q, want %q", l.Value, tt.value)
			}
		})
	}
}

func TestClassify_TaskHeader(t *testing.T) {
	l := Classify(3, "### [T-2] Write tests {state: in_progress, assignee: bo}")
	if l.Kind != KindTaskHeader {
		t.Fatalf("Kind = %s, want task-header", l.Kind)
	}
	if l.Level != 3 || l.ID != "T-2" || l.Title != "Write tests" {
		t.Errorf("header = level %d id %q title %q", l.Level, l.ID, l.Title)
	}
	if l.Attrs != "state: in_progress, assignee: bo" {
		t.Errorf("Attrs = %q", l.Attrs)
	}

	l = Classify(4, "## [T-3] Braces {in} title {state: DRAFT}")
	if l.Title != "Braces {in} title" || l.Attrs != "state: DRAFT" {
		t.Errorf("header = %q / %q", l.Title, l.Attrs)
	}

	l = Classify(5, "## [T-4] No attrs")
	if l.Title != "No attrs" || l.Attrs != "" {
		t.Errorf("header = %q / %q", l.Title, l.Attrs)
	}
}

func TestParseAttrs(t *testing.T) {
	attrs, problems := parseAttrs("state: DONE, due=2025-02-01, bogus, color: red")
	if attrs[AttrState] != "DONE" || attrs[AttrDue] != "2025-02-01" {
		t.Errorf("attrs = %v", attrs)
	}
	if len(problems) != 2 {
		t.Errorf("problems = %v, want 2", problems)
	}
	if got := formatAttrs(map[string]string{AttrParent: "T-1", AttrState: "DRAFT", AttrAssignee: ""}); got != "{state: DRAFT, parent: T-1}" {
		t.Errorf("formatAttrs() = %q", got)
	}
}

func TestEscapeLine(t *testing.T) {
	tests := []struct {
		line    string
		escaped string
	}{
		{"Notes:", `\Notes:`},
		{"#### Reviews", `\#### Reviews`},
		{"## [T-1] Title", `\## [T-1] Title`},
		{"State: DONE", `\State: DONE`},
		{`\Notes:`, `\\Notes:`},
		{"  State: DONE", "  State: DONE"},
		{"Notes", "Notes"},
		{`\n escapes are text`, `\n escapes are text`},
		{"plain words", "plain words"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := EscapeLine(tt.line)
			if got != tt.escaped {
				t.Fatalf("EscapeLine(%q) = %q, want %q", tt.line, got, tt.escaped)
			}
			l := Classify(1, got)
			if got != tt.line && l.Kind != KindText {
				t.Errorf("Classify(%q).Kind = %s, want text", got, l.Kind)
			}
			if l.Raw != tt.line {
				t.Errorf("Classify(%q).Raw = %q, want %q", got, l.Raw, tt.line)
			}
		})
	}
}
