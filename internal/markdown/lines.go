package markdown

import (
	"regexp"
	"strings"
)

// LineKind tags a classified line.
type LineKind int

const (
	KindBlank LineKind = iota
	KindDocTitle
	KindTaskHeader
	KindSectionHeader
	KindIssueHeader
	KindFence
	KindCheckbox
	KindField
	KindText
)

func (k LineKind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindDocTitle:
		return "doc-title"
	case KindTaskHeader:
		return "task-header"
	case KindSectionHeader:
		return "section-header"
	case KindIssueHeader:
		return "issue-header"
	case KindFence:
		return "fence"
	case KindCheckbox:
		return "checkbox"
	case KindField:
		return "field"
	default:
		return "text"
	}
}

// Section is the parser state: which block the current line belongs to.
type Section int

const (
	SectionNone Section = iota
	SectionTimeline
	SectionRelated
	SectionNotes
	SectionMeta
	SectionAcceptance
	SectionIssues
	SectionResponses
	SectionReviews
)

var sectionNames = map[string]Section{
	"timeline":   SectionTimeline,
	"related":    SectionRelated,
	"notes":      SectionNotes,
	"meta":       SectionMeta,
	"acceptance": SectionAcceptance,
	"issues":     SectionIssues,
	"responses":  SectionResponses,
	"reviews":    SectionReviews,
}

func (s Section) String() string {
	for name, v := range sectionNames {
		if v == s {
			return name
		}
	}
	return "none"
}

// Line is one classified source line. Only the fields relevant to Kind are
// set.
type Line struct {
	No       int
	Kind     LineKind
	Raw      string
	Indented bool

	// KindTaskHeader
	Level int
	ID    string
	Title string
	Attrs string

	// KindSectionHeader
	Section Section

	// KindField and KindIssueHeader (Value holds the issue title)
	Key   string
	Value string
	Bold  bool

	// KindCheckbox (Value holds the text after the box)
	Checked bool
}

var (
	taskHeaderRe    = regexp.MustCompile(`^(#{2,3})\s+\[([^\]\n]+)\]\s*(.*)$`)
	docTitleRe      = regexp.MustCompile(`^#\s+\S`)
	sectionHeaderRe = regexp.MustCompile(`(?i)^(#{2,5}\s+)?(?:\*\*)?(timeline|related|notes|meta|acceptance|issues|responses|reviews)(?:\*\*)?\s*(:?)\s*(?:\*\*)?\s*(:?)\s*$`)
	issueHeaderRe   = regexp.MustCompile(`(?i)^#{3,5}\s+issue\s*#?\s*\d*\s*:\s*(.+?)\s*$`)
	fenceRe         = regexp.MustCompile("^\\s*(```|~~~)")
	checkboxRe      = regexp.MustCompile(`^\s*[-*]\s+\[( |x|X)\](?:\s+(.*))?$`)
	boldFieldRe     = regexp.MustCompile(`^\s*(?:[-*]\s+)?\*\*([A-Za-z][A-Za-z _]*?)(?::\*\*|\*\*\s*:)\s*(.*)$`)
	plainFieldRe    = regexp.MustCompile(`^\s*(?:[-*]\s+)?([A-Za-z][A-Za-z _]*):\s*(.*)$`)
)

// Classify tags a single line without looking at its neighbours. A line
// written by EscapeLine comes back as KindText with the escape removed.
func Classify(no int, raw string) Line {
	raw = strings.TrimRight(raw, "\r")
	if strings.HasPrefix(raw, `\`) && needsEscape(raw[1:]) {
		return Line{No: no, Raw: raw[1:], Kind: KindText}
	}
	return classify(no, raw)
}

func classify(no int, raw string) Line {
	l := Line{No: no, Raw: raw, Kind: KindText}
	l.Indented = len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t')
	trimmed := strings.TrimSpace(raw)

	if trimmed == "" {
		l.Kind = KindBlank
		return l
	}
	if fenceRe.MatchString(raw) {
		l.Kind = KindFence
		return l
	}
	if !l.Indented {
		if m := taskHeaderRe.FindStringSubmatch(raw); m != nil {
			l.Kind = KindTaskHeader
			l.Level = len(m[1])
			l.ID = strings.TrimSpace(m[2])
			l.Title, l.Attrs = splitAttrs(m[3])
			return l
		}
		if docTitleRe.MatchString(raw) {
			l.Kind = KindDocTitle
			return l
		}
		if m := sectionHeaderRe.FindStringSubmatch(trimmed); m != nil && (m[1] != "" || m[3] != "" || m[4] != "") {
			l.Kind = KindSectionHeader
			l.Section = sectionNames[strings.ToLower(m[2])]
			return l
		}
		if m := issueHeaderRe.FindStringSubmatch(raw); m != nil {
			l.Kind = KindIssueHeader
			l.Value = m[1]
			return l
		}
	}
	if m := checkboxRe.FindStringSubmatch(raw); m != nil {
		l.Kind = KindCheckbox
		l.Checked = m[1] != " "
		l.Value = strings.TrimSpace(m[2])
		return l
	}
	if m := boldFieldRe.FindStringSubmatch(raw); m != nil {
		l.Kind = KindField
		l.Key = strings.ToLower(strings.TrimSpace(m[1]))
		l.Value = strings.TrimSpace(m[2])
		l.Bold = true
		return l
	}
	if m := plainFieldRe.FindStringSubmatch(raw); m != nil {
		l.Kind = KindField
		l.Key = strings.ToLower(strings.TrimSpace(m[1]))
		l.Value = strings.TrimSpace(m[2])
		return l
	}
	return l
}

// splitAttrs separates a trailing {attr: val, ...} block from a header
// title. A title without a closing brace has no attrs.
func splitAttrs(rest string) (title, attrs string) {
	rest = strings.TrimSpace(rest)
	if !strings.HasSuffix(rest, "}") {
		return rest, ""
	}
	open := strings.LastIndex(rest, "{")
	if open < 0 {
		return rest, ""
	}
	return strings.TrimSpace(rest[:open]), strings.TrimSpace(rest[open+1 : len(rest)-1])
}

// EscapeLine prefixes a backslash to a free-text line that would otherwise
// be read back as a task header, a section header or a State line, and to
// any line that already looks like such an escape. Classify undoes it.
func EscapeLine(line string) string {
	if needsEscape(line) {
		return `\` + line
	}
	return line
}

// EscapeText applies EscapeLine to every line of s.
func EscapeText(s string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = EscapeLine(line)
	}
	return strings.Join(lines, "\n")
}

// needsEscape reports whether line, minus any leading backslashes, is
// structural. No structural line starts with a backslash, so stripping them
// all keeps escaping reversible at any depth.
func needsEscape(line string) bool {
	l := classify(0, strings.TrimLeft(line, `\`))
	switch l.Kind {
	case KindTaskHeader, KindSectionHeader:
		return true
	case KindField:
		return l.Key == "state" && !l.Indented
	}
	return false
}
