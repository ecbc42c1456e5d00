package markdown

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Mschirtzinger/todomd/internal/schema"
)

// Warning records a fragment that was skipped during parsing.
type Warning struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Message)
}

// TaskBlock is everything the parser collected for one task header.
type TaskBlock struct {
	Line     int
	Level    int
	ID       string
	Title    string
	ParentID string
	Attrs    map[string]string
	Due      *time.Time

	// Done is set by the first checkbox line of the body.
	Done *bool
	// StateLine is the value of a "State:" body line.
	StateLine string
	Text      string

	Timeline   []schema.TimelineEntry
	Related    []schema.RelatedLink
	Notes      *string
	Meta       map[string]any
	Acceptance *string

	Issues   []*IssueBlock
	Reviews  []schema.Review
	Comments []schema.Comment
}

// IssueBlock is one parsed issue with its responses. Issue.ID and
// Issue.TaskID are not set by the parser.
type IssueBlock struct {
	Line      int
	Issue     schema.Issue
	Responses []schema.IssueResponse
}

var (
	timelineRe = regexp.MustCompile(`^[-*]\s+(\S+)\s+by\s+(\S+?):\s+(.+)$`)

	relatedDerivedRe = regexp.MustCompile(`^[-*]\s+\[(?:Requirements|TestCases)\]\(`)
	relatedURLRe     = regexp.MustCompile(`^[-*]\s+(https?://\S+)\s*$`)
	relatedIDRe      = regexp.MustCompile(`^[-*]\s+\[([^\]]+)\]\s*(.*)$`)

	responseRe      = regexp.MustCompile(`^[-*]\s+(\S+)\s+by\s+([^\s:()]+)((?:\s*\([A-Za-z_]+\))*)\s*:\s*(.*)$`)
	responseParenRe = regexp.MustCompile(`\(([A-Za-z_]+)\)`)
	quotedTailRe    = regexp.MustCompile(`^("(?:[^"\\]|\\.)*")(\s+\(internal\))?\s*$`)

	reviewRe  = regexp.MustCompile(`^[-*]\s+review@(\S+)\s+by\s+(\S+)\s+=>\s+([A-Za-z_]+)(?:\s+(.*))?$`)
	commentRe = regexp.MustCompile(`^[-*]\s+comment@(\S+)\s+by\s+(\S+?):\s+(.*)$`)
)

var issuePriorities = map[string]bool{
	schema.PriorityLow:      true,
	schema.PriorityMedium:   true,
	schema.PriorityHigh:     true,
	schema.PriorityCritical: true,
}

// Parse reads a whole document and hands each completed task block to
// sink, in document order. A sink error stops parsing and is returned.
func Parse(r io.Reader, now time.Time, sink func(*TaskBlock) error) ([]Warning, error) {
	p := &parser{now: now, sink: sink}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	no := 0
	for sc.Scan() {
		no++
		if err := p.feed(Classify(no, sc.Text())); err != nil {
			return p.warnings, err
		}
	}
	if err := sc.Err(); err != nil {
		return p.warnings, fmt.Errorf("failed to read document: %w", err)
	}
	if err := p.flush(); err != nil {
		return p.warnings, err
	}
	return p.warnings, nil
}

// ParseString parses a document held in memory and returns every block.
func ParseString(doc string, now time.Time) ([]*TaskBlock, []Warning) {
	var blocks []*TaskBlock
	warnings, _ := Parse(strings.NewReader(doc), now, func(tb *TaskBlock) error {
		blocks = append(blocks, tb)
		return nil
	})
	return blocks, warnings
}

type parser struct {
	now      time.Time
	sink     func(*TaskBlock) error
	warnings []Warning

	cur     *TaskBlock
	section Section
	lastTop string

	// body state
	text   []string
	sawBox bool

	// buffered sections (notes, meta, acceptance)
	buf      []string
	bufStart int
	inFence  bool

	issue *IssueBlock
}

func (p *parser) warn(line int, format string, args ...any) {
	p.warnings = append(p.warnings, Warning{Line: line, Message: fmt.Sprintf(format, args...)})
}

func (p *parser) feed(l Line) error {
	if p.inFence {
		if l.Kind != KindTaskHeader {
			p.buf = append(p.buf, l.Raw)
			if l.Kind == KindFence {
				p.inFence = false
			}
			return nil
		}
		p.warn(l.No, "task %s: unterminated code fence in %s section", p.cur.ID, p.section)
		p.inFence = false
	}

	switch l.Kind {
	case KindTaskHeader:
		if err := p.flush(); err != nil {
			return err
		}
		p.start(l)
		return nil
	case KindSectionHeader:
		if p.cur == nil {
			p.warn(l.No, "%s section outside any task", l.Section)
			return nil
		}
		p.enter(l)
		return nil
	}

	if p.cur == nil {
		return nil
	}

	switch p.section {
	case SectionNone:
		p.body(l)
	case SectionTimeline:
		p.timelineLine(l)
	case SectionRelated:
		p.relatedLine(l)
	case SectionNotes, SectionMeta, SectionAcceptance:
		p.buf = append(p.buf, l.Raw)
		if l.Kind == KindFence {
			p.inFence = true
		}
	case SectionIssues, SectionResponses:
		p.issueLine(l)
	case SectionReviews:
		p.reviewLine(l)
	}
	return nil
}

func (p *parser) start(l Line) {
	attrs, problems := parseAttrs(l.Attrs)
	for _, msg := range problems {
		p.warn(l.No, "task %s: %s", l.ID, msg)
	}
	tb := &TaskBlock{Line: l.No, Level: l.Level, ID: l.ID, Title: l.Title, Attrs: attrs}

	if due, ok := attrs[AttrDue]; ok && due != "" {
		t, err := parseDue(due, p.now)
		if err != nil {
			p.warn(l.No, "task %s: %v", l.ID, err)
		} else {
			tb.Due = &t
		}
	}

	tb.ParentID = attrs[AttrParent]
	if _, explicit := attrs[AttrParent]; !explicit && tb.Level == schema.LevelSubtask {
		tb.ParentID = p.lastTop
	}
	if tb.Level == schema.LevelTask {
		p.lastTop = tb.ID
	}

	p.cur = tb
	p.section = SectionNone
	p.text = nil
	p.sawBox = false
}

// enter switches sections, closing whatever the previous one held.
func (p *parser) enter(l Line) {
	next := l.Section
	if next == SectionResponses && p.issue == nil {
		p.warn(l.No, "responses without an issue")
	}
	p.close(next)
	p.section = next
	p.bufStart = l.No
}

func (p *parser) close(next Section) {
	switch p.section {
	case SectionNotes:
		s := joinTrimmed(p.buf, false)
		p.cur.Notes = &s
	case SectionAcceptance:
		s := joinTrimmed(p.buf, true)
		p.cur.Acceptance = &s
	case SectionMeta:
		p.closeMeta()
	case SectionIssues, SectionResponses:
		if next != SectionResponses {
			p.finishIssue()
		}
	}
	p.buf = nil
	p.inFence = false
}

func (p *parser) closeMeta() {
	raw := joinTrimmed(p.buf, true)
	if raw == "" {
		return
	}
	body := raw
	if lines := strings.Split(raw, "\n"); fenceRe.MatchString(lines[0]) {
		end := len(lines)
		for i := 1; i < len(lines); i++ {
			if fenceRe.MatchString(lines[i]) {
				end = i
				break
			}
		}
		body = strings.Join(lines[1:end], "\n")
	}
	if strings.TrimSpace(body) == "" {
		return
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		p.warn(p.bufStart, "task %s: meta block is not a JSON object: %v", p.cur.ID, err)
		return
	}
	if p.cur.Meta == nil {
		p.cur.Meta = make(map[string]any, len(obj))
	}
	for k, v := range obj {
		p.cur.Meta[k] = v
	}
}

// flush closes the open task block and hands it to the sink.
func (p *parser) flush() error {
	if p.cur == nil {
		return nil
	}
	p.close(SectionNone)
	p.cur.Text = joinTrimmed(p.text, true)
	tb := p.cur
	p.cur = nil
	p.section = SectionNone
	p.text = nil
	return p.sink(tb)
}

// ===== Body =====

func (p *parser) body(l Line) {
	switch l.Kind {
	case KindBlank:
		if len(p.text) > 0 {
			p.text = append(p.text, "")
		}
		return
	case KindCheckbox:
		if !p.sawBox && len(p.text) == 0 {
			done := l.Checked
			p.cur.Done = &done
			p.sawBox = true
			if l.Value != "" {
				p.text = append(p.text, l.Value)
			}
			return
		}
	case KindField:
		if l.Key == "state" && !l.Indented {
			if l.Value == "" {
				p.warn(l.No, "task %s: empty State line", p.cur.ID)
				return
			}
			p.cur.StateLine = strings.ToUpper(l.Value)
			return
		}
	}
	p.text = append(p.text, l.Raw)
}

// ===== Timeline =====

func (p *parser) timelineLine(l Line) {
	if l.Kind == KindBlank || l.Indented {
		return
	}
	m := timelineRe.FindStringSubmatch(strings.TrimSpace(l.Raw))
	if m == nil {
		p.warn(l.No, "task %s: unrecognized timeline entry %q", p.cur.ID, l.Raw)
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, m[1])
	if err != nil {
		p.warn(l.No, "task %s: bad timeline timestamp %q", p.cur.ID, m[1])
		return
	}
	p.cur.Timeline = append(p.cur.Timeline, schema.TimelineEntry{
		Timestamp: ts.UTC(),
		Actor:     m[2],
		Action:    strings.TrimSpace(m[3]),
	})
}

// ===== Related =====

func (p *parser) relatedLine(l Line) {
	if l.Kind == KindBlank || l.Indented {
		return
	}
	raw := strings.TrimSpace(l.Raw)
	if relatedDerivedRe.MatchString(raw) {
		return
	}
	if link, ok := parseRelated(raw); ok {
		p.cur.Related = append(p.cur.Related, link)
		return
	}
	p.warn(l.No, "task %s: unrecognized related entry %q", p.cur.ID, l.Raw)
}

// parseRelated accepts the four link shapes:
//
//	- [ID] Title: https://url
//	- [ID] Title: description
//	- [ID] Title
//	- https://url
func parseRelated(raw string) (schema.RelatedLink, bool) {
	if m := relatedURLRe.FindStringSubmatch(raw); m != nil {
		return schema.RelatedLink{URL: m[1]}, true
	}
	m := relatedIDRe.FindStringSubmatch(raw)
	if m == nil {
		return schema.RelatedLink{}, false
	}
	link := schema.RelatedLink{ID: strings.TrimSpace(m[1])}
	rest := strings.TrimSpace(m[2])
	title, tail, found := strings.Cut(rest, ": ")
	if !found {
		title, tail, found = strings.Cut(rest, ":")
		if !found || tail != "" {
			link.Title = rest
			return link, true
		}
	}
	link.Title = strings.TrimSpace(title)
	tail = strings.TrimSpace(tail)
	if isURL(tail) {
		link.URL = tail
	} else {
		link.Description = tail
	}
	return link, true
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ===== Issues =====

func (p *parser) finishIssue() {
	if p.issue == nil {
		return
	}
	p.cur.Issues = append(p.cur.Issues, p.issue)
	p.issue = nil
}

func (p *parser) issueLine(l Line) {
	switch l.Kind {
	case KindBlank:
		return
	case KindIssueHeader:
		p.finishIssue()
		p.issue = &IssueBlock{Line: l.No, Issue: schema.Issue{Title: l.Value}}
		p.section = SectionIssues
		return
	case KindField:
		if l.Key == "responses" && l.Value == "" {
			p.section = SectionResponses
			return
		}
		if l.Bold && !l.Indented && issuePriorities[l.Key] && l.Value != "" {
			p.finishIssue()
			p.issue = &IssueBlock{Line: l.No, Issue: schema.Issue{Title: l.Value, Priority: l.Key}}
			p.section = SectionIssues
			return
		}
	}

	if p.section == SectionResponses {
		if ok := p.responseLine(l); ok {
			return
		}
	}
	if l.Kind == KindField && p.issue != nil {
		if err := applyIssueField(&p.issue.Issue, l.Key, l.Value, p.now); err != nil {
			p.warn(l.No, "issue %q: %v", p.issue.Issue.Title, err)
		}
		return
	}
	if p.issue == nil {
		p.warn(l.No, "task %s: issue content before any issue header", p.cur.ID)
		return
	}
	p.warn(l.No, "issue %q: unrecognized line %q", p.issue.Issue.Title, l.Raw)
}

// applyIssueField sets one "Key: value" line on an issue.
func applyIssueField(is *schema.Issue, key, value string, now time.Time) error {
	switch key {
	case "status":
		is.Status = strings.ToLower(value)
	case "priority":
		is.Priority = strings.ToLower(value)
	case "category":
		is.Category = strings.ToLower(value)
	case "severity":
		is.Severity = strings.ToLower(value)
	case "description":
		is.Description = unquote(value)
	case "title":
		is.Title = value
	case "tags":
		is.Tags = parseTags(value)
	case "due":
		t, err := parseDue(value, now)
		if err != nil {
			return err
		}
		is.DueDate = &t
	case "created", "resolved", "closed":
		t, by, err := parseStamp(value)
		if err != nil {
			return err
		}
		switch key {
		case "created":
			is.CreatedAt, is.CreatedBy = t, by
		case "resolved":
			is.ResolvedAt, is.ResolvedBy = &t, by
		case "closed":
			is.ClosedAt, is.ClosedBy = &t, by
		}
	default:
		return fmt.Errorf("unknown field %q", key)
	}
	return nil
}

func parseTags(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// responseLine parses both the quoted form
//
//	- <ts> by <actor> (<type>): "<content>" (internal)
//
// and the loose form "- <ts> by <actor> (internal): content". It reports
// whether the line was consumed.
func (p *parser) responseLine(l Line) bool {
	m := responseRe.FindStringSubmatch(strings.TrimSpace(l.Raw))
	if m == nil {
		return false
	}
	ts, err := time.Parse(time.RFC3339Nano, m[1])
	if err != nil {
		return false
	}
	if p.issue == nil {
		p.warn(l.No, "task %s: response without an issue", p.cur.ID)
		return true
	}

	r := schema.IssueResponse{CreatedAt: ts.UTC(), CreatedBy: m[2]}
	for _, pm := range responseParenRe.FindAllStringSubmatch(m[3], -1) {
		if strings.EqualFold(pm[1], "internal") {
			r.Internal = true
		} else {
			r.Type = strings.ToLower(pm[1])
		}
	}

	content := strings.TrimSpace(m[4])
	if q := quotedTailRe.FindStringSubmatch(content); q != nil {
		if s, err := strconv.Unquote(q[1]); err == nil {
			content = s
			r.Internal = r.Internal || q[2] != ""
		}
	} else if trimmed, ok := strings.CutSuffix(content, " (internal)"); ok {
		content = strings.TrimSpace(trimmed)
		r.Internal = true
	}
	r.Content = content
	if r.Type == "" {
		r.Type = schema.ResponseComment
	}
	p.issue.Responses = append(p.issue.Responses, r)
	return true
}

// ===== Reviews =====

func (p *parser) reviewLine(l Line) {
	if l.Kind == KindBlank || l.Indented {
		return
	}
	raw := strings.TrimSpace(l.Raw)
	if m := reviewRe.FindStringSubmatch(raw); m != nil {
		at, err := time.Parse(time.RFC3339Nano, m[1])
		if err != nil {
			p.warn(l.No, "task %s: bad review timestamp %q", p.cur.ID, m[1])
			return
		}
		p.cur.Reviews = append(p.cur.Reviews, schema.Review{
			At:       at.UTC(),
			By:       m[2],
			Decision: strings.ToUpper(m[3]),
			Note:     unquote(strings.TrimSpace(m[4])),
		})
		return
	}
	if m := commentRe.FindStringSubmatch(raw); m != nil {
		at, err := time.Parse(time.RFC3339Nano, m[1])
		if err != nil {
			p.warn(l.No, "task %s: bad comment timestamp %q", p.cur.ID, m[1])
			return
		}
		p.cur.Comments = append(p.cur.Comments, schema.Comment{At: at.UTC(), By: m[2], Text: unquote(m[3])})
		return
	}
	p.warn(l.No, "task %s: unrecognized review line %q", p.cur.ID, l.Raw)
}

// ===== Helpers =====

// unquote decodes a Go-quoted string and returns anything else as is.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

// quoteIfNeeded quotes values that would not survive a single-line field.
func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, "\n\r") || strings.HasPrefix(s, `"`) || s != strings.TrimSpace(s) {
		return strconv.Quote(s)
	}
	return s
}

// joinTrimmed joins lines, dropping trailing blank lines and, when
// leading is set, leading ones too.
func joinTrimmed(lines []string, leading bool) string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	start := 0
	if leading {
		for start < end && strings.TrimSpace(lines[start]) == "" {
			start++
		}
	}
	return strings.Join(lines[start:end], "\n")
}
