// Package ui renders command output. Styling is applied only when the
// destination is a terminal, so piped output stays plain text.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer writes styled lines to one destination.
type Printer struct {
	w        io.Writer
	renderer *lipgloss.Renderer

	title   lipgloss.Style
	key     lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
	header  lipgloss.Style
}

// NewPrinter creates a Printer for w. Colors are enabled only when w is a
// terminal and NO_COLOR is unset.
func NewPrinter(w io.Writer) *Printer {
	return newPrinter(w, IsTerminal(w) && os.Getenv("NO_COLOR") == "")
}

func newPrinter(w io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{
		w:        w,
		renderer: r,
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("62")),
		key:      r.NewStyle().Foreground(lipgloss.Color("245")),
		muted:    r.NewStyle().Foreground(lipgloss.Color("241")),
		success:  r.NewStyle().Foreground(lipgloss.Color("46")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("226")),
		failure:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		header:   r.NewStyle().Bold(true).Underline(true),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Title prints a heading.
func (p *Printer) Title(s string) {
	fmt.Fprintln(p.w, p.title.Render(s))
}

// Fields prints aligned "key: value" lines in the given order.
func (p *Printer) Fields(pairs ...[2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		key := fmt.Sprintf("%-*s", width+1, kv[0]+":")
		fmt.Fprintf(p.w, "  %s %s\n", p.key.Render(key), kv[1])
	}
}

// Table prints rows under headers with columns padded to the widest cell.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = p.header.Render(pad(h, widths[i]))
	}
	fmt.Fprintln(p.w, strings.TrimRight(strings.Join(cells, "  "), " "))

	for _, row := range rows {
		cells = cells[:0]
		for i := range headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells = append(cells, pad(cell, widths[i]))
		}
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.success.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.warn.Render("! "+fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.w, p.failure.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Muted renders s in a dim style without printing it.
func (p *Printer) Muted(s string) string {
	return p.muted.Render(s)
}

// Println prints s unstyled.
func (p *Printer) Println(s string) {
	fmt.Fprintln(p.w, s)
}
