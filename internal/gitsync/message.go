package gitsync

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Mschirtzinger/todomd/internal/markdown"
)

// FallbackMessage is committed when the template renders to nothing.
const FallbackMessage = "chore(todos): sync TODO snapshot"

// Sign-off identity used when neither the environment nor git config
// provide one.
const (
	fallbackName  = "todomd"
	fallbackEmail = "todomd@localhost"
)

// TaskRef is a task mentioned in a commit message.
type TaskRef struct {
	ID    string
	Title string
}

// taskRefs lists the top-level tasks of a rendered TODO.md in document
// order. An unreadable file yields no tasks.
func taskRefs(path string) []TaskRef {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var refs []TaskRef
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for no := 1; sc.Scan(); no++ {
		l := markdown.Classify(no, sc.Text())
		if l.Kind == markdown.KindTaskHeader && l.Level == 2 {
			refs = append(refs, TaskRef{ID: l.ID, Title: l.Title})
		}
	}
	return refs
}

// Summary describes the touched tasks in one line.
func Summary(refs []TaskRef) string {
	if len(refs) == 0 {
		return "sync TODO snapshot"
	}
	first := strings.TrimSpace(refs[0].ID + " " + refs[0].Title)
	if len(refs) == 1 {
		return "sync " + first
	}
	return fmt.Sprintf("sync %s +%d", first, len(refs)-1)
}

// RenderMessage fills a commit message template. Trailing whitespace is
// trimmed and an empty result falls back to FallbackMessage.
func RenderMessage(template string, refs []TaskRef, signoff string) string {
	if template == "" {
		template = DefaultMessageTemplate
	}
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	taskIDs := strings.Join(ids, ", ")
	if taskIDs == "" {
		taskIDs = "N/A"
	}

	msg := strings.NewReplacer(
		"{summary}", Summary(refs),
		"{taskIds}", taskIDs,
		"{signoff}", signoff,
	).Replace(template)

	msg = strings.TrimRight(msg, " \t\r\n")
	if strings.TrimSpace(msg) == "" {
		return FallbackMessage
	}
	return msg
}

func (w *Worker) buildMessage(ctx context.Context, refs []TaskRef) string {
	signoff := ""
	if w.config.Signoff {
		signoff = w.resolveSignoff(ctx)
	}
	return RenderMessage(w.config.MessageTemplate, refs, signoff)
}

// resolveSignoff returns the Signed-off-by line. The identity is looked up
// once per worker.
func (w *Worker) resolveSignoff(ctx context.Context) string {
	w.signoffOnce.Do(func() {
		name := w.identity(ctx, "GIT_AUTHOR_NAME", "user.name", fallbackName)
		email := w.identity(ctx, "GIT_AUTHOR_EMAIL", "user.email", fallbackEmail)
		w.signoff = fmt.Sprintf("Signed-off-by: %s <%s>", name, email)
	})
	return w.signoff
}

func (w *Worker) identity(ctx context.Context, env, key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	v, err := w.repo.ConfigGet(ctx, key)
	if err != nil {
		w.config.Logger.Printf("Warning: git config %s: %v", key, err)
	}
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

// splitMessage separates the subject line from the body.
func splitMessage(msg string) (subject, body string) {
	subject, body, _ = strings.Cut(msg, "\n")
	return strings.TrimSpace(subject), strings.TrimSpace(body)
}
