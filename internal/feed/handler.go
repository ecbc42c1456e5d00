package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Mschirtzinger/todomd/internal/markdown"
	"github.com/Mschirtzinger/todomd/internal/schema"
	"github.com/Mschirtzinger/todomd/internal/sections"
	"github.com/Mschirtzinger/todomd/internal/store"
)

// ChangesResponse is the body of GET /changes.
type ChangesResponse struct {
	Changes []schema.ChangeEvent `json:"changes"`
	// Next is the cursor to pass as since on the following poll.
	Next int64 `json:"next"`
}

// PatchRequest is the body of PATCH /sections/{name}.
type PatchRequest struct {
	BaseSHA256 string        `json:"base_sha256"`
	Ops        []sections.Op `json:"ops"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var errSectionsDisabled = errors.New("sections are not enabled")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status code with store.Code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := store.Code(err)
	if code == http.StatusInternalServerError {
		s.logger.Printf("Request failed: %v", err)
	}
	writeJSON(w, code, ErrorResponse{Code: code, Message: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	live, archived, err := s.st.Count(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	seq, err := s.st.LatestSeq(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"clients":    s.ClientCount(),
		"tasks":      live,
		"archived":   archived,
		"latest_seq": seq,
	})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	since, err := intParam(r, "since")
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, err)
		return
	}

	changes, err := s.st.Poll(r.Context(), since, int(limit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := ChangesResponse{Changes: changes, Next: since}
	if resp.Changes == nil {
		resp.Changes = []schema.ChangeEvent{}
	}
	if n := len(changes); n > 0 {
		resp.Next = changes[n-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", store.ErrInvalidOperation, name)
	}
	return v, nil
}

func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) {
	if s.config.Sections == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: http.StatusNotFound, Message: errSectionsDisabled.Error()})
		return
	}
	snap, err := s.config.Sections.Get(r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePatchSection(w http.ResponseWriter, r *http.Request) {
	if s.config.Sections == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: http.StatusNotFound, Message: errSectionsDisabled.Error()})
		return
	}
	var req PatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", store.ErrInvalidOperation, err))
		return
	}
	snap, err := s.config.Sections.Patch(r.Context(), r.PathValue("name"), req.BaseSHA256, req.Ops)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.config.Syncer == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: http.StatusNotFound, Message: "git sync is not enabled"})
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual"
	}
	out, err := s.config.Syncer.ForceSync(r.Context(), reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if data, err := json.Marshal(out); err == nil {
		s.Broadcast(Message{Type: MessageTypeSync, Data: data})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLastSync(w http.ResponseWriter, r *http.Request) {
	if s.config.Syncer == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: http.StatusNotFound, Message: "git sync is not enabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.config.Syncer.LastOutcome())
}

var previewMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var previewPage = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>TODO</title>
</head>
<body>
{{.Body}}
<hr>
<p>Live feed: <code>ws://{{.Host}}/ws</code> &middot; <a href="/health">health</a> &middot; <a href="/changes">changes</a></p>
</body>
</html>`))

// handlePreview renders the current document as HTML.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	doc, err := markdown.ExportString(r.Context(), s.st, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body bytes.Buffer
	if err := previewMarkdown.Convert([]byte(doc), &body); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = previewPage.Execute(w, map[string]any{
		"Body": template.HTML(body.String()), //nolint:gosec // goldmark escapes raw HTML by default
		"Host": r.Host,
	})
}
