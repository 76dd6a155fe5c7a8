// Package ingest implements C4: the authenticated HTTP endpoint that
// validates, normalizes, persists, and publishes incoming agent events.
// Routing follows the teacher's internal/gateway/server.go chi conventions.
package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/agentflow/agentflow/internal/auth"
	"github.com/agentflow/agentflow/internal/bus"
	"github.com/agentflow/agentflow/internal/httpapi"
	"github.com/agentflow/agentflow/internal/model"
	"github.com/agentflow/agentflow/internal/normalize"
	"github.com/agentflow/agentflow/internal/store"
)

// Store is the subset of *store.Store the ingest handler needs.
type Store interface {
	Append(e model.Event) (model.Event, error)
	UpdateSessionMeta(id string, patch map[string]any) error
	SetSessionUser(id, userID string) error
}

// Bus is the subset of *bus.Bus the ingest handler needs.
type Bus interface {
	Publish(topic string, data any)
}

// Handler serves POST /api/ingest.
type Handler struct {
	Store Store
	Bus   Bus
}

// New constructs a Handler.
func New(s Store, b Bus) *Handler {
	return &Handler{Store: s, Bus: b}
}

type ingestRequest struct {
	Source    string         `json:"source"`
	SessionID string         `json:"sessionId"`
	Event     map[string]any `json:"event"`
	User      map[string]any `json:"user,omitempty"`
	Git       map[string]any `json:"git,omitempty"`
}

type ingestResponse struct {
	OK      bool   `json:"ok"`
	EventID string `json:"eventId"`
}

// sessionSummary is the shape published on the global topic after each
// append, so subscribers without a per-session subscription can still keep
// a live session list (§4.3).
type sessionSummary struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ServeHTTP implements the §4.4 eight-step contract.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.Validation(w, "malformed request body")
		return
	}
	// Step 1: required fields.
	if req.Source == "" || req.SessionID == "" || req.Event == nil {
		httpapi.Validation(w, "source, sessionId, and event are required")
		return
	}

	source := model.Source(req.Source)

	// Step 3: claude-code Stop transcript-splice quirk.
	if source == model.SourceClaudeCode {
		spliceTranscript(req.Event)
	}

	// Step 4: normalize.
	event := normalize.Normalize(source, req.SessionID, req.Event)

	// Step 5: persist.
	event, err := h.Store.Append(event)
	if err != nil {
		httpapi.Storage(w, err)
		return
	}

	// Step 6 (attribution): the session belongs to whichever principal
	// authenticated this ingest, first write wins.
	if principal, ok := auth.FromContext(r.Context()); ok && principal.UserID != "" {
		if err := h.Store.SetSessionUser(req.SessionID, principal.UserID); err != nil {
			slog.Error("ingest: set session user", "error", err, "sessionId", req.SessionID)
		}
	}

	// Step 6: optional metadata merge.
	if len(req.User) > 0 {
		if err := h.Store.UpdateSessionMeta(req.SessionID, map[string]any{"user": req.User}); err != nil && err != store.ErrNotFound {
			slog.Error("ingest: update user metadata", "error", err, "sessionId", req.SessionID)
		}
	}
	if len(req.Git) > 0 {
		if err := h.Store.UpdateSessionMeta(req.SessionID, map[string]any{"git": req.Git}); err != nil && err != store.ErrNotFound {
			slog.Error("ingest: update git metadata", "error", err, "sessionId", req.SessionID)
		}
	}

	// Step 7: fan out.
	h.Bus.Publish(bus.SessionTopic(req.SessionID), event)
	h.Bus.Publish(bus.GlobalTopic, sessionSummary{Type: "session:update", SessionID: req.SessionID})

	// Step 8: respond.
	httpapi.WriteJSON(w, http.StatusOK, ingestResponse{OK: true, EventID: event.ID})
}

// spliceTranscript implements the claude-code Stop quirk (§4.4 step 3):
// when a Stop hook arrives with no result but a transcript_path, read the
// transcript file and splice the latest assistant turn's text into
// event.result. Any failure is silently ignored; the event is still
// processed with whatever result it already had.
func spliceTranscript(event map[string]any) {
	if event["hook_event_name"] != "Stop" {
		return
	}
	if _, hasResult := event["result"]; hasResult {
		return
	}
	path, _ := event["transcript_path"].(string)
	if path == "" {
		return
	}

	text, err := latestAssistantTurn(path)
	if err != nil || text == "" {
		return
	}
	event["result"] = text
}

// transcriptCap bounds how much of a transcript file is read, per
// SPEC_FULL.md's resolution of the open question on unbounded transcript
// size: truncate from the head, keeping the tail (the most recent turns).
const transcriptCap = 2 * 1024 * 1024

// latestAssistantTurn reads a JSONL transcript file and returns the text of
// the last line whose role is "assistant".
func latestAssistantTurn(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > transcriptCap {
		data = data[len(data)-transcriptCap:]
	}

	var lastText string
	for _, line := range splitLines(data) {
		var entry struct {
			Role    string `json:"role"`
			Type    string `json:"type"`
			Message struct {
				Role    string `json:"role"`
				Content any    `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		role := entry.Role
		content := entry.Message.Content
		if role == "" {
			role = entry.Message.Role
		}
		if role != "assistant" {
			continue
		}
		if text := flattenContent(content); text != "" {
			lastText = text
		}
	}
	return lastText, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// flattenContent handles both the plain-string and the block-array content
// shapes used by assistant transcript turns.
func flattenContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, block := range v {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == "text" {
				if s, ok := m["text"].(string); ok {
					out += s
				}
			}
		}
		return out
	default:
		return ""
	}
}
