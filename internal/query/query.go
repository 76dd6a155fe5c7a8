// Package query implements C5: the read/admin surface over sessions —
// list, fetch-with-events, delete, purge, and the hook-script download —
// routed with the same go-chi/chi/v5 router as C4.
package query

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentflow/agentflow/internal/auth"
	"github.com/agentflow/agentflow/internal/bus"
	"github.com/agentflow/agentflow/internal/httpapi"
	"github.com/agentflow/agentflow/internal/model"
	"github.com/agentflow/agentflow/internal/store"
)

// Store is the subset of *store.Store the query handlers need.
type Store interface {
	ListSessions() ([]model.Session, error)
	GetSession(id string) (model.Session, error)
	GetSessionEvents(id string) ([]model.Event, error)
	DeleteSession(id string) error
	ClearAll() error

	ListInsights(userID string) ([]model.Insight, error)
	GetInsight(id string) (model.Insight, error)
	AnswerQuestion(questionID, answer string) error
}

// Bus is the subset of *bus.Bus the query handlers need.
type Bus interface {
	Publish(topic string, data any)
}

// Handler groups the C5 routes. Port is embedded so /setup/hook.sh can fall
// back to a localhost URL when neither forwarding headers nor a Host header
// are present.
type Handler struct {
	Store Store
	Bus   Bus
	Port  int
}

// New constructs a Handler.
func New(s Store, b Bus, port int) *Handler {
	return &Handler{Store: s, Bus: b, Port: port}
}

// Mount registers every C5 route (and the public /health check) on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/setup/hook.sh", h.HookScript)
	r.Get("/api/sessions", h.ListSessions)
	r.Get("/api/sessions/{id}", h.GetSession)
	r.Delete("/api/sessions/{id}", h.DeleteSession)
	r.Delete("/api/sessions", h.ClearSessions)

	r.Get("/api/insights", h.ListInsights)
	r.Get("/api/insights/{id}", h.GetInsight)
	r.Post("/api/insights/{id}/questions/{questionId}/answer", h.AnswerQuestion)
}

// Health answers the public, unauthenticated liveness check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListSessions serves GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Store.ListSessions()
	if err != nil {
		httpapi.Storage(w, err)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	httpapi.WriteJSON(w, http.StatusOK, sessions)
}

// sessionWithEvents is the GET /api/sessions/:id response shape (§4.5:
// "Session merged with events: [...]").
type sessionWithEvents struct {
	model.Session
	Events []model.Event `json:"events"`
}

// GetSession serves GET /api/sessions/:id.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.Store.GetSession(id)
	if err == store.ErrNotFound {
		httpapi.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httpapi.Storage(w, err)
		return
	}

	events, err := h.Store.GetSessionEvents(id)
	if err != nil {
		httpapi.Storage(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	httpapi.WriteJSON(w, http.StatusOK, sessionWithEvents{Session: sess, Events: events})
}

// DeleteSession serves DELETE /api/sessions/:id.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.Store.DeleteSession(id)
	if err == store.ErrNotFound {
		httpapi.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httpapi.Storage(w, err)
		return
	}

	h.Bus.Publish(bus.GlobalTopic, map[string]string{"type": "session:deleted", "sessionId": id})
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ClearSessions serves DELETE /api/sessions.
func (h *Handler) ClearSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.ClearAll(); err != nil {
		httpapi.Storage(w, err)
		return
	}
	h.Bus.Publish(bus.GlobalTopic, map[string]string{"type": "sessions:cleared"})
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListInsights serves GET /api/insights, scoped to the calling principal:
// insights belong to the user whose sessions produced them, never a global
// feed.
func (h *Handler) ListInsights(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		httpapi.Unauthorized(w)
		return
	}

	insights, err := h.Store.ListInsights(principal.UserID)
	if err != nil {
		httpapi.Storage(w, err)
		return
	}
	if insights == nil {
		insights = []model.Insight{}
	}
	httpapi.WriteJSON(w, http.StatusOK, insights)
}

// GetInsight serves GET /api/insights/:id.
func (h *Handler) GetInsight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	in, err := h.Store.GetInsight(id)
	if err == store.ErrNotFound {
		httpapi.NotFound(w, "insight not found")
		return
	}
	if err != nil {
		httpapi.Storage(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, in)
}

// answerRequest is the POST /api/insights/:id/questions/:questionId/answer
// body.
type answerRequest struct {
	Answer string `json:"answer"`
}

// AnswerQuestion serves POST /api/insights/:id/questions/:questionId/answer:
// the concrete producer for the "thread:ready" signal the insight scheduler
// waits on (§4.8 step 7). The question channel itself (Slack thread, chat
// reply, whatever fields the question back to a human) is an external
// collaborator; this route is the one fixed seam every channel adapter
// funnels through before the scheduler ever sees an answer.
func (h *Handler) AnswerQuestion(w http.ResponseWriter, r *http.Request) {
	insightID := chi.URLParam(r, "id")
	questionID := chi.URLParam(r, "questionId")

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.Validation(w, "invalid JSON body")
		return
	}
	if req.Answer == "" {
		httpapi.Validation(w, "answer is required")
		return
	}

	if err := h.Store.AnswerQuestion(questionID, req.Answer); err == store.ErrNotFound {
		httpapi.NotFound(w, "question not found")
		return
	} else if err != nil {
		httpapi.Storage(w, err)
		return
	}

	h.Bus.Publish(bus.ThreadReadyTopic, bus.ThreadReadyMessage{
		InsightID:  insightID,
		QuestionID: questionID,
		Answer:     req.Answer,
	})
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HookScript serves GET /setup/hook.sh: a shell script hard-coding the
// current public origin, derived from forwarding headers, then the Host
// header, and falling back to a localhost URL built from the server's own
// port (§4.5).
func (h *Handler) HookScript(w http.ResponseWriter, r *http.Request) {
	origin := publicOrigin(r, h.Port)

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", `attachment; filename="hook.sh"`)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, hookScriptTemplate, origin)
}

func publicOrigin(r *http.Request, port int) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if proto != "" && host != "" {
		return proto + "://" + host
	}
	if host != "" {
		return "http://" + host
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

const hookScriptTemplate = `#!/usr/bin/env bash
# agentflow ingest hook — forwards hook payloads from an agent CLI to the
# configured agentflow server.
set -euo pipefail

AGENT_FLOW_URL="%s"

payload="$(cat)"
curl -sS -X POST "$AGENT_FLOW_URL/api/ingest" \
  -H "Content-Type: application/json" \
  -H "x-api-key: ${AGENT_FLOW_API_KEY:-}" \
  -d "$payload"
`
