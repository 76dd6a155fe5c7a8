// Package mcpserver exposes the query surface (C5) as MCP tools so an AI
// coding agent or IDE can pull its own session history and insights over
// stdio, grounded on the teacher's internal/mcp server which wraps its
// plugin tool registry the same way — one mcpsdk.Tool + handler per
// registered capability, registered with server.AddTool.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentflow/agentflow/internal/model"
)

// Store is the subset of *store.Store the MCP tools need.
type Store interface {
	ListSessions() ([]model.Session, error)
	GetSession(id string) (model.Session, error)
	GetSessionEvents(id string) ([]model.Event, error)
	ListInsights(userID string) ([]model.Insight, error)
	GetInsight(id string) (model.Insight, error)
	AnswerQuestion(questionID, answer string) error
}

// New builds an MCP server exposing read/answer tools over s.
func New(s Store, version string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "agentflow",
		Version: version,
	}, nil)

	server.AddTool(&mcpsdk.Tool{
		Name:        "list_sessions",
		Description: "List captured agent sessions, most recent first",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		sessions, err := s.ListSessions()
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(sessions)
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "get_session",
		Description: "Fetch a session and its full event timeline by id",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "string", "description": "session id"}},
			"required":   []string{"id"},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError(err), nil
		}
		sess, err := s.GetSession(args.ID)
		if err != nil {
			return toolError(err), nil
		}
		events, err := s.GetSessionEvents(args.ID)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(struct {
			model.Session
			Events []model.Event `json:"events"`
		}{sess, events})
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "list_insights",
		Description: "List analysis insights for a user",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"userId": map[string]any{"type": "string"}},
			"required":   []string{"userId"},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError(err), nil
		}
		insights, err := s.ListInsights(args.UserID)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(insights)
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "get_insight",
		Description: "Fetch one insight, including its follow-up questions",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
			"required":   []string{"id"},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError(err), nil
		}
		in, err := s.GetInsight(args.ID)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(in)
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "answer_question",
		Description: "Record an answer to a follow-up question an insight raised (stored only; does not start a refinement round)",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"questionId": map[string]any{"type": "string"},
				"answer":     map[string]any{"type": "string"},
			},
			"required": []string{"questionId", "answer"},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct {
			QuestionID string `json:"questionId"`
			Answer     string `json:"answer"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError(err), nil
		}
		if err := s.AnswerQuestion(args.QuestionID, args.Answer); err != nil {
			return toolError(err), nil
		}
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}}}, nil
	})

	return server
}

func toolJSON(v any) (*mcpsdk.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return toolError(err), nil
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}}}, nil
}

func toolError(err error) *mcpsdk.CallToolResult {
	slog.Debug("mcpserver: tool error", "error", err)
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}
