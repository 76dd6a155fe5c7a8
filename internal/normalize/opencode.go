package normalize

import "github.com/agentflow/agentflow/internal/model"

// normalizeOpenCode handles opencode's two dialects in one dispatch: the
// hook-style payloads (session.created, session.idle, message.updated,
// message.part.updated) and the jsonl-style payloads (step_start,
// step_finish, text, tool_use).
func normalizeOpenCode(sessionID string, payload raw) model.Event {
	e := baseEvent(model.SourceOpenCode, sessionID, payload)

	evType, _ := payload["type"].(string)
	switch evType {
	case "session.created":
		e.Category = model.CategorySession
		e.Type = "session.start"
		return e

	case "session.idle":
		e.Category = model.CategorySession
		e.Type = "session.end"
		return e

	case "message.updated":
		return openCodeMessageUpdated(e, payload)

	case "message.part.updated":
		return openCodePartUpdated(e, payload)

	case "step_start":
		e.Category = model.CategorySystem
		e.Type = "turn.start"
		return e

	case "step_finish":
		e.Category = model.CategorySession
		e.Type = "session.end"
		return e

	case "text":
		e.Category = model.CategoryMessage
		e.Type = roleToMessageType(openCodeRole(payload))
		e.Role = openCodeRole(payload)
		e.Text = firstString(payload, "text", "content")
		return e

	case "tool_use":
		return openCodeToolUse(e, payload)
	}

	return catchAll(model.SourceOpenCode, sessionID, payload)
}

// openCodeRole reads the "_role" field first (internal convention), falling
// back to "role".
func openCodeRole(payload raw) model.Role {
	r := firstString(payload, "_role", "role")
	switch r {
	case "assistant":
		return model.RoleAssistant
	case "system":
		return model.RoleSystem
	default:
		return model.RoleUser
	}
}

func roleToMessageType(r model.Role) string {
	if r == model.RoleAssistant {
		return "message.assistant"
	}
	return "message.user"
}

func openCodeMessageUpdated(e model.Event, payload raw) model.Event {
	part, _ := payload["part"].(map[string]any)
	if part == nil {
		e.Category = model.CategorySystem
		e.Type = "message.updated"
		e.Meta = map[string]any{"rawEvent": payload}
		return e
	}

	partType, _ := part["type"].(string)
	if partType != "text" {
		e.Category = model.CategorySystem
		e.Type = "message.updated"
		e.Meta = map[string]any{"rawEvent": payload}
		return e
	}

	role := openCodeRole(part)
	e.Category = model.CategoryMessage
	e.Type = roleToMessageType(role)
	e.Role = role
	e.Text = firstString(part, "text", "content")
	return e
}

func openCodePartUpdated(e model.Event, payload raw) model.Event {
	part, _ := payload["part"].(map[string]any)
	if part == nil {
		e.Category = model.CategorySystem
		e.Type = "message.part.updated"
		e.Meta = map[string]any{"rawEvent": payload}
		return e
	}

	switch partType, _ := part["type"].(string); partType {
	case "text":
		role := openCodeRole(part)
		e.Category = model.CategoryMessage
		e.Type = roleToMessageType(role)
		e.Role = role
		e.Text = firstString(part, "text", "content")
		return e

	case "tool":
		state, _ := part["state"].(map[string]any)
		status, _ := state["status"].(string)
		e.ToolName, _ = part["tool"].(string)
		switch status {
		case "running":
			e.Category = model.CategoryTool
			e.Type = "tool.start"
			e.ToolInput = state["input"]
			return e
		case "completed":
			e.Category = model.CategoryTool
			e.Type = "tool.end"
			e.ToolOutput = state["output"]
			return e
		}
	}

	e.Category = model.CategorySystem
	e.Type = "message.part.updated"
	e.Meta = map[string]any{"rawEvent": payload}
	return e
}

func openCodeToolUse(e model.Event, payload raw) model.Event {
	e.Category = model.CategoryTool
	e.ToolName = firstString(payload, "tool_name", "name")
	if status, _ := payload["status"].(string); status == "completed" || payload["output"] != nil {
		e.Type = "tool.end"
		e.ToolOutput = payload["output"]
		return e
	}
	e.Type = "tool.start"
	e.ToolInput = payload["input"]
	return e
}
