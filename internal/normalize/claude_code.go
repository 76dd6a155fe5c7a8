package normalize

import "github.com/agentflow/agentflow/internal/model"

// normalizeClaudeCode dispatches on hook_event_name.
func normalizeClaudeCode(sessionID string, payload raw) model.Event {
	e := baseEvent(model.SourceClaudeCode, sessionID, payload)

	hook, _ := payload["hook_event_name"].(string)
	switch hook {
	case "SessionStart":
		e.Category = model.CategorySession
		e.Type = "session.start"

	case "UserPromptSubmit":
		e.Category = model.CategoryMessage
		e.Type = "message.user"
		e.Role = model.RoleUser
		e.Text = firstString(payload, "user_message", "message", "text", "prompt")

	case "PreToolUse":
		e.Category = model.CategoryTool
		e.Type = "tool.start"
		e.ToolName, _ = payload["tool_name"].(string)
		e.ToolInput = payload["tool_input"]

	case "PostToolUse":
		e.Category = model.CategoryTool
		e.Type = "tool.end"
		e.ToolName, _ = payload["tool_name"].(string)
		e.ToolOutput = firstNonNil(payload["tool_response"], payload["tool_output"])

	case "Stop":
		e.Category = model.CategoryMessage
		e.Type = "message.assistant"
		e.Role = model.RoleAssistant
		e.Text = firstString(payload, "result", "response")
		if reason, ok := payload["stop_reason"]; ok {
			e.Meta = map[string]any{"stop_reason": reason}
		}

	case "SessionEnd":
		e.Category = model.CategorySession
		e.Type = "session.end"

	case "Error":
		e.Category = model.CategoryError
		e.Type = "error"
		e.Error = firstString(payload, "error", "message")

	default:
		return catchAll(model.SourceClaudeCode, sessionID, payload)
	}

	return e
}
