package normalize

import "github.com/agentflow/agentflow/internal/model"

// normalizeCodex dispatches on event.type, with a sub-dispatch on
// event.item.type for item.started / item.completed.
func normalizeCodex(sessionID string, payload raw) model.Event {
	e := baseEvent(model.SourceCodex, sessionID, payload)

	evType, _ := payload["type"].(string)
	switch evType {
	case "thread.started":
		e.Category = model.CategorySession
		e.Type = "session.start"
		return e

	case "turn.started":
		e.Category = model.CategorySystem
		e.Type = "turn.start"
		return e

	case "turn.completed":
		e.Category = model.CategorySession
		e.Type = "session.end"
		return e

	case "error":
		e.Category = model.CategoryError
		e.Type = "error"
		e.Error = firstString(payload, "error", "message")
		return e

	case "item.started":
		return codexItemStarted(e, payload)

	case "item.completed":
		return codexItemCompleted(e, payload)
	}

	return catchAll(model.SourceCodex, sessionID, payload)
}

func codexItem(payload raw) raw {
	item, _ := payload["item"].(map[string]any)
	return item
}

func codexItemStarted(e model.Event, payload raw) model.Event {
	item := codexItem(payload)
	itemType, _ := item["type"].(string)

	switch itemType {
	case "command_execution":
		e.Category = model.CategoryTool
		e.Type = "tool.start"
		e.ToolName = "command_execution"
		e.ToolInput = map[string]any{"command": item["command"]}
		return e

	case "file_change":
		e.Category = model.CategoryTool
		e.Type = "tool.start"
		e.ToolName = "file_change"
		e.ToolInput = map[string]any{"file": item["file"], "patch": item["patch"]}
		return e

	case "agent_message":
		e.Category = model.CategoryMessage
		e.Type = "message.assistant"
		e.Role = model.RoleAssistant
		e.Text, _ = item["content"].(string)
		return e
	}

	e.Category = model.CategorySystem
	e.Type = "item.started"
	e.Meta = map[string]any{"rawEvent": payload}
	return e
}

func codexItemCompleted(e model.Event, payload raw) model.Event {
	item := codexItem(payload)
	itemType, _ := item["type"].(string)

	switch itemType {
	case "command_execution", "file_change":
		e.Category = model.CategoryTool
		e.Type = "tool.end"
		e.ToolName = itemType
		e.ToolOutput = firstNonNil(item["output"], item["result"])
		return e
	}

	e.Category = model.CategorySystem
	e.Type = "item.completed"
	e.Meta = map[string]any{"rawEvent": payload}
	return e
}
