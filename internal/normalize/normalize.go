// Package normalize translates per-source raw payloads into the canonical
// model.Event. Normalize is a pure function: no I/O, no state.
package normalize

import (
	"fmt"
	"time"

	"github.com/agentflow/agentflow/internal/model"
)

// raw is the shape every producer payload is decoded into before dispatch.
// Producers send arbitrary JSON; callers json.Unmarshal into map[string]any
// and hand it to Normalize.
type raw = map[string]any

// dialect maps a source to its event builder. Kept as a table rather than
// a switch so a new producer is additive.
type dialect func(sessionID string, payload raw) model.Event

var dialects = map[model.Source]dialect{
	model.SourceClaudeCode: normalizeClaudeCode,
	model.SourceCodex:      normalizeCodex,
	model.SourceOpenCode:   normalizeOpenCode,
}

// Normalize dispatches raw on source and returns the canonical Event.
// Unknown sources fall back to the same catch-all behavior as an unknown
// event within a known source: a "system" event carrying the raw payload.
func Normalize(source model.Source, sessionID string, payload map[string]any) model.Event {
	fn, ok := dialects[source]
	if !ok {
		return catchAll(source, sessionID, payload)
	}
	e := fn(sessionID, payload)
	e.ToolOutput = Truncate(e.ToolOutput)
	return e
}

func baseEvent(source model.Source, sessionID string, payload raw) model.Event {
	return model.Event{
		SessionID: sessionID,
		Timestamp: extractTimestamp(payload),
		Source:    source,
	}
}

// extractTimestamp reads payload["timestamp"] if numeric, else uses now.
func extractTimestamp(payload raw) int64 {
	if v, ok := payload["timestamp"]; ok {
		switch t := v.(type) {
		case float64:
			return int64(t)
		case int64:
			return t
		case int:
			return int64(t)
		}
	}
	return time.Now().UnixMilli()
}

func catchAll(source model.Source, sessionID string, payload raw) model.Event {
	e := baseEvent(source, sessionID, payload)
	e.Category = model.CategorySystem
	e.Type = fmt.Sprintf("%v", firstNonNil(payload["type"], payload["hook_event_name"], "unknown"))
	e.Meta = map[string]any{"rawEvent": payload}
	return e
}

// firstNonNil returns the first non-nil, non-empty-string argument.
func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return v
	}
	return nil
}

func firstString(payload raw, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
