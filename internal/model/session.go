package model

import "time"

// SessionStatus is the stored lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
	SessionArchived  SessionStatus = "archived"
)

// StaleTimeout is the inactivity threshold after which an "active" session's
// effective status is reported as "completed" without mutating stored state.
const StaleTimeout = 120 * time.Second

// Session is the grouping entity for a producer-issued conversational run.
type Session struct {
	ID            string         `json:"id"`
	Source        Source         `json:"source"`
	StartTime     int64          `json:"startTime"`
	LastEventTime int64          `json:"lastEventTime"`
	Status        SessionStatus  `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	UserID        string         `json:"userId,omitempty"`

	// Derived fields, computed at read time (never stored).
	EventCount    int    `json:"eventCount"`
	LastEventType string `json:"lastEventType,omitempty"`
	LastEventText string `json:"lastEventText,omitempty"`
}

// EffectiveStatus applies the stale-timeout rule on top of the stored
// status: an "active" session whose LastEventTime is older than
// StaleTimeout is reported as "completed" without mutating stored state.
func (s *Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.Status == SessionActive {
		age := now.Sub(time.UnixMilli(s.LastEventTime))
		if age > StaleTimeout {
			return SessionCompleted
		}
	}
	return s.Status
}

// SessionWithEvents bundles a Session with its full event history, the shape
// returned by GET /api/sessions/:id.
type SessionWithEvents struct {
	Session
	Events []Event `json:"events"`
}
