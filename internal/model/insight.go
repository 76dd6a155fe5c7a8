package model

import "time"

// InsightPhase is the refinement state of an Insight.
type InsightPhase string

const (
	PhasePreliminary  InsightPhase = "preliminary"
	PhaseRefined      InsightPhase = "refined"
	PhaseFinalNoAnswers InsightPhase = "final-no-answers"
)

// Priority ranks a FollowUpAction.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ActionCategory buckets a FollowUpAction.
type ActionCategory string

const (
	ActionTooling  ActionCategory = "tooling"
	ActionWorkflow ActionCategory = "workflow"
	ActionKnowledge ActionCategory = "knowledge"
	ActionOther    ActionCategory = "other"
)

// FollowUpAction is one actionable suggestion produced by the analyzer.
type FollowUpAction struct {
	Description string         `json:"description"`
	Priority    Priority       `json:"priority"`
	Category    ActionCategory `json:"category"`
}

// TokenUsage records analyzer token consumption for an Insight run.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Question is a follow-up question posed by the analyzer, bridged to the
// user through the question channel and answered asynchronously.
type Question struct {
	ID         string    `json:"id"`
	InsightID  string    `json:"insightId"`
	Text       string    `json:"text"`
	Answer     string    `json:"answer,omitempty"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
}

// Insight is one analysis artifact for a (user, optional repo, window).
type Insight struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	Repo             string           `json:"repo,omitempty"`
	WindowStart      int64            `json:"windowStart"`
	WindowEnd        int64            `json:"windowEnd"`
	Content          string           `json:"content"`
	Categories       []string         `json:"categories,omitempty"`
	FollowUpActions  []FollowUpAction `json:"followUpActions,omitempty"`
	SessionsAnalyzed int              `json:"sessionsAnalyzed"`
	EventsAnalyzed   int              `json:"eventsAnalyzed"`
	Usage            TokenUsage       `json:"usage"`
	Phase            InsightPhase     `json:"phase,omitempty"`
	Round            int              `json:"round"`
	Questions        []Question       `json:"questions,omitempty"`
	AnswersReceived  int              `json:"answersReceived"`
	CreatedAt        int64            `json:"createdAt"`
	UpdatedAt        int64            `json:"updatedAt"`
}

// AnalysisState tracks per-user insight-scheduler progress so repeated runs
// only look at events newer than the last analyzed timestamp.
type AnalysisState struct {
	UserID            string `json:"userId"`
	LastAnalyzedAt    int64  `json:"lastAnalyzedAt"`
	LastEventTimestamp int64 `json:"lastEventTimestamp"`
}
