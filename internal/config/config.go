// Package config loads agentflow's environment-driven configuration plus the
// optional JSONC file that configures the insight/cron analyzer model stack.
package config

import "time"

// Config is the root configuration for the agentflow service.
type Config struct {
	// Port is the HTTP/realtime listen port. Env: PORT (default 3333).
	Port int `json:"-"`
	// DBPath is the sqlite database file path. Env: AGENT_FLOW_DB.
	DBPath string `json:"-"`
	// BetterAuthSecret signs/verifies session cookies minted by the external
	// identity provider. Env: BETTER_AUTH_SECRET. Nothing in this repository
	// reads it: the in-repo auth.InMemoryVerifier admits cookies without it.
	BetterAuthSecret string `json:"-"`
	// AllowedEmailDomains restricts sign-up/invite redemption. Env:
	// ALLOWED_EMAIL_DOMAINS (comma list).
	AllowedEmailDomains []string `json:"-"`
	// PublicURL is the public origin for external adapters. Env:
	// AGENT_FLOW_URL. Nothing in this repository reads it: the /setup/hook.sh
	// generator derives its origin from the request headers and the listen port.
	PublicURL string `json:"-"`

	Events  EventsConfig  `json:"events"`
	Models  ModelsConfig  `json:"models"`
	Insight InsightConfig `json:"insight"`
	Cron    CronConfig    `json:"cron"`
}

// EventsConfig tunes the in-process pub/sub bus.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"` // per-subscriber channel depth
}

// ModelsConfig configures the analyzer model stack used by the insight
// scheduler and cron runner.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider backing the Analyzer.
type ProviderConfig struct {
	Driver        string         `json:"driver"` // "anthropic" | "openai" | "ollama" | "mistral"
	Model         string         `json:"model"`
	BaseURL       string         `json:"base_url,omitempty"`
	Auth          AuthConfig     `json:"auth"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	ContextWindow int            `json:"context_window,omitempty"`
	MaxConcurrent int            `json:"max_concurrent,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Tier          string         `json:"tier,omitempty"`
	Timeout       Duration       `json:"timeout,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution for a model provider.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // direct key or ${{ .Env.VAR }} template
	Token  string `json:"token,omitempty"`
}

// InsightConfig tunes the periodic insight-analysis scheduler (C8).
type InsightConfig struct {
	Cadence        Duration `json:"cadence"`         // default: 5h
	EventThreshold int      `json:"event_threshold"` // min new events to trigger a run, default 5
	MaxRounds      int      `json:"max_rounds"`       // max refinement rounds, default 3
	// DisableQuestionChannel turns off posting follow-up questions to the
	// question bus topic and tracking their answers. When true, an insight
	// with questions is persisted as final-no-answers instead of
	// preliminary (§4.8 step 5's "no channel" branch). Default false
	// (channel enabled) — a zero Config value keeps the channel on. The
	// channel is only available when a QuestionChannel is wired into the
	// scheduler; the serve command wires none, so there it is always off.
	DisableQuestionChannel bool `json:"disable_question_channel"`
}

// CronConfig tunes the user-defined cron job runner (C9).
type CronConfig struct {
	MaxToolIterations int `json:"max_tool_iterations"` // default 15
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
