package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	content := `{
	// This is a JSONC comment
	"events": {
		"buffer_size": 512
	},
	"models": {
		"default": "claude",
		"providers": {
			"claude": {
				"driver": "anthropic",
				"model": "claude-sonnet-4-20250514",
				"auth": {
					"api_key": "${{ .Env.ANTHROPIC_API_KEY }}"
				},
				"max_tokens": 4096
			}
		}
	}
}`

	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")
	t.Setenv("PORT", "")
	t.Setenv("AGENT_FLOW_DB", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Events.BufferSize != 512 {
		t.Errorf("expected buffer_size 512, got %d", cfg.Events.BufferSize)
	}
	if cfg.Models.Default != "claude" {
		t.Errorf("expected default claude, got %s", cfg.Models.Default)
	}

	p, ok := cfg.Models.Providers["claude"]
	if !ok {
		t.Fatal("expected claude provider")
	}
	if p.Auth.APIKey != "test-key-123" {
		t.Errorf("expected api_key test-key-123, got %s", p.Auth.APIKey)
	}
	if p.MaxTokens != 4096 {
		t.Errorf("expected max_tokens 4096, got %d", p.MaxTokens)
	}
}

func TestLoad_EnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "8080")
	t.Setenv("AGENT_FLOW_DB", "/tmp/af.db")
	t.Setenv("BETTER_AUTH_SECRET", "shh")
	t.Setenv("ALLOWED_EMAIL_DOMAINS", "example.com, test.org")
	t.Setenv("AGENT_FLOW_URL", "https://agentflow.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.DBPath != "/tmp/af.db" {
		t.Errorf("expected db path override, got %s", cfg.DBPath)
	}
	if cfg.BetterAuthSecret != "shh" {
		t.Errorf("expected secret override, got %s", cfg.BetterAuthSecret)
	}
	if len(cfg.AllowedEmailDomains) != 2 || cfg.AllowedEmailDomains[0] != "example.com" || cfg.AllowedEmailDomains[1] != "test.org" {
		t.Errorf("expected trimmed domain list, got %v", cfg.AllowedEmailDomains)
	}
	if cfg.PublicURL != "https://agentflow.example.com" {
		t.Errorf("expected public URL override, got %s", cfg.PublicURL)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AGENT_FLOW_DB", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 3333 {
		t.Errorf("expected default port 3333, got %d", cfg.Port)
	}
	if cfg.DBPath != "agent-flow.db" {
		t.Errorf("expected default db path, got %s", cfg.DBPath)
	}
	if cfg.Events.BufferSize != 256 {
		t.Errorf("expected default buffer 256, got %d", cfg.Events.BufferSize)
	}
	if cfg.Insight.Cadence.Duration() != 5*time.Hour {
		t.Errorf("expected default cadence 5h, got %s", cfg.Insight.Cadence.Duration())
	}
	if cfg.Insight.EventThreshold != 5 {
		t.Errorf("expected default event threshold 5, got %d", cfg.Insight.EventThreshold)
	}
	if cfg.Insight.MaxRounds != 3 {
		t.Errorf("expected default max rounds 3, got %d", cfg.Insight.MaxRounds)
	}
	if cfg.Cron.MaxToolIterations != 15 {
		t.Errorf("expected default max tool iterations 15, got %d", cfg.Cron.MaxToolIterations)
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}
