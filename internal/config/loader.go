package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads the optional JSONC config file at path (model/insight/cron
// tuning), overlays the top-level fields from the process environment per
// spec.md §6, and applies defaults. A missing config file is not an error:
// env vars alone are enough to run the service.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if data, err := os.ReadFile(path); err == nil {
		expanded := expandEnvTemplates(string(data))
		standard, err := hujson.Standardize([]byte(expanded))
		if err != nil {
			return nil, fmt.Errorf("parse jsonc config: %w", err)
		}
		if err := json.Unmarshal(standard, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	loadEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// loadEnv overlays the environment-driven fields spec.md §6 names.
func loadEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("AGENT_FLOW_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BETTER_AUTH_SECRET"); v != "" {
		cfg.BetterAuthSecret = v
	}
	if v := os.Getenv("ALLOWED_EMAIL_DOMAINS"); v != "" {
		domains := strings.Split(v, ",")
		for i := range domains {
			domains[i] = strings.TrimSpace(domains[i])
		}
		cfg.AllowedEmailDomains = domains
	}
	if v := os.Getenv("AGENT_FLOW_URL"); v != "" {
		cfg.PublicURL = v
	}
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 3333
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "agent-flow.db"
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 256
	}
	if cfg.Insight.Cadence == 0 {
		cfg.Insight.Cadence = Duration(5 * time.Hour)
	}
	if cfg.Insight.EventThreshold == 0 {
		cfg.Insight.EventThreshold = 5
	}
	if cfg.Insight.MaxRounds == 0 {
		cfg.Insight.MaxRounds = 3
	}
	if cfg.Cron.MaxToolIterations == 0 {
		cfg.Cron.MaxToolIterations = 15
	}

	for name, p := range cfg.Models.Providers {
		if p.MaxConcurrent <= 0 {
			p.MaxConcurrent = 1
			cfg.Models.Providers[name] = p
		}
	}
	// Auth resolution is deferred to models.ResolveAuth() at model init time.
}
