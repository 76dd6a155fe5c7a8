package models

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/agentflow/agentflow/internal/config"
)

// AuthKind distinguishes between API key and Bearer token auth.
type AuthKind int

const (
	AuthAPIKey AuthKind = iota
	AuthBearerToken
)

// ResolvedAuth holds the resolved credentials and their kind.
type ResolvedAuth struct {
	Kind  AuthKind
	Value string
}

// envTemplateRe matches agentflow's config templating convention,
// "${{ .Env.VAR }}" (see internal/config/loader.go's envTemplateRe). A
// config loaded through config.Load already has these expanded before
// ResolveAuth ever sees cfg.Auth, but callers that build a ProviderConfig
// by hand (tests, for instance) may pass the
// template through unexpanded, so resolution here is the same as the
// loader's, just applied lazily instead of once at load time.
var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// legacyEnvVarRe matches the bare "${VAR}" shorthand some provider configs
// still carry over from the teacher's original convention; kept as an
// additional match so existing deployment configs using the shorter form
// keep resolving.
var legacyEnvVarRe = regexp.MustCompile(`^\$\{(\w+)\}$`)

// resolveEnvToken expands either of agentflow's two env-reference forms; a
// plain literal is returned unchanged.
func resolveEnvToken(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}
	if envTemplateRe.MatchString(trimmed) {
		return envTemplateRe.ReplaceAllStringFunc(trimmed, func(match string) string {
			parts := envTemplateRe.FindStringSubmatch(match)
			if len(parts) < 2 {
				return ""
			}
			return os.Getenv(parts[1])
		})
	}
	if m := legacyEnvVarRe.FindStringSubmatch(trimmed); m != nil {
		return os.Getenv(m[1])
	}
	return trimmed
}

// driverEnvVar is the vendor-native env var agentflow falls back to per
// driver when the config carries no explicit credential.
var driverEnvVar = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
}

// ResolveAuth resolves the credentials for a provider. Resolution order:
// direct token → direct api_key → AGENTFLOW_<DRIVER>_API_KEY (a uniform
// override knob independent of each vendor's own env var name, useful when
// a deployment names its secret differently from the SDK default) →
// driver's native default env var.
func ResolveAuth(cfg config.ProviderConfig) (ResolvedAuth, error) {
	// Direct Bearer token (Claude Code / OAuth)
	if token := resolveEnvToken(cfg.Auth.Token); token != "" {
		return ResolvedAuth{Kind: AuthBearerToken, Value: token}, nil
	}

	// Direct API key from config
	if apiKey := resolveEnvToken(cfg.Auth.APIKey); apiKey != "" {
		return ResolvedAuth{Kind: AuthAPIKey, Value: apiKey}, nil
	}

	driver := strings.ToLower(cfg.Driver)
	nativeEnvVar, known := driverEnvVar[driver]
	if !known {
		return ResolvedAuth{}, fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}

	agentflowEnvVar := "AGENTFLOW_" + strings.ToUpper(driver) + "_API_KEY"
	if key := os.Getenv(agentflowEnvVar); key != "" {
		return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
	}
	if key := os.Getenv(nativeEnvVar); key != "" {
		return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
	}
	return ResolvedAuth{}, fmt.Errorf("%s not set", nativeEnvVar)
}
