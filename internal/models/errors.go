package models

import (
	"errors"
	"fmt"
	"strings"
)

// Reason is the coarse failure taxonomy an Analyzer call can land in. The
// insight scheduler (§4.8 step 5/7) and cron runner (§4.9) tag their
// insight:error/error events with it so a dashboard can group "the model
// was rate-limited" separately from "the model returned garbage" without
// parsing English error text.
type Reason string

const (
	ReasonAuth          Reason = "auth"
	ReasonRateLimit     Reason = "rate_limit"
	ReasonContextLength Reason = "context_length"
	ReasonNotFound      Reason = "not_found"
	ReasonConnection    Reason = "connection"
	ReasonUnavailable   Reason = "unavailable"
	ReasonUnknown       Reason = "unknown"
)

// Classify maps a raw SDK/transport error to a Reason. Matching is
// substring-based against the lowercased error text because every provider
// (Anthropic, OpenAI, Ollama, Mistral-via-OpenAI) phrases the same failure
// differently and none of eino-ext's provider wrappers expose a typed error
// the analyzer could switch on instead.
func Classify(err error) Reason {
	if err == nil {
		return ""
	}

	var unavail *ErrModelUnavailable
	if errors.As(err, &unavail) {
		return ReasonUnavailable
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden"):
		return ReasonAuth
	case containsAny(errStr, "429", "rate limit", "quota", "too many requests"):
		return ReasonRateLimit
	case containsAny(errStr, "context length", "too many tokens", "max tokens", "token limit"):
		return ReasonContextLength
	case containsAny(errStr, "model not found", "404", "not found"):
		return ReasonNotFound
	case containsAny(errStr, "connection", "eof", "timeout", "dial", "refused"):
		return ReasonConnection
	default:
		return ReasonUnknown
	}
}

// HandleError converts common SDK errors to user-friendly errors. It defers
// to Classify for the taxonomy so the wording here and the Reason tag a
// caller gets from Classify never drift apart.
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	switch Classify(err) {
	case ReasonAuth:
		return fmt.Errorf("authentication failed: %w", err)
	case ReasonRateLimit:
		return fmt.Errorf("rate limited: %w", err)
	case ReasonContextLength:
		return fmt.Errorf("context too long: %w", err)
	case ReasonNotFound:
		return fmt.Errorf("model not found: %w", err)
	case ReasonConnection:
		return fmt.Errorf("connection error: %w", err)
	default:
		return err
	}
}

// ErrModelUnavailable indicates the model backend returned a non-JSON or
// error response — raised by the Ollama transport (ollama.go) when a
// reverse proxy in front of a self-hosted model returns plain text instead
// of the expected JSON/NDJSON body.
type ErrModelUnavailable struct {
	Provider string
	Body     string // raw response body (truncated)
	Cause    error  // original error if any
}

func (e *ErrModelUnavailable) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("model %s unavailable: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("model %s unavailable: %v", e.Provider, e.Cause)
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
