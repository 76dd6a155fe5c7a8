// Package auth implements C7: the two-path credential scheme shared by the
// HTTP surface and the realtime handshake. API keys are verified against
// internal/store; the session-cookie path is modeled as an external
// CredentialVerifier collaborator, matching the teacher's pattern of
// treating identity-provider integration as an unimplemented external
// collaborator (internal/plugins stubs ToolPermissions the same way).
package auth

import (
	"context"
	"net/http"
	"strings"
)

// APIKeyPrefix is the only accepted x-api-key prefix (§4.7).
const APIKeyPrefix = "agentflow_"

// Principal is the identity attached to an admitted request.
type Principal struct {
	UserID string
}

// APIKeyVerifier checks a bare token (prefix already stripped is NOT
// assumed — implementations receive the raw header value) and resolves it
// to a user id. internal/store.Store satisfies this via VerifyAPIKey.
type APIKeyVerifier interface {
	VerifyAPIKey(token string) (userID string, err error)
}

// CredentialVerifier is the external identity-provider collaborator for the
// session-cookie path (spec §6: "CredentialVerifier.verify(req) →
// {userId?} | null"). No concrete identity provider ships with this
// package; see InMemoryVerifier for the in-repo test double.
type CredentialVerifier interface {
	Verify(r *http.Request) (userID string, ok bool)
}

// InMemoryVerifier is a minimal CredentialVerifier test double that
// recognises a fixed cookie name → userID mapping, for tests and local
// bootstrap only. It is never wired to a real identity provider.
type InMemoryVerifier struct {
	CookieName string
	Sessions   map[string]string // cookie value -> userID
}

// NewInMemoryVerifier constructs a verifier keyed on the given cookie name.
func NewInMemoryVerifier(cookieName string) *InMemoryVerifier {
	return &InMemoryVerifier{CookieName: cookieName, Sessions: make(map[string]string)}
}

// Issue registers token as a session cookie value for userID.
func (v *InMemoryVerifier) Issue(userID, token string) {
	v.Sessions[token] = userID
}

// Verify implements CredentialVerifier.
func (v *InMemoryVerifier) Verify(r *http.Request) (string, bool) {
	c, err := r.Cookie(v.CookieName)
	if err != nil {
		return "", false
	}
	userID, ok := v.Sessions[c.Value]
	return userID, ok
}

// principalKey is the context key the Middleware stores the Principal
// under.
type principalKey struct{}

// FromContext returns the Principal attached by Middleware, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithPrincipal attaches a Principal to ctx the same way Middleware does,
// for tests and internally synthesized requests (the cron runner's
// scheduled jobs run as the job's owning user with no HTTP request at all).
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PublicPaths bypass C7 entirely (§4.7): health check, login/invite, and
// static assets.
var PublicPaths = []string{
	"/health",
	"/setup/hook.sh",
	"/login",
	"/invite",
	"/static/",
	"/api/auth/sign-in/email",
	"/api/auth/get-session",
}

// IsPublic reports whether path bypasses C7.
func IsPublic(path string) bool {
	for _, p := range PublicPaths {
		if p == path || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// Authenticator implements the two-path check shared by HTTP middleware and
// the realtime handshake.
type Authenticator struct {
	APIKeys  APIKeyVerifier
	Sessions CredentialVerifier
}

// New builds an Authenticator from its two collaborators.
func New(apiKeys APIKeyVerifier, sessions CredentialVerifier) *Authenticator {
	return &Authenticator{APIKeys: apiKeys, Sessions: sessions}
}

// Authenticate runs the two-path check (§4.7 steps 1 then 2) against an
// arbitrary request, used by both HTTP middleware and the websocket
// handshake (which passes the upgrade request itself).
func (a *Authenticator) Authenticate(r *http.Request) (Principal, bool) {
	if key := apiKeyFromRequest(r); key != "" && strings.HasPrefix(key, APIKeyPrefix) && a.APIKeys != nil {
		if userID, err := a.APIKeys.VerifyAPIKey(key); err == nil {
			return Principal{UserID: userID}, true
		}
	}
	if a.Sessions != nil {
		if userID, ok := a.Sessions.Verify(r); ok {
			return Principal{UserID: userID}, true
		}
	}
	return Principal{}, false
}

func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	return r.URL.Query().Get("apiKey")
}

// Middleware enforces C7 on every request whose path is not public,
// attaching the resolved Principal to the request context on success and
// writing 401 {"error":"Unauthorized"} on failure.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		principal, ok := a.Authenticate(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
