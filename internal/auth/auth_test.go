package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeAPIKeys struct {
	valid map[string]string
}

func (f *fakeAPIKeys) VerifyAPIKey(token string) (string, error) {
	if userID, ok := f.valid[token]; ok {
		return userID, nil
	}
	return "", errors.New("not found")
}

func TestAuthenticate_APIKey(t *testing.T) {
	a := New(&fakeAPIKeys{valid: map[string]string{"agentflow_abc": "alice"}}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.Header.Set("x-api-key", "agentflow_abc")

	p, ok := a.Authenticate(r)
	if !ok || p.UserID != "alice" {
		t.Fatalf("expected authenticated alice, got %+v ok=%v", p, ok)
	}
}

func TestAuthenticate_RejectsWrongPrefix(t *testing.T) {
	a := New(&fakeAPIKeys{valid: map[string]string{"bare-token": "alice"}}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.Header.Set("x-api-key", "bare-token")

	if _, ok := a.Authenticate(r); ok {
		t.Fatal("expected rejection of non-agentflow_ prefixed key")
	}
}

func TestAuthenticate_SessionCookieFallback(t *testing.T) {
	verifier := NewInMemoryVerifier("agentflow_session")
	verifier.Issue("bob", "tok-1")
	a := New(&fakeAPIKeys{valid: map[string]string{}}, verifier)

	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.AddCookie(&http.Cookie{Name: "agentflow_session", Value: "tok-1"})

	p, ok := a.Authenticate(r)
	if !ok || p.UserID != "bob" {
		t.Fatalf("expected authenticated bob, got %+v ok=%v", p, ok)
	}
}

func TestAuthenticate_BothFail(t *testing.T) {
	a := New(&fakeAPIKeys{valid: map[string]string{}}, NewInMemoryVerifier("agentflow_session"))
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)

	if _, ok := a.Authenticate(r); ok {
		t.Fatal("expected rejection with no credentials")
	}
}

func TestMiddleware_UnauthorizedBody(t *testing.T) {
	a := New(&fakeAPIKeys{valid: map[string]string{}}, nil)
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without credentials")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w.Body.String() != `{"error":"Unauthorized"}` {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestMiddleware_PublicPathBypasses(t *testing.T) {
	a := New(&fakeAPIKeys{valid: map[string]string{}}, nil)
	called := false
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if !called || w.Code != http.StatusOK {
		t.Fatalf("expected /health to bypass auth, called=%v code=%d", called, w.Code)
	}
}

func TestMiddleware_AttachesPrincipal(t *testing.T) {
	a := New(&fakeAPIKeys{valid: map[string]string{"agentflow_abc": "alice"}}, nil)
	var gotUserID string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := FromContext(r.Context())
		gotUserID = p.UserID
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.Header.Set("x-api-key", "agentflow_abc")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if gotUserID != "alice" {
		t.Fatalf("expected principal alice in context, got %q", gotUserID)
	}
}
