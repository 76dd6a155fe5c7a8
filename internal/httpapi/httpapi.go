// Package httpapi holds the JSON response helpers and error taxonomy shared
// by internal/ingest, internal/query, internal/auth, and internal/gateway,
// following the teacher's internal/gateway/server.go convention of small
// shared helpers rather than a generic framework.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSON encodes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encode response", "error", err)
	}
}

// errorBody is the wire shape for every error response (§7): a single
// "error" string, never a structured payload.
type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorBody{Error: msg})
}

// Validation (400): malformed payload, no side effects.
func Validation(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusBadRequest, msg)
}

// Unauthorized (401): missing/invalid credentials.
func Unauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "Unauthorized")
}

// NotFound (404): unknown session/resource id.
func NotFound(w http.ResponseWriter, msg string) {
	if msg == "" {
		msg = "not found"
	}
	WriteError(w, http.StatusNotFound, msg)
}

// Storage (500): a store read/write fault, not retried.
func Storage(w http.ResponseWriter, err error) {
	slog.Error("httpapi: storage fault", "error", err)
	WriteError(w, http.StatusInternalServerError, err.Error())
}
