// Package gateway wires C4 (ingest), C5 (query), and C6 (realtime) behind a
// single chi router with C7 admission, following the teacher's
// internal/gateway/server.go shape: a Server struct owning the http.Server,
// Start()/Shutdown(ctx) lifecycle methods, and routes mounted in NewServer.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentflow/agentflow/internal/auth"
	"github.com/agentflow/agentflow/internal/bus"
	"github.com/agentflow/agentflow/internal/gateway/ws"
	"github.com/agentflow/agentflow/internal/ingest"
	"github.com/agentflow/agentflow/internal/query"
	"github.com/agentflow/agentflow/internal/store"
)

// idleTimeout bounds ingest request bodies and transcript reads per §5.
const idleTimeout = 30 * time.Second

// Server owns the HTTP listener and the realtime hub.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	host       string
	port       int
}

// NewServer builds the full C4/C5/C6/C7 surface over a shared store and bus.
func NewServer(s *store.Store, b *bus.Bus, authenticator *auth.Authenticator, host string, port int) *Server {
	hub := ws.NewHub(b, s, authenticator)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(authenticator.Middleware)

	ingestHandler := ingest.New(s, b)
	r.Post("/api/ingest", ingestHandler.ServeHTTP)

	queryHandler := query.New(s, b, port)
	queryHandler.Mount(r)

	r.Get("/api/ws", hub.ServeWS)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      r,
			ReadTimeout:  idleTimeout,
			WriteTimeout: idleTimeout,
			IdleTimeout:  idleTimeout,
		},
		hub:  hub,
		host: host,
		port: port,
	}
}

// Start runs the HTTP server until it is shut down. It always returns a
// non-nil error (http.ErrServerClosed on a clean Shutdown).
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and closes the realtime hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
