// Package ws implements the transport half of C6: a coder/websocket-backed
// Hub that authenticates connections, keeps each client's topic
// subscriptions, and bridges internal/bus messages out to clients. The
// register/unregister/broadcast/sendToSession shape and the
// readPump/writePump goroutine split are carried over from the teacher's
// internal/gateway/ws/hub.go, adapted from one-session-per-connection to a
// per-client set of session subscriptions (a connection may now watch many
// sessions at once) and from its Frame/Method RPC envelope to the spec's
// plain named-message envelope.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/agentflow/agentflow/internal/auth"
	"github.com/agentflow/agentflow/internal/bus"
	"github.com/agentflow/agentflow/internal/model"
)

// Envelope is the wire shape for every message in either direction: a named
// event/command plus its payload.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Store is the subset of *store.Store the gateway needs to serve snapshots.
type Store interface {
	ListSessions() ([]model.Session, error)
	GetSessionEvents(id string) ([]model.Event, error)
}

// Client is one connected, authenticated WebSocket connection.
type Client struct {
	conn *websocket.Conn
	send chan Envelope
	hub  *Hub

	mu   sync.Mutex
	subs map[string]*bus.Subscription // sessionID -> live subscription
}

// Hub owns every connected Client and the bus it bridges from.
type Hub struct {
	bus   *bus.Bus
	store Store
	auth  *auth.Authenticator

	mu      sync.RWMutex
	clients map[*Client]struct{}

	globalSub *bus.Subscription
	closeOnce sync.Once
	done      chan struct{}
}

// NewHub wires a Hub to the shared bus and store, and starts forwarding the
// global topic to every connected client (§4.6 step 4).
func NewHub(b *bus.Bus, store Store, authenticator *auth.Authenticator) *Hub {
	h := &Hub{
		bus:     b,
		store:   store,
		auth:    authenticator,
		clients: make(map[*Client]struct{}),
		done:    make(chan struct{}),
	}

	h.globalSub = b.Subscribe(bus.GlobalTopic)
	go h.pumpGlobal()

	return h
}

func (h *Hub) pumpGlobal() {
	for {
		select {
		case msg, ok := <-h.globalSub.C:
			if !ok {
				return
			}
			h.broadcast(namedEnvelope(msg.Data))
		case <-h.done:
			return
		}
	}
}

// namedEnvelope derives the client-facing "type" from the published value:
// callers of Bus.Publish(GlobalTopic, ...) send either a map with its own
// "type" key (session:update, session:deleted, sessions:cleared, ...) or a
// typed struct carrying a Type field via struct tag "type" — both decode
// through JSON round-trip into Envelope.Data uniformly, so the type name is
// read back out of the re-marshalled map.
func namedEnvelope(data any) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{Type: "unknown", Data: data}
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		if t, ok := asMap["type"].(string); ok {
			return Envelope{Type: t, Data: asMap}
		}
	}
	return Envelope{Type: "event", Data: data}
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	c.releaseAll()
	close(c.send)
	slog.Info("ws client disconnected", "clients", len(h.clients))
}

// ServeWS authenticates the upgrade request, accepts the connection, sends
// the initial sessions:list snapshot, and runs the client's read/write
// pumps until disconnect (§4.6).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.Authenticate(r); !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan Envelope, 256),
		hub:  h,
		subs: make(map[string]*bus.Subscription),
	}
	h.register(client)

	if sessions, err := h.store.ListSessions(); err == nil {
		client.deliver(Envelope{Type: "sessions:list", Data: sessions})
	} else {
		slog.Error("ws initial sessions:list", "error", err)
	}

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// Close stops the global-topic pump and every connected client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.globalSub.Close()
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Error("ws unmarshal envelope", "error", err)
			continue
		}
		c.handleCommand(env)
	}
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			if err := writeJSON(ctx, c.conn, env); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// deliver enqueues env for this client, dropping it if the client is too
// slow to keep up (mirrors the bus's own drop-on-full policy).
func (c *Client) deliver(env Envelope) {
	select {
	case c.send <- env:
	default:
	}
}

func (c *Client) handleCommand(env Envelope) {
	switch env.Type {
	case "subscribe":
		c.subscribe(env.SessionID)
	case "unsubscribe":
		c.unsubscribe(env.SessionID)
	default:
		slog.Debug("ws unknown command", "type", env.Type)
	}
}

// subscribe implements §4.6 step 3's ordering guarantee: the bus
// subscription is created *before* the historical snapshot is read, so any
// event published while the snapshot query is in flight is queued on the
// subscription channel rather than lost. But because ingest.go commits
// Store.Append before Bus.Publish, an event whose Append *and* Publish both
// land inside that same window is already visible to GetSessionEvents too —
// it would otherwise be delivered twice, once inside the snapshot and once
// again off sub.C. pumpSession is handed the snapshot's event ids and drops
// any live message that duplicates one of them, so the snapshot-then-live
// sequence has no gaps and no duplicates.
func (c *Client) subscribe(sessionID string) {
	if sessionID == "" {
		return
	}

	c.mu.Lock()
	if _, exists := c.subs[sessionID]; exists {
		c.mu.Unlock()
		return
	}
	sub := c.hub.bus.Subscribe(bus.SessionTopic(sessionID))
	c.subs[sessionID] = sub
	c.mu.Unlock()

	events, err := c.hub.store.GetSessionEvents(sessionID)
	if err != nil {
		slog.Error("ws session:events snapshot", "error", err, "sessionId", sessionID)
		events = nil
	}
	c.deliver(Envelope{Type: "session:events", SessionID: sessionID, Data: events})

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		seen[e.ID] = struct{}{}
	}
	go c.pumpSession(sessionID, sub, seen)
}

// pumpSession forwards live events published on sub to the client, skipping
// any event id already delivered in the subscribe snapshot (see subscribe).
// The skip set only needs to cover that boundary window: event ids are
// unique per event, so once an id has been seen it is discarded for the
// life of the subscription rather than re-checked against a shrinking
// window.
func (c *Client) pumpSession(sessionID string, sub *bus.Subscription, seen map[string]struct{}) {
	for msg := range sub.C {
		if e, ok := msg.Data.(model.Event); ok {
			if _, dup := seen[e.ID]; dup {
				continue
			}
		}
		c.deliver(Envelope{Type: "event", SessionID: sessionID, Data: msg.Data})
	}
}

func (c *Client) unsubscribe(sessionID string) {
	c.mu.Lock()
	sub, ok := c.subs[sessionID]
	if ok {
		delete(c.subs, sessionID)
	}
	c.mu.Unlock()

	if ok {
		sub.Close()
	}
}

func (c *Client) releaseAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*bus.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
