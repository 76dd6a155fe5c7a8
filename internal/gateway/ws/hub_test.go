package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/agentflow/agentflow/internal/auth"
	"github.com/agentflow/agentflow/internal/bus"
	"github.com/agentflow/agentflow/internal/model"
)

type fakeAPIKeys struct{ valid map[string]string }

func (f *fakeAPIKeys) VerifyAPIKey(token string) (string, error) {
	if u, ok := f.valid[token]; ok {
		return u, nil
	}
	return "", errNotFound
}

var errNotFound = errors.New("not found")

type fakeStore struct {
	sessions []model.Session
	events   map[string][]model.Event
}

func (f *fakeStore) ListSessions() ([]model.Session, error) { return f.sessions, nil }
func (f *fakeStore) GetSessionEvents(id string) ([]model.Event, error) {
	return f.events[id], nil
}

func newTestHub(t *testing.T) (*Hub, *bus.Bus, *httptest.Server, string) {
	t.Helper()
	b := bus.New(16)
	store := &fakeStore{events: map[string][]model.Event{"s1": {{ID: "e1", SessionID: "s1"}}}}
	authenticator := auth.New(&fakeAPIKeys{valid: map[string]string{"agentflow_ok": "alice"}}, nil)
	hub := NewHub(b, store, authenticator)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	return hub, b, srv, srv.URL
}

func dial(t *testing.T, url, apiKey string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("x-api-key", apiKey)
	conn, _, err := websocket.Dial(context.Background(), "ws"+url[len("http"):], &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func TestServeWS_RejectsUnauthenticated(t *testing.T) {
	_, _, srv, url := newTestHub(t)
	_ = srv

	_, resp, err := websocket.Dial(context.Background(), "ws"+url[len("http"):], nil)
	if err == nil {
		t.Fatal("expected dial without credentials to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestServeWS_SendsInitialSnapshot(t *testing.T) {
	_, _, _, url := newTestHub(t)
	conn := dial(t, url, "agentflow_ok")
	defer conn.Close(websocket.StatusNormalClosure, "")

	env := readEnvelope(t, conn)
	if env.Type != "sessions:list" {
		t.Fatalf("expected sessions:list as first message, got %q", env.Type)
	}
}

func TestServeWS_SubscribeSendsSnapshotThenLiveEvents(t *testing.T) {
	_, b, _, url := newTestHub(t)
	conn := dial(t, url, "agentflow_ok")
	defer conn.Close(websocket.StatusNormalClosure, "")

	// drain the initial sessions:list
	readEnvelope(t, conn)

	sub := Envelope{Type: "subscribe", SessionID: "s1"}
	data, _ := json.Marshal(sub)
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatal(err)
	}

	snapshot := readEnvelope(t, conn)
	if snapshot.Type != "session:events" || snapshot.SessionID != "s1" {
		t.Fatalf("expected session:events snapshot, got %+v", snapshot)
	}

	// give the subscribe goroutine a moment to register before publishing
	time.Sleep(50 * time.Millisecond)
	b.Publish(bus.SessionTopic("s1"), map[string]string{"type": "tool.end"})

	live := readEnvelope(t, conn)
	if live.Type != "event" || live.SessionID != "s1" {
		t.Fatalf("expected forwarded live event, got %+v", live)
	}
}

// TestServeWS_SubscribeDedupsSnapshotRace exercises the window described at
// subscribe()'s doc comment: ingest.go commits Store.Append before
// Bus.Publish, so an event that lands in both the snapshot query and the
// freshly-registered subscription channel must be delivered exactly once.
// It hammers the session topic with publishes of the snapshot's own event id
// concurrently with the subscribe request — the fix makes the outcome
// deterministic (the id is always in the snapshot's dedup set), so this does
// not depend on actually winning the race to catch a regression: if the
// filter in pumpSession were removed, every run would fail by double
// delivery of "e1".
func TestServeWS_SubscribeDedupsSnapshotRace(t *testing.T) {
	_, b, _, url := newTestHub(t)
	conn := dial(t, url, "agentflow_ok")
	defer conn.Close(websocket.StatusNormalClosure, "")

	readEnvelope(t, conn) // initial sessions:list

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				b.Publish(bus.SessionTopic("s1"), model.Event{ID: "e1", SessionID: "s1"})
			}
		}
	}()

	sub := Envelope{Type: "subscribe", SessionID: "s1"}
	data, _ := json.Marshal(sub)
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatal(err)
	}

	snapshot := readEnvelope(t, conn)
	if snapshot.Type != "session:events" || snapshot.SessionID != "s1" {
		t.Fatalf("expected session:events snapshot, got %+v", snapshot)
	}

	close(stop)
	// flush any in-flight duplicate publishes, then signal completion with a
	// distinct id that must arrive exactly once and is never filtered.
	b.Publish(bus.SessionTopic("s1"), model.Event{ID: "e2", SessionID: "s1"})

	sawE1, sawE2 := 0, 0
	deadline := time.After(2 * time.Second)
	for sawE2 == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for e2")
		default:
		}
		env := readEnvelope(t, conn)
		if env.Type != "event" {
			continue
		}
		m, ok := env.Data.(map[string]any)
		if !ok {
			continue
		}
		switch m["id"] {
		case "e1":
			sawE1++
		case "e2":
			sawE2++
		}
	}

	if sawE1 != 0 {
		t.Fatalf("expected e1 (already in snapshot) never redelivered live, saw %d", sawE1)
	}
}

func TestServeWS_GlobalBroadcast(t *testing.T) {
	_, b, _, url := newTestHub(t)
	conn := dial(t, url, "agentflow_ok")
	defer conn.Close(websocket.StatusNormalClosure, "")

	readEnvelope(t, conn) // initial sessions:list

	time.Sleep(50 * time.Millisecond)
	b.Publish(bus.GlobalTopic, map[string]string{"type": "session:deleted", "sessionId": "s1"})

	env := readEnvelope(t, conn)
	if env.Type != "session:deleted" {
		t.Fatalf("expected session:deleted, got %+v", env)
	}
}
