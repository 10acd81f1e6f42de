package session_test

// In-process counterparty for session tests. It serves the real wire
// protocol over a real WebSocket (httptest + gorilla), so the production
// dialer, channel, and close classification are exercised, not mocked.
// Tests drive it explicitly: they pop accepted connections, assert the
// commands the client sent, and script the messages the client receives.

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arenalab/arenactl/pkg/session"
)

var upgrader = websocket.Upgrader{}

type arena struct {
	t     *testing.T
	srv   *httptest.Server
	conns chan *arenaConn
}

type arenaConn struct {
	t    *testing.T
	ws   *websocket.Conn
	cmds chan map[string]any
}

func newArena(t *testing.T) *arena {
	t.Helper()
	a := &arena{t: t, conns: make(chan *arenaConn, 4)}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *arena) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ac := &arenaConn{t: a.t, ws: ws, cmds: make(chan map[string]any, 16)}
	a.conns <- ac
	for {
		var cmd map[string]any
		if err := ws.ReadJSON(&cmd); err != nil {
			close(ac.cmds)
			return
		}
		ac.cmds <- cmd
	}
}

func (a *arena) url() string {
	return "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws/session"
}

// accept pops the next client connection.
func (a *arena) accept() *arenaConn {
	a.t.Helper()
	select {
	case ac := <-a.conns:
		return ac
	case <-time.After(2 * time.Second):
		a.t.Fatal("timed out waiting for a client connection")
		return nil
	}
}

// expect pops the next client command and asserts its type.
func (c *arenaConn) expect(typ string) map[string]any {
	c.t.Helper()
	select {
	case cmd, ok := <-c.cmds:
		if !ok {
			c.t.Fatalf("connection closed while waiting for %q command", typ)
		}
		if cmd["type"] != typ {
			c.t.Fatalf("client sent %v, want type %q", cmd, typ)
		}
		return cmd
	case <-time.After(2 * time.Second):
		c.t.Fatalf("timed out waiting for %q command", typ)
		return nil
	}
}

// expectNone asserts no command arrives within the wait window.
func (c *arenaConn) expectNone(wait time.Duration) {
	c.t.Helper()
	select {
	case cmd, ok := <-c.cmds:
		if ok {
			c.t.Fatalf("unexpected client command: %v", cmd)
		}
	case <-time.After(wait):
	}
}

func (c *arenaConn) send(msg map[string]any) {
	c.t.Helper()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.t.Fatalf("write to client: %v", err)
	}
}

func (c *arenaConn) sendRaw(data string) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		c.t.Fatalf("write raw to client: %v", err)
	}
}

// sendActivity wraps a payload in the two-level event envelope.
func (c *arenaConn) sendActivity(eventType string, payload map[string]any) {
	c.t.Helper()
	c.send(map[string]any{"type": "event", "event_type": eventType, "payload": payload})
}

func (c *arenaConn) close() {
	c.ws.Close()
}

// dialSession connects a fresh session to the arena and pops the matching
// server-side connection.
func dialSession(t *testing.T, a *arena, opts ...session.Option) (*session.Session, *arenaConn) {
	t.Helper()
	s := session.New(a.url(), opts...)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { s.Disconnect() })
	return s, a.accept()
}

// startRun drives the start handshake and returns the session id the
// arena assigned.
func startRun(t *testing.T, s *session.Session, c *arenaConn) string {
	t.Helper()
	if err := s.Start("lemonade-stand", "scripted", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.expect("start")
	id := uuid.New().String()
	c.send(map[string]any{"type": "started", "session_id": id})
	waitState(t, s, session.StateRunning)
	return id
}

// waitState polls until the session reaches the wanted state.
func waitState(t *testing.T, s *session.Session, want session.State) {
	t.Helper()
	waitSnapshot(t, s, "state "+string(want), func(snap session.Snapshot) bool {
		return snap.State == want
	})
}

// waitSnapshot polls until the condition holds, then returns the snapshot
// that satisfied it.
func waitSnapshot(t *testing.T, s *session.Session, desc string, ok func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s (state %q)", desc, s.Snapshot().State)
		case <-tick.C:
			if snap := s.Snapshot(); ok(snap) {
				return snap
			}
		}
	}
}
