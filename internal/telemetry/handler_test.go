package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"helios/monitor/internal/auth"

	ws "nhooyr.io/websocket"
)

const testSecret = "telemetry-secret"

type fakeRecorder struct {
	mu       sync.Mutex
	conns    int
	errors   []string
	sessions []int // messagesExchanged per ended session
}

func (f *fakeRecorder) RecordWebSocketConnection(_ string, _ bool, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns++
}

func (f *fakeRecorder) RecordWebSocketError(_ string, errorType, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errorType)
}

func (f *fakeRecorder) RecordWebSocketSession(_ string, _ float64, exchanged int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, exchanged)
}

func (f *fakeRecorder) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func newTestServer(t *testing.T) (*httptest.Server, *Registry, *fakeRecorder) {
	t.Helper()
	reg := NewRegistry()
	m := &fakeRecorder{}
	h := NewHandler(auth.NewVerifier(testSecret), reg, m)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)
	return srv, reg, m
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *ws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := ws.Dial(ctx, "ws"+srv.URL[len("http"):], &ws.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func sendJSON(t *testing.T, c *ws.Conn, v any) {
	t.Helper()
	b, _ := json.Marshal(v)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, ws.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPingPong(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	c := dial(t, srv, nil)
	defer c.Close(ws.StatusNormalClosure, "")

	waitFor(t, func() bool { return reg.Len() == 1 })

	sendJSON(t, c, clientMessage{Type: "ping"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "pong" {
		t.Fatalf("expected pong, got %q", msg.Type)
	}
}

func TestUnknownAndMalformedMessagesAreTolerated(t *testing.T) {
	srv, _, _ := newTestServer(t)
	c := dial(t, srv, nil)
	defer c.Close(ws.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, ws.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sendJSON(t, c, clientMessage{Type: "mystery"})

	// The socket must still answer a ping afterwards.
	sendJSON(t, c, clientMessage{Type: "ping"})
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("socket died after bad input: %v", err)
	}
	var msg serverMessage
	_ = json.Unmarshal(data, &msg)
	if msg.Type != "pong" {
		t.Fatalf("expected pong, got %q", msg.Type)
	}
}

func TestSessionRecordedOnDisconnect(t *testing.T) {
	srv, reg, m := newTestServer(t)
	c := dial(t, srv, nil)
	waitFor(t, func() bool { return reg.Len() == 1 })

	sendJSON(t, c, clientMessage{Type: "subscribe", Channel: "anomalies"})
	c.Close(ws.StatusNormalClosure, "done")

	waitFor(t, func() bool { return m.sessionCount() == 1 })
	waitFor(t, func() bool { return reg.Len() == 0 })
}

func TestAuthenticatedClientUsesUserID(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	tok, err := auth.Mint(testSecret, auth.Identity{ID: "user-42", IsActive: true}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	header := http.Header{"Cookie": {"token=" + tok}}
	c := dial(t, srv, header)
	defer c.Close(ws.StatusNormalClosure, "")

	waitFor(t, func() bool { return reg.Get("user-42") != nil })
}

func TestBadCookieFallsBackToAnonymous(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	header := http.Header{"Cookie": {"token=not-a-jwt"}}
	c := dial(t, srv, header)
	defer c.Close(ws.StatusNormalClosure, "")

	// Still connected, just not under a user id.
	waitFor(t, func() bool { return reg.Len() == 1 })
	if reg.Get("not-a-jwt") != nil {
		t.Fatalf("raw cookie value must not become the client id")
	}
}

func TestRegistryReplaceClosesPrevious(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	tok, err := auth.Mint(testSecret, auth.Identity{ID: "user-7", IsActive: true}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	header := http.Header{"Cookie": {"token=" + tok}}

	first := dial(t, srv, header)
	waitFor(t, func() bool { return reg.Get("user-7") != nil })

	second := dial(t, srv, header)
	defer second.Close(ws.StatusNormalClosure, "")

	// The first socket gets closed by the replacement.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := first.Read(ctx); err == nil {
		t.Fatalf("expected first connection to be closed")
	}

	// The registry still holds exactly one connection for the user.
	waitFor(t, func() bool { return reg.Len() == 1 && reg.Get("user-7") != nil })

	if err := reg.SendJSON(context.Background(), "user-7", serverMessage{Type: "pong"}); err != nil {
		t.Fatalf("push to replacement failed: %v", err)
	}
	_, data, err := second.Read(ctx)
	if err != nil {
		t.Fatalf("read pushed message: %v", err)
	}
	var msg serverMessage
	_ = json.Unmarshal(data, &msg)
	if msg.Type != "pong" {
		t.Fatalf("expected pushed pong, got %q", msg.Type)
	}
}
