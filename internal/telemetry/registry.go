package telemetry

import (
	"context"
	"encoding/json"
	"sync"

	ws "nhooyr.io/websocket"
)

// Registry keeps at most one telemetry connection per client id, so
// server-side pushes always reach the most recent socket.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*ws.Conn
}

func NewRegistry() *Registry { return &Registry{conns: make(map[string]*ws.Conn)} }

// Replace sets the connection for a client and closes the previous one
// if present.
func (r *Registry) Replace(clientID string, c *ws.Conn) (prevClosed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[clientID]; ok && old != nil {
		_ = old.Close(ws.StatusNormalClosure, "replaced")
		prevClosed = true
	}
	r.conns[clientID] = c
	return
}

func (r *Registry) Get(clientID string) *ws.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[clientID]
}

// Remove drops the client only if the given connection is still the
// registered one, so a replaced socket cannot evict its successor.
func (r *Registry) Remove(clientID string, c *ws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[clientID] == c {
		delete(r.conns, clientID)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// SendJSON pushes a message to a connected client. Unknown clients are
// a no-op, not an error.
func (r *Registry) SendJSON(ctx context.Context, clientID string, v any) error {
	r.mu.Lock()
	c := r.conns[clientID]
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, ws.MessageText, b)
}
