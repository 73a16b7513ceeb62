package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	ws "nhooyr.io/websocket"

	"helios/monitor/internal/auth"
)

// Endpoint is the tag value used when recording telemetry socket metrics.
const Endpoint = "/ws/telemetry"

// Recorder is the slice of the ingestion buffer the telemetry handler
// needs.
type Recorder interface {
	RecordWebSocketConnection(endpoint string, success bool, errorReason string)
	RecordWebSocketError(endpoint, errorType, errorMessage string)
	RecordWebSocketSession(endpoint string, durationMs float64, messagesExchanged int)
}

type clientMessage struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type serverMessage struct {
	Type string `json:"type"`
}

// Handler serves the browser telemetry WebSocket. Unlike the STT
// endpoint it never rejects a connection: a valid token cookie binds
// the socket to a user id, anything else gets an anonymous id.
type Handler struct {
	verifier *auth.Verifier
	reg      *Registry
	metrics  Recorder
}

func NewHandler(verifier *auth.Verifier, reg *Registry, metrics Recorder) *Handler {
	return &Handler{verifier: verifier, reg: reg, metrics: metrics}
}

func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Printf("[telemetry] ws accept: %v", err)
		return
	}

	clientID, authenticated := h.identify(r)
	metricConnections.WithLabelValues(strconv.FormatBool(authenticated)).Inc()
	h.metrics.RecordWebSocketConnection(Endpoint, true, "")
	gaugeClients.Inc()
	defer gaugeClients.Dec()

	if h.reg.Replace(clientID, c) {
		log.Printf("[telemetry] replaced existing connection for %s", clientID)
	}
	start := time.Now()
	exchanged := 0
	defer func() {
		h.reg.Remove(clientID, c)
		h.metrics.RecordWebSocketSession(Endpoint,
			float64(time.Since(start).Milliseconds()), exchanged)
	}()

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) != ws.StatusNormalClosure && ws.CloseStatus(err) != ws.StatusGoingAway {
				h.metrics.RecordWebSocketError(Endpoint, "read_error", err.Error())
			}
			break
		}
		if typ != ws.MessageText {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[telemetry] malformed message from %s: %v", clientID, err)
			continue
		}
		exchanged++
		metricMessages.WithLabelValues(msg.Type).Inc()
		switch msg.Type {
		case "ping":
			h.send(ctx, c, serverMessage{Type: "pong"})
			exchanged++
		case "subscribe", "ack":
			// Accepted and ignored until server pushes carry channels.
		default:
			log.Printf("[telemetry] unknown message type %q from %s", msg.Type, clientID)
		}
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
}

// identify resolves the client id. A verifiable token cookie yields the
// user id; everything else, including a bad token, degrades to an
// anonymous id so telemetry is never refused.
func (h *Handler) identify(r *http.Request) (clientID string, authenticated bool) {
	cookie, err := r.Cookie("token")
	if err == nil && cookie.Value != "" {
		id, verr := h.verifier.Verify(cookie.Value)
		if verr == nil {
			return id.ID, true
		}
		log.Printf("[telemetry] token cookie rejected: %v", verr)
	}
	return "anon-" + uuid.NewString(), false
}

func (h *Handler) send(ctx context.Context, c *ws.Conn, msg serverMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Write(wctx, ws.MessageText, b); err != nil {
		log.Printf("[telemetry] write failed: %v", err)
	}
}
