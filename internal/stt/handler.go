package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"helios/monitor/internal/auth"

	ws "nhooyr.io/websocket"
)

const Endpoint = "/ws/stt"

// Close codes distinguishing WebSocket auth rejection reasons.
const (
	CloseNoToken      ws.StatusCode = 4001
	CloseInvalidUser  ws.StatusCode = 4002
	CloseVerifyFailed ws.StatusCode = 4003
)

// Recorder is the slice of the metric buffer the handler emits into.
type Recorder interface {
	Record(name string, value float64, unit string, tags map[string]string, metadata map[string]any)
	RecordWebSocketConnection(endpoint string, success bool, errorReason string)
	RecordWebSocketError(endpoint, errorType, errorMessage string)
	RecordWebSocketSession(endpoint string, durationMs float64, messagesExchanged int)
}

type clientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

type serverMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Handler owns the speech-to-text WebSocket endpoint. Each connection
// runs a small state machine: awaiting-start until the client sends
// "start", streaming while a recognizer stream is open, ended once the
// socket goes away. Closing the client socket is the sole cancellation
// signal and unconditionally tears down the recognizer stream.
type Handler struct {
	verifier  *auth.Verifier
	rec       Recognizer
	metrics   Recorder
	streamCfg StreamConfig
}

func NewHandler(verifier *auth.Verifier, rec Recognizer, metrics Recorder, streamCfg StreamConfig) *Handler {
	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRateHz == 0 {
		streamCfg.SampleRateHz = 16000
	}
	if streamCfg.Language == "" {
		streamCfg.Language = "en-US"
	}
	streamCfg.InterimResults = true
	return &Handler{verifier: verifier, rec: rec, metrics: metrics, streamCfg: streamCfg}
}

type sessionState int

const (
	stateAwaitingStart sessionState = iota
	stateStreaming
	stateEnded
)

// session is per-connection state, held only for the connection's
// lifetime.
type session struct {
	mu    sync.Mutex
	conn  *ws.Conn
	state sessionState

	user   *auth.Identity
	stream Stream

	audioChunksReceived int
	messagesExchanged   int
	sessionStartTime    time.Time
	firstPartialTime    time.Time
}

func (s *session) send(ctx context.Context, msg serverMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.conn.Write(wctx, ws.MessageText, b); err != nil {
		log.Printf("[stt] write failed: %v", err)
	}
	s.messagesExchanged++
}

func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Printf("[stt] ws accept: %v", err)
		return
	}

	user, code, reason := h.authenticate(r)
	if user == nil {
		// Each rejection path is observable by reason.
		h.metrics.RecordWebSocketConnection(Endpoint, false, reason)
		_ = c.Close(code, reason)
		return
	}
	h.metrics.RecordWebSocketConnection(Endpoint, true, "")
	gaugeSessions.Inc()
	defer gaugeSessions.Dec()

	sess := &session{conn: c, state: stateAwaitingStart, user: user, sessionStartTime: time.Now()}
	ctx := r.Context()
	sess.send(ctx, serverMessage{Type: "ready"})

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != ws.MessageText {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.send(ctx, serverMessage{Type: "error", Code: "malformed_message", Message: err.Error()})
			continue
		}

		switch msg.Type {
		case "start":
			h.handleStart(ctx, sess)
		case "audio":
			h.handleAudio(sess, msg.Data)
		case "stop":
			h.handleStop(sess)
		default:
			log.Printf("[stt] unknown message type %q user=%s", msg.Type, user.ID)
		}
	}

	// Unconditional cleanup on every exit path.
	sess.mu.Lock()
	stream := sess.stream
	sess.stream = nil
	sess.state = stateEnded
	msgs := sess.messagesExchanged
	sess.mu.Unlock()
	if stream != nil {
		stream.Close()
	}

	h.metrics.RecordWebSocketSession(Endpoint,
		float64(time.Since(sess.sessionStartTime).Milliseconds()), msgs)
	_ = c.Close(ws.StatusNormalClosure, "done")
}

func (h *Handler) authenticate(r *http.Request) (*auth.Identity, ws.StatusCode, string) {
	token := ""
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		token = strings.TrimPrefix(authz, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}

	user, err := h.verifier.Verify(token)
	if err == nil {
		return user, 0, ""
	}
	switch {
	case errors.Is(err, auth.ErrNoToken):
		return nil, CloseNoToken, "no_token"
	case errors.Is(err, auth.ErrInactiveUser):
		return nil, CloseInvalidUser, "invalid_user"
	default:
		return nil, CloseVerifyFailed, "verification_failed"
	}
}

func (h *Handler) handleStart(ctx context.Context, sess *session) {
	sess.mu.Lock()
	if sess.state == stateStreaming {
		sess.mu.Unlock()
		log.Printf("[stt] duplicate start ignored user=%s", sess.user.ID)
		return
	}
	sess.mu.Unlock()

	stream, err := h.rec.OpenStream(ctx, h.streamCfg)
	if err != nil {
		// Configuration errors surface once to the client; the socket
		// stays open so it can retry or give up.
		log.Printf("[stt] open recognizer stream user=%s: %v", sess.user.ID, err)
		sess.send(ctx, serverMessage{Type: "error", Code: "initialization_error", Message: err.Error()})
		h.metrics.RecordWebSocketError(Endpoint, "initialization_error", err.Error())
		return
	}

	sess.mu.Lock()
	sess.stream = stream
	sess.state = stateStreaming
	sess.sessionStartTime = time.Now()
	sess.firstPartialTime = time.Time{}
	sess.audioChunksReceived = 0
	sess.mu.Unlock()

	go h.forward(ctx, sess, stream)
}

func (h *Handler) handleAudio(sess *session, data string) {
	sess.mu.Lock()
	stream := sess.stream
	sess.mu.Unlock()
	if stream == nil {
		log.Printf("[stt] audio before start, dropping chunk user=%s", sess.user.ID)
		metricAudioDropped.Inc()
		return
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		log.Printf("[stt] bad audio payload user=%s: %v", sess.user.ID, err)
		return
	}
	if err := stream.Send(raw); err != nil {
		log.Printf("[stt] recognizer send user=%s: %v", sess.user.ID, err)
		return
	}
	sess.mu.Lock()
	sess.audioChunksReceived++
	sess.mu.Unlock()
	metricAudioChunks.Inc()
}

func (h *Handler) handleStop(sess *session) {
	sess.mu.Lock()
	stream := sess.stream
	streaming := sess.state == stateStreaming
	sess.mu.Unlock()
	if stream == nil || !streaming {
		log.Printf("[stt] stop with no open stream user=%s", sess.user.ID)
		return
	}
	// End-of-input only; final results still arrive asynchronously.
	if err := stream.CloseSend(); err != nil {
		log.Printf("[stt] close send user=%s: %v", sess.user.ID, err)
	}
}

// forward relays recognizer events to the client until the stream's
// event channel closes. The handler never synthesizes transcripts: a
// final message is only ever sent when the recognizer emitted one.
func (h *Handler) forward(ctx context.Context, sess *session, stream Stream) {
	for ev := range stream.Events() {
		switch ev.Type {
		case EventPartial:
			sess.mu.Lock()
			first := sess.firstPartialTime.IsZero()
			if first {
				sess.firstPartialTime = time.Now()
			}
			started := sess.sessionStartTime
			sess.mu.Unlock()
			if first {
				ms := float64(time.Since(started).Milliseconds())
				metricTTFPMS.Observe(ms)
				h.metrics.Record("stt_time_to_first_partial", ms, "ms", nil, nil)
			}
			sess.send(ctx, serverMessage{Type: "partial", Text: ev.Text, Confidence: ev.Confidence})

		case EventFinal:
			sess.mu.Lock()
			started := sess.sessionStartTime
			chunks := sess.audioChunksReceived
			sess.mu.Unlock()
			ms := float64(time.Since(started).Milliseconds())
			metricTTFinalMS.Observe(ms)
			h.metrics.Record("stt_time_to_final", ms, "ms", map[string]string{
				"audio_chunks":      strconv.Itoa(chunks),
				"transcript_length": strconv.Itoa(len(ev.Text)),
			}, nil)
			sess.send(ctx, serverMessage{Type: "final", Text: ev.Text, Confidence: ev.Confidence})

		case EventError:
			metricRecognizerErrors.Inc()
			h.metrics.RecordWebSocketError(Endpoint, "stream_error", ev.Err)
			sess.send(ctx, serverMessage{Type: "error", Code: "stream_error", Message: ev.Err})

		case EventEnded:
			sess.send(ctx, serverMessage{Type: "stream_ended"})
		}
	}
}
