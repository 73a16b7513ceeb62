package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ErrNoCredentials reports that the recognizer is not configured; it is
// surfaced to the client as an initialization error rather than closing
// the connection.
var ErrNoCredentials = errors.New("recognizer credentials not configured")

// StreamConfig is the initial configuration sent when opening a
// recognition stream.
type StreamConfig struct {
	Encoding       string `json:"encoding"`
	SampleRateHz   int    `json:"sample_rate_hz"`
	Language       string `json:"language"`
	InterimResults bool   `json:"interim_results"`
}

// Event types emitted by a recognition stream.
const (
	EventPartial = "partial"
	EventFinal   = "final"
	EventError   = "error"
	EventEnded   = "ended"
)

// Event is one transcript or error frame from the recognizer.
type Event struct {
	Type       string
	Text       string
	Confidence float64
	Err        string
}

// Stream is one live duplex channel to the recognizer. Send accepts raw
// audio; CloseSend signals end-of-input without tearing the stream
// down, so final results still arrive afterwards. Events is closed when
// the stream ends for any reason.
type Stream interface {
	Send(audio []byte) error
	CloseSend() error
	Events() <-chan Event
	Close()
}

// Recognizer opens duplex streams to an external speech recognition
// service.
type Recognizer interface {
	OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// WSRecognizer speaks the recognizer's WebSocket protocol: one JSON
// config frame up front, binary audio frames in, JSON transcript frames
// out.
type WSRecognizer struct {
	url    string
	apiKey string
}

func NewWSRecognizer(url, apiKey string) *WSRecognizer {
	return &WSRecognizer{url: url, apiKey: apiKey}
}

func (r *WSRecognizer) OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if r.apiKey == "" || r.url == "" {
		return nil, ErrNoCredentials
	}

	hdr := make(http.Header)
	hdr.Set("Authorization", "Token "+r.apiKey)
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, r.url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("dial recognizer: %w", err)
	}

	sctx, scancel := context.WithCancel(context.Background())
	s := &wsStream{
		ctx:    sctx,
		cancel: scancel,
		conn:   conn,
		events: make(chan Event, 32),
	}

	frame := struct {
		Type string `json:"type"`
		StreamConfig
	}{Type: "config", StreamConfig: cfg}
	if err := s.writeJSON(frame); err != nil {
		s.Close()
		return nil, fmt.Errorf("send recognizer config: %w", err)
	}

	go s.readLoop()
	return s, nil
}

type wsStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn

	writeMu sync.Mutex
	events  chan Event
}

func (s *wsStream) Events() <-chan Event { return s.events }

func (s *wsStream) Send(audio []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageBinary, audio)
}

// CloseSend tells the recognizer no more audio is coming. Pending final
// results still arrive on Events afterwards.
func (s *wsStream) CloseSend() error {
	return s.writeJSON(map[string]string{"type": "end_of_input"})
}

func (s *wsStream) Close() {
	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *wsStream) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, b)
}

// recognizer frame shape; "end" marks the stream finished on the
// provider side.
type recognizerFrame struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

func (s *wsStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.emit(Event{Type: EventEnded})
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		var f recognizerFrame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("[recognizer] bad frame: %v", err)
			continue
		}
		switch f.Type {
		case "partial":
			if f.Transcript != "" {
				s.emit(Event{Type: EventPartial, Text: f.Transcript, Confidence: f.Confidence})
			}
		case "final":
			if f.Transcript != "" {
				s.emit(Event{Type: EventFinal, Text: f.Transcript, Confidence: f.Confidence})
			}
		case "error":
			msg := f.Error
			if msg == "" {
				msg = "provider_error"
			}
			s.emit(Event{Type: EventError, Err: msg})
		case "end":
			s.emit(Event{Type: EventEnded})
			return
		default:
			// ignore unknown frames for forward compatibility
		}
	}
}

func (s *wsStream) emit(e Event) {
	select {
	case s.events <- e:
	default:
		// drop if slow consumer
	}
}
