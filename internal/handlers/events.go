package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/trainfriends/backend/internal/auth"
	"github.com/trainfriends/backend/internal/events"
	"github.com/trainfriends/backend/internal/logging"
)

// writeWait bounds a single frame write on either transport.
const writeWait = 10 * time.Second

// EventHandler streams a user's events over SSE or WebSocket.
type EventHandler struct {
	Events         EventBroker
	AllowedOrigins []string
}

// SSE handles GET /events.
func (h EventHandler) SSE(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)
	logger := logging.FromContext(ctx)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := &sseSink{w: w, rc: http.NewResponseController(w)}
	if err := sink.flush(); err != nil {
		logger.Warn().Err(err).Msg("event stream cannot flush")
		return
	}

	stream := h.Events.Open(id.User)
	logger.Debug().Msg("event stream opened")
	if err := stream.Run(ctx, sink); err != nil {
		logger.Debug().Err(err).Msg("event stream ended")
		return
	}
	logger.Debug().Msg("event stream closed")
}

// WebSocket handles GET /events/ws with the same stream as SSE. Keep-alives are ping frames.
func (h EventHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)
	logger := logging.FromContext(ctx)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	stream := h.Events.Open(id.User)

	// The request context does not end when a hijacked client goes away, so a reader
	// goroutine watches for the close.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		readTimeout := 2*stream.KeepAlive() + writeWait
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := stream.Run(streamCtx, &wsSink{conn: conn}); err != nil {
		logger.Debug().Err(err).Msg("websocket stream ended")
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h EventHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.AllowedOrigins, origin)
}

type sseSink struct {
	w  io.Writer
	rc *http.ResponseController
}

func (s *sseSink) Send(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.deadline()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseSink) KeepAlive() error {
	s.deadline()
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.flush()
}

// deadline is best effort. Writers without deadline support, such as httptest
// recorders, return http.ErrNotSupported.
func (s *sseSink) deadline() {
	_ = s.rc.SetWriteDeadline(time.Now().Add(writeWait))
}

func (s *sseSink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSink) KeepAlive() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
