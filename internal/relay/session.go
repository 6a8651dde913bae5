// Package relay manages individual client sessions: read/write pumps,
// inbound event routing, rate limiting, and connection teardown.
package relay

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Session is one live client connection identity. It exists from upgrade
// until disconnect; a reconnecting client gets a fresh Session with a fresh
// id and must re-issue its join-room events.
type Session struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	limiter *tokenBucket
	maxSize int64
}

// NewSession allocates a session identity for an accepted connection. The
// send channel is buffered so fan-out never blocks the hub loop.
func NewSession(conn *websocket.Conn, hub *Hub, addr string, cfg Config) *Session {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Session{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     hub,
		addr:    addr,
		limiter: newTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		maxSize: cfg.MaxMessageSize,
	}
}

// ID returns the opaque session identity.
func (s *Session) ID() string { return s.id }

// SendQueue exposes the outbound frame queue for reading.
func (s *Session) SendQueue() <-chan []byte { return s.send }

func (s *Session) setupRead() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("set read deadline failed", "session", s.id, "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError classifies a read failure for logging. Every read error
// ends the session; classification only controls log noise.
func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("frame exceeded read limit", "session", s.id, "limit", s.maxSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		slog.Debug("session closed", "session", s.id, "error", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		slog.Debug("connection closed", "session", s.id, "error", err)
	default:
		slog.Warn("read error", "session", s.id, "error", err)
	}
}

// dispatch routes one decoded inbound event into the hub. Protocol errors
// are dropped without touching room state.
func (s *Session) dispatch(raw []byte) {
	event, err := decodeEvent(s.id, raw)
	if err != nil {
		slog.Warn("dropping invalid frame", "session", s.id, "error", err)
		return
	}

	switch ev := event.(type) {
	case JoinRoom:
		s.hub.joins <- ev
	case LeaveRoom:
		s.hub.leaves <- ev
	case Delta:
		s.hub.deltas <- ev
	case CursorUpdate:
		s.hub.cursors <- ev
	}
}

func (s *Session) readPump() {
	defer func() {
		s.hub.unregister <- s
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("close after read pump failed", "session", s.id, "error", err)
		}
	}()

	s.setupRead()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		if !s.limiter.allow() {
			slog.Warn("rate limit exceeded, discarding frame", "session", s.id)
			continue
		}
		s.dispatch(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("close after write pump failed", "session", s.id, "error", err)
		}
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Hub closed the queue: session was unregistered.
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isExpectedCloseError reports whether an error is routine connection
// teardown rather than something worth surfacing.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
