package router

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writeWait is how long a single WriteMessage call may block.
const writeWait = 10 * time.Second

// session wraps one attached WebSocket connection. It implements
// registry.Socket (ID/Close) so the registry can close a replaced
// connection without importing the transport package.
type session struct {
	logger *zap.Logger
	conn   *websocket.Conn

	mu sync.Mutex
	id string // bound after the first successful "register"

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(logger *zap.Logger, conn *websocket.Conn) *session {
	return &session{
		logger: logger,
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// ID implements registry.Socket.
func (s *session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *session) bind(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// Close implements registry.Socket. Safe to call more than once.
func (s *session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = s.conn.Close()
	})
}

// isClosed reports whether Close has run.
func (s *session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// writeJSON serializes v and sends it, serialized against concurrent
// writers on the same connection (gorilla/websocket forbids concurrent
// writes on one *Conn).
func (s *session) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}
