package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hailing/internal/observability"
)

const writeWait = 5 * time.Second

var ErrNoSession = errors.New("no ws session")

// Message is the envelope of every server push.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WSSession represents one connected client.
type WSSession struct {
	actorID string
	conn    Conn
	mu      sync.Mutex
}

func (s *WSSession) write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

// Hub holds one session per actor. A new connection for the same actor
// replaces and closes the old one.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewHub() *Hub { return &Hub{sessions: make(map[string]*WSSession)} }

func (h *Hub) Add(actorID string, conn Conn) *WSSession {
	s := &WSSession{actorID: actorID, conn: conn}
	h.mu.Lock()
	old, replaced := h.sessions[actorID]
	h.sessions[actorID] = s
	h.mu.Unlock()
	if replaced {
		_ = old.conn.Close()
	} else {
		observability.WSSessions.Inc()
	}
	return s
}

// Remove drops s if it is still its actor's session and reports whether it
// was.
func (h *Hub) Remove(s *WSSession) bool {
	h.mu.Lock()
	cur, ok := h.sessions[s.actorID]
	current := ok && cur == s
	if current {
		delete(h.sessions, s.actorID)
	}
	h.mu.Unlock()
	if current {
		observability.WSSessions.Dec()
	}
	return current
}

// Send writes msg to s. A session that was replaced or removed gets
// ErrNoSession, so a stale board stops instead of writing to a closed conn.
func (h *Hub) Send(s *WSSession, msg Message) error {
	h.mu.RLock()
	cur, ok := h.sessions[s.actorID]
	h.mu.RUnlock()
	if !ok || cur != s {
		return ErrNoSession
	}
	return s.write(msg)
}

var _ Conn = (*websocket.Conn)(nil)
