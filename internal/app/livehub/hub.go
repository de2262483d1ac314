// Package livehub tracks connected user sessions and pushes payloads to
// them over their live connections.
package livehub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

// ErrNotConnected is returned by Send when the user has no live session.
var ErrNotConnected = errors.New("user has no live session")

// Registry is the live-connection lookup the delivery dispatcher depends
// on. The production implementation is Hub; tests swap in a fake.
type Registry interface {
	Connected(userID string) bool
	// Send writes the payload to every live session of the user. It fails
	// only when no session accepted the payload.
	Send(ctx context.Context, userID string, payload []byte) error
}

const writeTimeout = 5 * time.Second

// Session is one live websocket connection for a user. Writes are
// serialized per session.
type Session struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (s *Session) write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close unregisters the session and closes its connection.
func (s *Session) Close() {
	s.hub.unregister(s)
	_ = s.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	_ = s.conn.Close()
}

// Presence mirrors connect/disconnect events to an external registry so
// other instances can observe who is reachable.
type Presence interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// Hub is the in-process live-connection registry.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	presence Presence
	log      *logger.Logger
}

var _ Registry = (*Hub)(nil)

// NewHub creates an empty hub. presence may be nil.
func NewHub(presence Presence, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("livehub")
	}
	return &Hub{
		sessions: make(map[string]map[*Session]struct{}),
		presence: presence,
		log:      log,
	}
}

// Register attaches a websocket connection as a live session for a user.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Session {
	sess := &Session{hub: h, userID: userID, conn: conn}

	h.mu.Lock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*Session]struct{})
	}
	h.sessions[userID][sess] = struct{}{}
	h.mu.Unlock()

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, userID); err != nil {
			h.log.WithError(err).WithField("user_id", userID).Warn("presence set online failed")
		}
	}
	h.log.WithField("user_id", userID).Debug("live session registered")
	return sess
}

func (h *Hub) unregister(sess *Session) {
	h.mu.Lock()
	set := h.sessions[sess.userID]
	delete(set, sess)
	last := len(set) == 0
	if last {
		delete(h.sessions, sess.userID)
	}
	h.mu.Unlock()

	if last && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.presence.SetOffline(ctx, sess.userID); err != nil {
			h.log.WithError(err).WithField("user_id", sess.userID).Warn("presence set offline failed")
		}
	}
}

// Connected reports whether the user has at least one live session in this
// process.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// Send writes the payload to every session of the user. A session that
// fails to accept the write is dropped; the call succeeds if any session
// accepted it.
func (h *Hub) Send(_ context.Context, userID string, payload []byte) error {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[userID]))
	for sess := range h.sessions[userID] {
		targets = append(targets, sess)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return ErrNotConnected
	}

	delivered := 0
	for _, sess := range targets {
		if err := sess.write(payload); err != nil {
			h.log.WithError(err).WithField("user_id", userID).Warn("live session write failed, dropping session")
			sess.Close()
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("all %d live sessions rejected the payload", len(targets))
	}
	return nil
}
