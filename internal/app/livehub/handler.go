package livehub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Authentication happens upstream; the hub accepts any origin the
	// proxy lets through.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// Handler upgrades a request to a live session. The user is identified by
// the user_id query parameter set by the authenticating proxy.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Warn("websocket upgrade failed")
			return
		}

		sess := h.Register(userID, conn)
		go h.readLoop(sess, conn)
		go h.pingLoop(sess)
	}
}

// readLoop drains inbound frames so pings and close frames are processed;
// the hub never acts on client payloads.
func (h *Hub) readLoop(sess *Session, conn *websocket.Conn) {
	defer h.unregister(sess)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) pingLoop(sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := sess.ping(); err != nil {
			h.unregister(sess)
			return
		}
	}
}
