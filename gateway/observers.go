package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// observedTurn is broadcast to websocket observers after each completed
// voice turn. Audio is deliberately excluded; observers only follow the
// conversation text.
type observedTurn struct {
	Reply     string    `json:"reply"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type observerConn struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	hub  *observerHub
}

// observerHub tracks live-transcript websocket subscribers.
type observerHub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*observerConn
}

func newObserverHub() *observerHub {
	return &observerHub{conns: make(map[uuid.UUID]*observerConn)}
}

func (h *observerHub) register(c *observerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *observerHub) unregister(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// Broadcast sends the turn to every observer. Slow observers are skipped
// rather than blocking the request that produced the turn.
func (h *observerHub) Broadcast(turn observedTurn) {
	turn.Timestamp = time.Now()

	data, err := json.Marshal(turn)
	if err != nil {
		slog.Error("Failed to marshal observed turn", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.conns {
		select {
		case c.send <- data:
		default:
			slog.Warn("Observer send buffer full, dropping turn", "observerID", id)
		}
	}
}

// handleObserve upgrades the connection and streams completed turns.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	oc := &observerConn{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  s.observers,
	}
	s.observers.register(oc)
	slog.Debug("Observer connected", "observerID", oc.id, "remoteAddr", r.RemoteAddr)

	go oc.writePump()
	go oc.readPump()
}

func (c *observerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *observerConn) readPump() {
	defer func() {
		c.hub.unregister(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
