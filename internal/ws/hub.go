package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hazardwatch/internal/pipeline"
)

// Hub fans state and alert messages out to connected viewers
type Hub struct {
	clients map[*websocket.Conn]*sync.Mutex
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates a new hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		logger:  logger.Named("ws"),
	}
}

// Register adds a connection
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = &sync.Mutex{}
	h.logger.Debug("Client registered", zap.Int("total", len(h.clients)))
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		h.logger.Debug("Client unregistered", zap.Int("total", len(h.clients)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a raw message to every client, dropping clients that fail
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for c, m := range h.clients {
		conns[c] = m
	}
	h.mu.RUnlock()

	for conn, writeMu := range conns {
		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := conn.WriteMessage(websocket.TextMessage, message)
		writeMu.Unlock()
		if err != nil {
			h.logger.Debug("Dropping client after write error", zap.Error(err))
			h.Unregister(conn)
			conn.Close()
		}
	}
}

// ping writes a ping control frame under the connection's write lock
func (h *Hub) ping(conn *websocket.Conn) error {
	h.mu.RLock()
	writeMu, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// BroadcastState sends the state behind a newly displayed frame
func (h *Hub) BroadcastState(snap pipeline.Snapshot) {
	h.broadcastJSON(NewStateMessage(snap))
}

// BroadcastAlert sends a dispatched alert
func (h *Hub) BroadcastAlert(alert pipeline.Alert) {
	h.broadcastJSON(NewAlertMessage(alert))
}

func (h *Hub) broadcastJSON(v any) {
	if h.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("Failed to marshal message", zap.Error(err))
		return
	}
	h.Broadcast(data)
}
