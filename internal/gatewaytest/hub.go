package gatewaytest

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks the websocket connections consoles hold against the fake
// gateway, keyed by endpoint kind ("chat" or "notify").
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]bool)}
}

// Add registers a connection under a kind.
func (h *Hub) Add(kind string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[kind]; !ok {
		h.conns[kind] = make(map[*websocket.Conn]bool)
	}
	h.conns[kind][conn] = true
}

// Remove unregisters a connection.
func (h *Hub) Remove(kind string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.conns[kind]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, kind)
		}
	}
}

// Broadcast writes a raw payload to every connection of a kind.
func (h *Hub) Broadcast(kind string, payload []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns[kind]))
	for conn := range h.conns[kind] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("gatewaytest: websocket write error: %v", err)
			conn.Close()
			h.Remove(kind, conn)
		}
	}
}

// CloseNormal sends a normal closure to every connection of a kind.
func (h *Hub) CloseNormal(kind string) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns[kind]))
	for conn := range h.conns[kind] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		h.Remove(kind, conn)
	}
}

// DropAbnormal severs every connection of a kind without a close frame, the
// way a dying intermediary would.
func (h *Hub) DropAbnormal(kind string) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns[kind]))
	for conn := range h.conns[kind] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
		h.Remove(kind, conn)
	}
}

// Count reports connected sockets of a kind.
func (h *Hub) Count(kind string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[kind])
}
