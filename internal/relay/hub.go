// Package relay is the signaling relay: websocket clients join per-user and
// per-call rooms, and call-scoped events are echoed to the whole call room.
package relay

import (
	"sync"

	"github.com/1ureka/mentorcall/internal/util"
)

// Hub tracks room membership for every connected socket.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Conn]struct{}
	members map[*Conn]map[string]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Conn]struct{}),
		members: make(map[*Conn]map[string]struct{}),
	}
}

// Join adds c to room and returns the room size. Joining twice is harmless.
func (h *Hub) Join(c *Conn, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]struct{})
	}
	h.rooms[room][c] = struct{}{}

	if h.members[c] == nil {
		h.members[c] = make(map[string]struct{})
	}
	h.members[c][room] = struct{}{}

	return len(h.rooms[room])
}

// Leave removes c from room and returns the remaining size. Empty rooms are
// dropped.
func (h *Hub) Leave(c *Conn, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Conn, room string) int {
	delete(h.members[c], room)
	if len(h.members[c]) == 0 {
		delete(h.members, c)
	}

	conns := h.rooms[room]
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.rooms, room)
		return 0
	}
	return len(conns)
}

// LeaveAll removes c from every room and returns the rooms it left with
// their remaining sizes.
func (h *Hub) LeaveAll(c *Conn) map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	left := make(map[string]int)
	for room := range h.members[c] {
		left[room] = h.leaveLocked(c, room)
	}
	return left
}

// Member reports whether c is in room.
func (h *Hub) Member(c *Conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// Size returns the number of sockets in room.
func (h *Hub) Size(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast queues data for every socket in room except skip (may be nil).
func (h *Hub) Broadcast(room string, data []byte, skip *Conn) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		if c == skip {
			continue
		}
		if !c.enqueue(data) {
			util.LogWarning("relay: dropping frame for %s, buffer full", c.id)
		}
	}
}
