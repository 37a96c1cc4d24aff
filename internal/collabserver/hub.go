package collabserver

import (
	"log/slog"
	"sync"
)

// Hub owns in-memory rooms and provides stable room handles by document id.
// Rooms are retained once created; this is a dev server, not a tenant host.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// GetOrCreateRoom returns a stable in-memory room handle for a document.
func (h *Hub) GetOrCreateRoom(documentID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[documentID]; ok {
		return r
	}

	r := NewRoom(h.log, documentID)
	h.rooms[documentID] = r
	return r
}

// RoomCount reports how many rooms exist (metrics/tests).
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
