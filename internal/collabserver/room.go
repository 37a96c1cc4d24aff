package collabserver

import (
	"log/slog"
	"sync"
	"time"

	v1 "coedit/contracts/collab/v1"
)

// Room is the in-memory membership + fanout primitive for one document.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Relay/BroadcastRoster.
// - Fanout never blocks (drops under backpressure).
// - Fanout is panic-safe because Member.Send is never closed by the server.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	order   []string // join order; fixes roster emission order
	members map[string]*Member
}

// NewRoom constructs a room for one document id.
func NewRoom(log *slog.Logger, id string) *Room {
	return &Room{
		log:     log,
		ID:      id,
		members: make(map[string]*Member),
	}
}

// Join adds a member to the room.
func (r *Room) Join(m *Member) {
	if r == nil || m == nil || m.SessionID == "" {
		return
	}

	r.mu.Lock()
	if _, ok := r.members[m.SessionID]; !ok {
		r.order = append(r.order, m.SessionID)
	}
	r.members[m.SessionID] = m
	r.mu.Unlock()

	r.log.Info("room.member.join", "document_id", r.ID, "session_id", m.SessionID, "user_id", m.Presence.ID)
}

// Leave removes a member and signals shutdown for that member.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	var m *Member

	r.mu.Lock()
	m = r.members[sessionID]
	delete(r.members, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	// Signal shutdown after removing from membership so broadcasters never
	// hold a pointer to a member whose goroutines are being torn down.
	if m != nil {
		m.Close()
	}

	r.log.Info("room.member.leave", "document_id", r.ID, "session_id", sessionID)
}

// UpdatePresence replaces a member's cursor/selection and stamps LastActive.
func (r *Room) UpdatePresence(sessionID string, cursor, selection *v1.Range, now time.Time) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	if m, ok := r.members[sessionID]; ok {
		m.Presence.Cursor = cursor
		m.Presence.Selection = selection
		m.Presence.LastActive = now.UnixMilli()
	}
	r.mu.Unlock()
}

// Roster returns the current participants in join order.
func (r *Room) Roster() []v1.Presence {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]v1.Presence, 0, len(r.order))
	for _, id := range r.order {
		if m, ok := r.members[id]; ok {
			out = append(out, m.Presence)
		}
	}
	return out
}

// Size returns the current member count.
func (r *Room) Size() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// BroadcastRoster fans the full replacement roster out to every member.
func (r *Room) BroadcastRoster() {
	r.broadcast(v1.Frame{Type: v1.TypeAwareness, Users: r.Roster()}, "")
}

// Relay forwards a sync/update frame to every member except the sender.
func (r *Room) Relay(fromSessionID string, f v1.Frame) {
	r.broadcast(f, fromSessionID)
}

// broadcast fans a frame out, skipping excludeID when non-empty.
// Non-blocking: members with a full queue or in shutdown are skipped.
func (r *Room) broadcast(f v1.Frame, excludeID string) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.members {
		if m == nil || id == excludeID {
			continue
		}

		select {
		case <-m.Done():
			// Skip members that are shutting down.
			continue
		default:
		}

		select {
		case m.Send <- f:
		default:
			// Drop rather than block the whole room.
		}
	}
}
