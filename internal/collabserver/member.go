// Package collabserver is an in-memory collaboration server speaking the
// contracts/collab/v1 wire protocol: rooms keyed by document id, roster
// broadcast, sync/update relay, and ping/pong.
//
// It backs cmd/coeditd and the client package's tests. It persists nothing
// and makes no scaling claims; the production collaboration service is a
// separate system.
package collabserver

import (
	"sync"

	v1 "coedit/contracts/collab/v1"
)

// Member represents one connected websocket session inside a room.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Member struct {
	SessionID string
	Presence  v1.Presence
	Send      chan v1.Frame

	done      chan struct{}
	closeOnce sync.Once
}

// NewMember constructs a Member with a bounded send queue.
func NewMember(sessionID string, presence v1.Presence, sendQueueSize int) *Member {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Member{
		SessionID: sessionID,
		Presence:  presence,
		Send:      make(chan v1.Frame, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the member is shutting down.
func (m *Member) Done() <-chan struct{} {
	if m == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.done
}

// Close signals the member goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (m *Member) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.done)
	})
}
