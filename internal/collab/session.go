package collab

import (
	"encoding/json"

	v1 "coedit/contracts/collab/v1"
)

// SessionParams identify one collaborative document session. They are
// immutable for the session's lifetime; changing any of them means tearing
// the session down and building a new one (see Binder).
type SessionParams struct {
	DocumentID string
	UserID     string
	UserName   string
	UserEmail  string
	// Enabled gates the connection: a disabled session owns a transport but
	// never dials, mirroring views that render before collaboration turns on.
	Enabled bool
}

func (p SessionParams) identity() v1.Identity {
	return v1.Identity{UserID: p.UserID, UserName: p.UserName, UserEmail: p.UserEmail}
}

// Session wraps a Client behind the interface host views consume: a state
// snapshot, imperative send/awareness/reconnect actions, and hot-swappable
// callbacks.
type Session struct {
	params SessionParams
	client *Client
}

// NewSession builds the transport for params, wires handlers, and connects
// unless the session is disabled.
func NewSession(cfg Config, params SessionParams, h Handlers) (*Session, error) {
	client, err := NewClient(cfg, params.DocumentID, params.identity())
	if err != nil {
		return nil, err
	}

	s := &Session{params: params, client: client}
	client.SetHandlers(h)
	if params.Enabled {
		client.Connect()
	}
	return s, nil
}

// Params returns the identity this session was built from.
func (s *Session) Params() SessionParams { return s.params }

// State returns the current connection snapshot.
func (s *Session) State() ConnectionState { return s.client.State() }

// SetHandlers swaps the host callbacks. The transport keeps running; every
// later event is delivered to the new set. This is what lets hosts
// reconfigure on every render without churning the connection.
func (s *Session) SetHandlers(h Handlers) { s.client.SetHandlers(h) }

// SendUpdate forwards an opaque incremental change to the server.
func (s *Session) SendUpdate(data json.RawMessage) { s.client.SendUpdate(data) }

// SendSync forwards an opaque state transfer to the server.
func (s *Session) SendSync(data json.RawMessage) { s.client.SendSync(data) }

// UpdateAwareness publishes the local cursor and selection.
func (s *Session) UpdateAwareness(cursor, selection *v1.Range) {
	s.client.SendAwareness(cursor, selection)
}

// Reconnect recovers from the error state (manual retry).
func (s *Session) Reconnect() { s.client.Reconnect() }

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() { s.client.Close() }

// Binder owns at most one Session and swaps it when the parameters change,
// the way a mounted view re-runs its effect when its inputs change. The old
// session is always fully closed before the next one is created, so two
// sockets never overlap for one consumer.
type Binder struct {
	cfg     Config
	session *Session
}

// NewBinder constructs an empty binder.
func NewBinder(cfg Config) *Binder {
	return &Binder{cfg: cfg}
}

// Configure reconciles the binder against params. Same params: only the
// handlers are refreshed (cheap, no reconnect). Different params: the
// previous session is closed first, then a fresh one is created.
func (b *Binder) Configure(params SessionParams, h Handlers) (*Session, error) {
	if b.session != nil {
		if b.session.params == params {
			b.session.SetHandlers(h)
			return b.session, nil
		}
		b.session.Close()
		b.session = nil
	}

	s, err := NewSession(b.cfg, params, h)
	if err != nil {
		return nil, err
	}
	b.session = s
	return s, nil
}

// Session returns the current session, or nil when unconfigured.
func (b *Binder) Session() *Session { return b.session }

// Close tears down the current session, if any.
func (b *Binder) Close() {
	if b.session != nil {
		b.session.Close()
		b.session = nil
	}
}
