package collab

import (
	v1 "coedit/contracts/collab/v1"
)

// Status is the transport's connection status.
type Status string

const (
	// StatusIdle means the client has not attempted a connection yet.
	StatusIdle Status = "idle"
	// StatusConnecting means a dial is in flight.
	StatusConnecting Status = "connecting"
	// StatusConnected means the socket is open and the heartbeat is running.
	StatusConnected Status = "connected"
	// StatusDisconnected means the socket is closed and an automatic
	// reconnect is either scheduled or the client is freshly torn down.
	StatusDisconnected Status = "disconnected"
	// StatusError means the socket is closed and auto-reconnect is
	// suppressed; only an explicit Reconnect leaves this state.
	StatusError Status = "error"
)

// ConnectionState is an immutable snapshot of the transport as seen by a
// host view. Connected is derived from Status at snapshot time, so the two
// can never disagree.
type ConnectionState struct {
	Connected     bool          `json:"connected"`
	Status        Status        `json:"status"`
	Collaborators []v1.Presence `json:"collaborators"`
	Err           string        `json:"error,omitempty"`
}

func snapshot(status Status, roster []v1.Presence, errMsg string) ConnectionState {
	// Copy the roster so a snapshot stays stable after later replacements.
	var collaborators []v1.Presence
	if len(roster) > 0 {
		collaborators = make([]v1.Presence, len(roster))
		copy(collaborators, roster)
	}
	return ConnectionState{
		Connected:     status == StatusConnected,
		Status:        status,
		Collaborators: collaborators,
		Err:           errMsg,
	}
}
