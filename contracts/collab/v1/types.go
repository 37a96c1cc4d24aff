// Package v1 defines the coedit collaboration wire protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between the client transport and the dev server to keep the
// wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type constants (wire-stable).
const (
	// TypePing is the client keepalive (client -> server).
	TypePing = "ping"
	// TypePong acknowledges a ping (server -> client).
	TypePong = "pong"

	// TypeSync carries an opaque document state transfer (both directions).
	TypeSync = "sync"
	// TypeUpdate carries an opaque incremental document change (both directions).
	TypeUpdate = "update"

	// TypeAwareness carries cursor/selection state (client -> server) or the
	// full replacement roster (server -> client).
	TypeAwareness = "awareness"
	// TypeConnected delivers the initial roster to a joining client (server -> client).
	TypeConnected = "connected"

	// TypeError is a generic error frame (server -> client).
	TypeError = "error"
)

// CloseAuthFailure is the reserved close code for "authentication rejected".
// It is the only close code that suppresses client auto-reconnect.
const CloseAuthFailure = 4001

// Range is a document offset pair (anchor/head).
type Range struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Presence is one remote participant's visible state.
//
// LastActive is unix milliseconds; zero means "not reported".
type Presence struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Color      string `json:"color,omitempty"`
	Cursor     *Range `json:"cursor,omitempty"`
	Selection  *Range `json:"selection,omitempty"`
	LastActive int64  `json:"lastActive,omitempty"`
}

// Frame is the canonical wire wrapper. All frames are flat JSON objects
// tagged by Type; unused fields are omitted on the wire.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Users     []Presence      `json:"users,omitempty"`
	Cursor    *Range          `json:"cursor,omitempty"`
	Selection *Range          `json:"selection,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ValidateInbound checks a client->server frame for structural validity.
// The server rejects unknown types; the client side deliberately ignores
// unknown inbound types instead (see the transport dispatch table).
func (f Frame) ValidateInbound() error {
	if strings.TrimSpace(f.Type) == "" {
		return errors.New("missing field: type")
	}
	switch f.Type {
	case TypePing, TypeAwareness:
		return nil
	case TypeSync, TypeUpdate:
		if len(f.Data) == 0 {
			return fmt.Errorf("%s frame without data", f.Type)
		}
		return nil
	default:
		return fmt.Errorf("unsupported type: %q", f.Type)
	}
}
