package collab

import "time"

// Transport defaults. Overridable per Config; keep these aligned with the
// dev server's expectations in internal/collabserver.
const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultBackoffBase       = 1 * time.Second
	defaultBackoffCap        = 30 * time.Second
	defaultMaxAttempts       = 5

	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second

	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB
)

// Fixed error-state messages.
const (
	authFailureMessage    = "authentication rejected"
	retryExhaustedMessage = "connection lost: reconnect attempts exhausted"
)
