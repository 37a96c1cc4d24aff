package collabserver

import "time"

// Security/performance limits for the dev server.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute

	// Per-connection rate limits (frames per window).
	defaultRateEvents = 120
	defaultRateWindow = 10 * time.Second
)
