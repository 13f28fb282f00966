package realtime

import "time"

// Security/performance limits for the realtime gateway.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Display names are trimmed and capped at this many runes; empty becomes null.
	displayNameMaxChars = 30
)

const (
	// Message length bounds for the configurable maximum.
	minMessageMaxChars     = 20
	maxMessageMaxChars     = 10000
	defaultMessageMaxChars = 2000
)

const (
	// Heartbeat defaults (can be overridden via GatewayConfig).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

// ClampMessageMaxChars bounds the configured max message length to [20,10000].
func ClampMessageMaxChars(n int) int {
	if n < minMessageMaxChars || n > maxMessageMaxChars {
		return defaultMessageMaxChars
	}
	return n
}
