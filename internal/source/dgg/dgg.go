// Package dgg scrapes a destiny.gg-style chat site over its WebSocket feed
// and emits event.AllEvents{Kind: SourceDgg}. One worker owns one site
// (channel); Manager in a process that watches several sites just starts one
// worker per Config.
package dgg

import "time"

const (
	pingEvery       = 30 * time.Second
	pongTimeout     = 5 * time.Second
	defaultBackoffMin = 2 * time.Second
)

// Config describes one destiny.gg-style chat site to scrape.
type Config struct {
	// SiteName tags every event this worker emits (the "channel" field).
	SiteName string
	// Endpoint is the wss:// URL to dial. If UseGetKey is set, the fetched
	// chat key is appended as a path segment before dialing.
	Endpoint string
	// Origin is sent as the Origin header and, when UseGetKey is set, is
	// also the base URL for GET /api/chat/getkey.
	Origin string
	// UseGetKey fetches a short-lived chat key before connecting, the way
	// destiny.gg's own chat frontend does.
	UseGetKey bool
	// MaxRetrySeconds caps the reconnect backoff.
	MaxRetrySeconds uint64
}
