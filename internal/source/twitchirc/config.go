// Package twitchirc is the Twitch sub-component of LiveScraper: a raw
// TCP/TLS IRC client that maps incoming messages onto event.TwitchEvent and
// a manager that splits a rehydrated channel set across connections, each
// capped at maxChannelsPerConnection.
package twitchirc

import "time"

// Connection parameters preserved as constants per spec.md §4.5: these
// values are Twitch-specific rate limits observed at the time of writing,
// not something this package should make configurable.
const (
	maxChannelsPerConnection = 90
	newConnectionEvery       = 2 * time.Second
	messagePacing            = 150 * time.Millisecond
	connectTimeout           = 20 * time.Second
)

// Config configures the Twitch sub-component.
type Config struct {
	Nick          string
	Token         string
	TokenProvider func() string
	UseTLS        bool
	Addr          string // override for tests; defaults to irc.chat.twitch.tv

	// SyncChannelsInterval is how often the channel set is rehydrated from
	// Source. Default 5 minutes.
	SyncChannelsInterval time.Duration
}
