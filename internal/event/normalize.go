package event

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// SimpleMessage is the normalized shape emitted to sinks: the phantom
// type-state counterpart of RawMessage. Sources obtain one through
// Normalize. The fields are exported, so other code can also build one
// directly (unified.OrlLog1_0.SimpleMessage rebuilds one from an
// already-normalized record); the type does not enforce normalization.
type SimpleMessage struct {
	ID        string
	Channel   string
	Timestamp time.Time
	Username  Usernames
	Text      string
}

// RawMessage is an un-normalized message as decoded from a source (ORL
// line, Twitch IRC tag set, DGG frame). It carries no ID; one is derived
// during normalization.
type RawMessage struct {
	Channel   string
	Username  Usernames
	Text      string
	Timestamp time.Time
}

// NormalizeChannel capitalizes the first letter of the trimmed input,
// leaving the rest untouched. Idempotent.
func NormalizeChannel(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return trimmed
	}
	r := []rune(trimmed)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// NormalizeText trims surrounding whitespace. Idempotent.
func NormalizeText(s string) string {
	return strings.TrimSpace(s)
}

// Normalize applies channel/username/text normalization and derives an ID
// that is a pure function of the normalized (timestamp, channel, username,
// text) tuple. Re-normalizing an already-normalized SimpleMessage (by
// round-tripping through RawMessage) yields an equal message.
func Normalize(r RawMessage) SimpleMessage {
	channel := NormalizeChannel(r.Channel)
	text := NormalizeText(r.Text)
	username := r.Username
	if username.Kind == UsernameNormal {
		username = NormalUsername(normalizeLogin(username.Name))
	}
	ts := r.Timestamp.UTC().Truncate(time.Millisecond)

	return SimpleMessage{
		ID:        deriveID(ts, channel, username.Render(), text),
		Channel:   channel,
		Timestamp: ts,
		Username:  username,
		Text:      text,
	}
}

// deriveID builds "{timestamp_ms}-{hex8(hash(channel))}-{hex8(hash(username))}-{hex8(hash(text))}".
func deriveID(ts time.Time, channel, username, text string) string {
	return fmt.Sprintf("%d-%s-%s-%s", ts.UnixMilli(), squashHash8(channel), squashHash8(username), squashHash8(text))
}
