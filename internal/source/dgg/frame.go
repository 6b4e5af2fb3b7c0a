package dgg

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/you/tl2/internal/event"
)

// rawUser is the wire shape of a chat participant: a nick plus a feature
// list (subscriber tier, moderator, vip, ...). Feature flags aren't carried
// into event.DggEvent; only the nick matters downstream.
type rawUser struct {
	Nick     string   `json:"nick"`
	Features []string `json:"features"`
}

type msgFrame struct {
	rawUser
	Text      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type broadcastFrame struct {
	Text      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type moderationFrame struct {
	Target    string `json:"data"`
	Sender    string `json:"nick"`
	Timestamp int64  `json:"timestamp"`
}

type namesFrame struct {
	ConnectionCount int       `json:"connectioncount"`
	Users           []rawUser `json:"users"`
}

type joinFrame struct {
	rawUser
	Timestamp int64 `json:"timestamp"`
}

func msFromEpoch(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// parseFrame decodes one "<EVENT> <json-body>" WebSocket text frame into a
// DggEvent. ok is false for frames this toolbox doesn't represent (unknown
// event types, or a frame with no space-delimited body).
func parseFrame(raw string, channel string) (event.DggEvent, bool, error) {
	eventType, body, found := strings.Cut(raw, " ")
	if !found {
		return event.DggEvent{}, false, nil
	}

	switch eventType {
	case "BROADCAST":
		var f broadcastFrame
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return event.DggEvent{}, false, fmt.Errorf("dgg: decode BROADCAST: %w", err)
		}
		return event.DggEvent{
			Channel:   channel,
			Kind:      event.DggBroadcast,
			Timestamp: msFromEpoch(f.Timestamp),
			Text:      f.Text,
		}, true, nil

	case "MSG":
		var f msgFrame
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return event.DggEvent{}, false, fmt.Errorf("dgg: decode MSG: %w", err)
		}
		return event.DggEvent{
			Channel:   channel,
			Kind:      event.DggMessage,
			Timestamp: msFromEpoch(f.Timestamp),
			Nick:      f.Nick,
			Text:      f.Text,
		}, true, nil

	case "MUTE", "UNMUTE", "BAN", "UNBAN":
		var f moderationFrame
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return event.DggEvent{}, false, fmt.Errorf("dgg: decode %s: %w", eventType, err)
		}
		return event.DggEvent{
			Channel:   channel,
			Kind:      event.DggModeration,
			Timestamp: msFromEpoch(f.Timestamp),
			ModKind:   moderationKind(eventType),
			Target:    f.Target,
			Sender:    f.Sender,
		}, true, nil

	case "NAMES":
		var f namesFrame
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return event.DggEvent{}, false, fmt.Errorf("dgg: decode NAMES: %w", err)
		}
		users := make([]string, 0, len(f.Users))
		for _, u := range f.Users {
			users = append(users, u.Nick)
		}
		return event.DggEvent{
			Channel: channel,
			Kind:    event.DggNames,
			Users:   users,
		}, true, nil

	case "JOIN", "QUIT":
		var f joinFrame
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return event.DggEvent{}, false, fmt.Errorf("dgg: decode %s: %w", eventType, err)
		}
		kind := event.DggJoin
		if eventType == "QUIT" {
			kind = event.DggQuit
		}
		return event.DggEvent{
			Channel:   channel,
			Kind:      kind,
			Timestamp: msFromEpoch(f.Timestamp),
			Nick:      f.Nick,
		}, true, nil

	default:
		return event.DggEvent{}, false, nil
	}
}

func moderationKind(eventType string) event.DggModerationKind {
	switch eventType {
	case "BAN":
		return event.DggBan
	case "UNBAN":
		return event.DggUnban
	case "MUTE":
		return event.DggMute
	case "UNMUTE":
		return event.DggUnmute
	default:
		return event.DggModerationUnknown
	}
}
