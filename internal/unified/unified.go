// Package unified encodes/decodes UnifiedMessageLog, the tagged JSON-lines
// record TL2 uses for JsonlSink output and JsonFileSource input. Only the
// "orl-log/1.0" variant is implemented; Decode rejects any other kind with
// ErrUnknownKind, so such records are not carried through.
package unified

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/you/tl2/internal/event"
)

const KindOrlLog1_0 = "orl-log/1.0"

// ErrUnknownKind is returned by Decode when the record's "kind" tag isn't
// recognized.
var ErrUnknownKind = errors.New("unified: unknown kind")

// OrlLog1_0 is the "orl-log/1.0" variant: an ORL-derived chat line plus its
// derived ID and millisecond timestamp.
type OrlLog1_0 struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Timestamp   int64  `json:"timestamp"`
	Username    string `json:"username"`
	ChannelName string `json:"channel_name"`
	Text        string `json:"text"`
}

// FromSimpleMessage builds an OrlLog1_0 record from an already-normalized
// message.
func FromSimpleMessage(m event.SimpleMessage) OrlLog1_0 {
	return OrlLog1_0{
		Kind:        KindOrlLog1_0,
		ID:          m.ID,
		Timestamp:   m.Timestamp.UnixMilli(),
		Username:    m.Username.Render(),
		ChannelName: m.Channel,
		Text:        m.Text,
	}
}

// SimpleMessage reconstructs a normalized SimpleMessage from the record.
func (r OrlLog1_0) SimpleMessage() event.SimpleMessage {
	return event.SimpleMessage{
		ID:        r.ID,
		Channel:   r.ChannelName,
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Username:  event.NormalUsername(r.Username),
		Text:      r.Text,
	}
}

// Marshal serializes r as a single JSON line (no trailing newline).
func (r OrlLog1_0) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

type kindTag struct {
	Kind string `json:"kind"`
}

// Decode parses one JSON-lines record. Only KindOrlLog1_0 is supported;
// anything else returns ErrUnknownKind.
func Decode(line []byte) (OrlLog1_0, error) {
	var tag kindTag
	if err := json.Unmarshal(line, &tag); err != nil {
		return OrlLog1_0{}, err
	}
	if tag.Kind != KindOrlLog1_0 {
		return OrlLog1_0{}, ErrUnknownKind
	}
	var rec OrlLog1_0
	if err := json.Unmarshal(line, &rec); err != nil {
		return OrlLog1_0{}, err
	}
	return rec, nil
}
