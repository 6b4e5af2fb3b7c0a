package unified

import (
	"testing"

	"github.com/you/tl2/internal/event"
)

func TestRoundTrip(t *testing.T) {
	sm := event.Normalize(event.RawMessage{
		Channel:  "destiny",
		Username: event.NormalUsername("foo"),
		Text:     "hello",
	})
	rec := FromSimpleMessage(sm)
	if rec.Kind != KindOrlLog1_0 {
		t.Fatalf("kind = %q, want %q", rec.Kind, KindOrlLog1_0)
	}

	data, err := rec.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.ID != rec.ID || decoded.Text != rec.Text || decoded.ChannelName != rec.ChannelName {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, rec)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"simple-log/1.0"}`))
	if err != ErrUnknownKind {
		t.Fatalf("err = %v, want %v", err, ErrUnknownKind)
	}
}
