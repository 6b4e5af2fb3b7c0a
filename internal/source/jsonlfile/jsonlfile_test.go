package jsonlfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/you/tl2/internal/event"
	"github.com/you/tl2/internal/unified"
)

func TestWalkDecodesUnifiedRecords(t *testing.T) {
	root := t.TempDir()
	channelDir := filepath.Join(root, "destiny")
	if err := os.MkdirAll(channelDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	sm := event.Normalize(event.RawMessage{Channel: "destiny", Username: event.NormalUsername("foo"), Text: "hi"})
	rec := unified.FromSimpleMessage(sm)
	data, err := rec.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	content := string(data) + "\n" + `{"kind":"not-a-real-kind"}` + "\n" + string(data) + "\n"
	if err := os.WriteFile(filepath.Join(channelDir, "2021-08-03.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out := make(chan event.SimpleMessage, 10)
	if err := Walk(root, out); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var got []event.SimpleMessage
	for m := range out {
		got = append(got, m)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 decoded messages (bad kind dropped), got %d", len(got))
	}
	if got[0].ID != sm.ID || got[0].Text != "hi" {
		t.Errorf("unexpected message: %+v", got[0])
	}
}
