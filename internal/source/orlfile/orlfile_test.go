package orlfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/you/tl2/internal/event"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWalkParsesAndDropsBadLines(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "destiny", "2021-08-03.txt"),
		"[2021-08-03 17:40:27 UTC] foo: hello\n"+
			"this line is garbage\n"+
			"[2021-08-03 17:40:28 UTC] bar: world\n")

	out := make(chan event.SimpleMessage, 10)
	if err := Walk(root, out); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var got []event.SimpleMessage
	for m := range out {
		got = append(got, m)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(got), got)
	}
	if got[0].Channel != "Destiny" || got[0].Username.Render() != "foo" || got[0].Text != "hello" {
		t.Errorf("unexpected first message: %+v", got[0])
	}
	if got[1].Username.Render() != "bar" || got[1].Text != "world" {
		t.Errorf("unexpected second message: %+v", got[1])
	}
}

func TestWalkMissingRoot(t *testing.T) {
	out := make(chan event.SimpleMessage, 1)
	if err := Walk(filepath.Join(t.TempDir(), "does-not-exist"), out); err == nil {
		t.Fatal("expected error for missing root")
	}
}
