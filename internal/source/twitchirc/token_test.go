package twitchirc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeToken(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"  abc123  ":     "oauth:abc123",
		"oauth:abc123":   "oauth:abc123",
		"  oauth:xyz  ":  "oauth:xyz",
	}
	for in, want := range cases {
		if got := NormalizeToken(in); got != want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileTokenProviderReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("first"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p := NewFileTokenProvider(path)
	if got := p.Token(); got != "oauth:first" {
		t.Fatalf("expected oauth:first, got %q", got)
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p.reload()
	if got := p.Token(); got != "oauth:second" {
		t.Fatalf("expected oauth:second after reload, got %q", got)
	}
}
