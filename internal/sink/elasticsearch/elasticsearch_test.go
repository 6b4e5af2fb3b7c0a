package elasticsearch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/you/tl2/internal/event"
)

func testMessage(channel, username, text string, ts time.Time) event.SimpleMessage {
	return event.SimpleMessage{
		Channel:   channel,
		Username:  event.NormalUsername(username),
		Text:      text,
		Timestamp: ts,
	}
}

func TestSinkIndexesBatchOnClose(t *testing.T) {
	var mu sync.Mutex
	var bulkHits int
	var lastBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/_bulk":
			mu.Lock()
			bulkHits++
			mu.Unlock()
			body := make([]byte, r.ContentLength)
			r.Body.Read(body)
			mu.Lock()
			lastBody = body
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": []any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL, Index: "chat"}, nil)
	if err := s.Write(testMessage("destiny", "alice", "hi", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if bulkHits != 1 {
		t.Fatalf("expected 1 bulk request, got %d", bulkHits)
	}
	if len(lastBody) == 0 {
		t.Fatalf("expected non-empty bulk body")
	}
}

func TestSinkRejectsWriteAfterClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": []any{}})
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL, Index: "chat"}, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Write(testMessage("destiny", "bob", "hi", time.Now())); err == nil {
		t.Fatalf("expected error writing after close")
	}
}
