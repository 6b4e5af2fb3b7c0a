package dgg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/tl2/internal/event"
)

func TestWorkerRunConnectionDeliversParsedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`MSG {"nick":"foo","features":[],"data":"hi","timestamp":1628037852616}`))

		// Keep reading so the connection stays open for the test's cancel.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	out := make(chan event.AllEvents, 4)
	w := NewWorker(Config{SiteName: "destiny", Endpoint: "ws" + srv.URL[len("http"):], Origin: srv.URL}, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.runConnection(ctx) }()

	select {
	case ev := <-out:
		if ev.Kind != event.SourceDgg || ev.Dgg.Kind != event.DggMessage || ev.Dgg.Nick != "foo" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for parsed event")
	}
}

func TestWorkerBackoffResetsAfterHealthyMessage(t *testing.T) {
	w := NewWorker(Config{SiteName: "destiny", MaxRetrySeconds: 60}, make(chan event.AllEvents, 1))

	w.mu.Lock()
	w.failing = true
	w.mu.Unlock()

	w.markHealthy()

	w.mu.Lock()
	failing := w.failing
	w.mu.Unlock()
	if failing {
		t.Fatalf("expected markHealthy to clear the failing flag")
	}
}

func TestRunConnectionRejectsMalformedEndpoint(t *testing.T) {
	w := NewWorker(Config{SiteName: "destiny", Endpoint: "://not-a-url"}, make(chan event.AllEvents, 1))
	err := w.runConnection(context.Background())
	if err == nil {
		t.Fatalf("expected malformed endpoint to error")
	}
	if !isFatalURLError(err) {
		t.Fatalf("expected malformed endpoint error to be classified fatal, got: %v", err)
	}
}
