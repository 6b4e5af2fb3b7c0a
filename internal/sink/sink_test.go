package sink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/you/tl2/internal/event"
)

type recordingCommitter struct {
	mu      sync.Mutex
	batches [][]event.SimpleMessage
	err     error
}

func (r *recordingCommitter) CommitBatch(_ context.Context, batch []event.SimpleMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return r.err
}

func (r *recordingCommitter) snapshot() [][]event.SimpleMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]event.SimpleMessage(nil), r.batches...)
}

func msg(text string) event.SimpleMessage {
	return event.SimpleMessage{Channel: "destiny", Text: text}
}

func TestBufferedWriterFlushesOnBatchSize(t *testing.T) {
	rec := &recordingCommitter{}
	w := NewBufferedWriter(rec, Options{BatchSize: 2})

	if err := w.Write(msg("a")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("expected no flush yet, got %d batches", len(got))
	}

	if err := w.Write(msg("b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := rec.snapshot()
	if len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %+v", got)
	}
}

func TestBufferedWriterFlushesOnTimer(t *testing.T) {
	rec := &recordingCommitter{}
	w := NewBufferedWriter(rec, Options{BatchSize: 100, FlushInterval: 20 * time.Millisecond})

	if err := w.Write(msg("a")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(rec.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got := rec.snapshot()
	if len(got) != 1 || len(got[0]) != 1 {
		t.Fatalf("expected timer-triggered flush of 1, got %+v", got)
	}
}

func TestBufferedWriterCloseFlushesRemainder(t *testing.T) {
	rec := &recordingCommitter{}
	w := NewBufferedWriter(rec, Options{BatchSize: 100, FlushInterval: time.Hour})

	_ = w.Write(msg("a"))
	_ = w.Write(msg("b"))

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got := rec.snapshot()
	if len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("expected close to flush remaining batch, got %+v", got)
	}

	if err := w.Write(msg("c")); err != ErrClosed {
		t.Fatalf("Write after close = %v, want ErrClosed", err)
	}
}

func TestBufferedWriterPropagatesTimerError(t *testing.T) {
	rec := &recordingCommitter{err: context.DeadlineExceeded}
	w := NewBufferedWriter(rec, Options{BatchSize: 100, FlushInterval: 10 * time.Millisecond})

	_ = w.Write(msg("a"))
	time.Sleep(50 * time.Millisecond)

	err := w.Write(msg("b"))
	if err != context.DeadlineExceeded {
		t.Fatalf("expected pending timer error surfaced on next Write, got %v", err)
	}
}
