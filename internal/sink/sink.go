// Package sink defines the dispatcher-facing sink contract and a generic
// batching core (BufferedWriter) used by ClickhouseSink, SqliteSink and
// JsonlSink. FileSink, ElasticsearchSink and UsernameTrackerSink do their
// own buffering.
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/you/tl2/internal/event"
)

// ErrClosed is returned by Write once a sink has been closed.
var ErrClosed = errors.New("sink: closed")

// Writer is the dispatcher-facing contract every sink exposes. Write is
// synchronous; whether it performs the underlying I/O depends on the sink:
// buffered sinks commit inline when a write fills a batch, while
// ElasticsearchSink only enqueues for its background worker.
type Writer interface {
	Write(event.SimpleMessage) error
	Close() error
}

// TwitchEventWriter is the dispatcher-facing contract for sinks that need
// the raw Twitch event rather than the normalized message (UsernameTrackerSink:
// it needs the Twitch user ID and UserNotice subtype, neither of which
// survive Normalize).
type TwitchEventWriter interface {
	WriteTwitchEvent(event.TwitchEvent) error
	Close() error
}

// BatchCommitter performs the actual bulk operation a sink wraps (bulk
// insert, append-file flush, ...). BufferedWriter calls it from the
// goroutine calling Write or Close, or from its flush timer's goroutine, so
// calls can overlap. If the committer also has a Close() error method,
// BufferedWriter.Close calls it after the final commit.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, batch []event.SimpleMessage) error
}

// Options configures a BufferedWriter's batch-size/flush-interval trigger:
// a flush happens when the buffer reaches BatchSize messages, or when
// FlushInterval has elapsed since the first buffered message, whichever
// comes first.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
}

// BufferedWriter is the generic batching core a bulk sink wraps around
// its BatchCommitter. The mutex+timer trigger logic is the same regardless
// of what's underneath: append to the buffer, start a flush timer on the
// first message, flush either when the buffer reaches BatchSize or the
// timer fires, whichever happens first.
type BufferedWriter struct {
	base          BatchCommitter
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	buffer  []event.SimpleMessage
	timer   *time.Timer
	closed  bool
	lastErr error
}

// NewBufferedWriter wraps base with batch/flush-interval triggered commits.
func NewBufferedWriter(base BatchCommitter, opts Options) *BufferedWriter {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &BufferedWriter{
		base:          base,
		batchSize:     batch,
		flushInterval: opts.FlushInterval,
	}
}

// Write enqueues msg, and returns any pending error from a previous
// background flush. It never blocks on the underlying commit, except when
// enqueuing msg itself happens to trip the batch-size threshold.
func (b *BufferedWriter) Write(msg event.SimpleMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	pendingErr := b.lastErr
	b.lastErr = nil

	b.buffer = append(b.buffer, msg)
	if len(b.buffer) == 1 && b.flushInterval > 0 {
		b.startTimerLocked()
	}

	if len(b.buffer) < b.batchSize {
		b.mu.Unlock()
		return pendingErr
	}

	batch := append([]event.SimpleMessage(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	b.stopTimerLocked()
	b.mu.Unlock()

	if err := b.commit(batch); err != nil {
		return err
	}
	return pendingErr
}

// Close flushes any remaining buffered messages, closes the BatchCommitter
// if it has a Close method, and marks the writer unusable.
func (b *BufferedWriter) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stopTimerLocked()
	batch := append([]event.SimpleMessage(nil), b.buffer...)
	b.buffer = nil
	pendingErr := b.lastErr
	b.lastErr = nil
	b.mu.Unlock()

	var err error
	if len(batch) > 0 {
		err = b.commit(batch)
	}
	if c, ok := b.base.(interface{ Close() error }); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return err
	}
	return pendingErr
}

func (b *BufferedWriter) onTimer() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	// elapsed >= flush_interval: the timer firing at all means the
	// interval has elapsed, so any non-empty buffer is flushed now rather
	// than waiting for a second signal.
	if len(b.buffer) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}
	batch := append([]event.SimpleMessage(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	b.timer = nil
	b.mu.Unlock()

	if err := b.commit(batch); err != nil {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
	}
}

func (b *BufferedWriter) startTimerLocked() {
	if b.flushInterval <= 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.flushInterval, b.onTimer)
}

func (b *BufferedWriter) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *BufferedWriter) commit(batch []event.SimpleMessage) error {
	return b.base.CommitBatch(context.Background(), batch)
}
