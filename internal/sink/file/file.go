// Package file implements FileSink: append-only per-channel/per-day text
// logs in the ORL on-disk line format.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/you/tl2/internal/event"
)

const (
	flushBatchSize    = 50
	flushInterval     = 5 * time.Second
	timestampLayout   = "2006-01-02 15:04:05.000 MST"
	dayLayout         = "2006-01-02"
)

// Sink writes each SimpleMessage to <root>/<channel>/<YYYY-MM-DD>.txt,
// buffering per channel and flushing on a 50-line or 5-second trigger.
type Sink struct {
	root string

	mu      sync.Mutex
	buffers map[string]*channelBuffer
	closed  bool
}

type channelBuffer struct {
	lines []event.SimpleMessage
	timer *time.Timer
}

// New creates a FileSink rooted at root. Channel subdirectories are created
// lazily on first write.
func New(root string) *Sink {
	return &Sink{root: root, buffers: make(map[string]*channelBuffer)}
}

// Write buffers msg under its channel, flushing that channel's buffer if
// the batch-size or flush-interval trigger fires.
func (s *Sink) Write(msg event.SimpleMessage) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("file sink closed")
	}

	buf, ok := s.buffers[msg.Channel]
	if !ok {
		buf = &channelBuffer{}
		s.buffers[msg.Channel] = buf
	}
	buf.lines = append(buf.lines, msg)
	if len(buf.lines) == 1 {
		buf.timer = time.AfterFunc(flushInterval, func() { s.flushOnTimer(msg.Channel) })
	}

	var flushNow []event.SimpleMessage
	if len(buf.lines) >= flushBatchSize {
		flushNow = buf.lines
		buf.lines = nil
		if buf.timer != nil {
			buf.timer.Stop()
			buf.timer = nil
		}
	}
	s.mu.Unlock()

	if flushNow != nil {
		return s.flush(msg.Channel, flushNow)
	}
	return nil
}

func (s *Sink) flushOnTimer(channel string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	buf, ok := s.buffers[channel]
	if !ok || len(buf.lines) == 0 {
		if ok {
			buf.timer = nil
		}
		s.mu.Unlock()
		return
	}
	lines := buf.lines
	buf.lines = nil
	buf.timer = nil
	s.mu.Unlock()

	if err := s.flush(channel, lines); err != nil {
		// FileSink has no upstream to report to except the log; the
		// dispatcher only sees errors returned from Write.
		fmt.Fprintf(os.Stderr, "file sink: flush %s: %v\n", channel, err)
	}
}

// Close flushes every channel's remaining buffer.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.buffers
	s.buffers = nil
	s.mu.Unlock()

	var firstErr error
	for channel, buf := range pending {
		if buf.timer != nil {
			buf.timer.Stop()
		}
		if len(buf.lines) == 0 {
			continue
		}
		if err := s.flush(channel, buf.lines); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Sink) flush(channel string, lines []event.SimpleMessage) error {
	byDay := make(map[string][]string)
	order := make([]string, 0, 4)
	for _, msg := range lines {
		day := msg.Timestamp.UTC().Format(dayLayout)
		if _, ok := byDay[day]; !ok {
			order = append(order, day)
		}
		byDay[day] = append(byDay[day], formatLine(msg))
	}

	channelDir := filepath.Join(s.root, channel)
	if err := os.MkdirAll(channelDir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir channel dir")
	}

	for _, day := range order {
		path := filepath.Join(channelDir, day+".txt")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		for _, line := range byDay[day] {
			if _, err := f.WriteString(line + "\n"); err != nil {
				f.Close()
				return errors.Wrapf(err, "write %s", path)
			}
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "close %s", path)
		}
	}
	return nil
}

func formatLine(msg event.SimpleMessage) string {
	ts := msg.Timestamp.UTC().Format(timestampLayout)
	return fmt.Sprintf("[%s] %s: %s", ts, msg.Username.Render(), msg.Text)
}
