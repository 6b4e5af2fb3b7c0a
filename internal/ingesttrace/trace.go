// Package ingesttrace attaches structured, per-message trace metadata that
// follows an event from source to sink commit (or drop), logged via
// log/slog rather than carried as part of the event value itself.
package ingesttrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Stage is a pipeline checkpoint a message passes (or is dropped at).
type Stage string

const (
	StageSeenFromSource Stage = "seen_from_source"
	StageNormalizedOK   Stage = "normalized_ok"
	StageDispatched     Stage = "dispatched"
	StageSinkCommitted  Stage = "sink_committed"

	StageDroppedPrefix = "dropped_"
)

// StageDropped builds a Stage for a message dropped with the given reason
// (e.g. "invalid_format", "sink_quarantined").
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// MessageTrace tracks a single message's progress through the pipeline.
type MessageTrace struct {
	Source  string
	Channel string
	User    string
	Snippet string
	TraceID string

	mu       sync.Mutex
	counters map[Stage]int64
}

// NewTrace seeds a trace at StageSeenFromSource.
func NewTrace(source, channel, user, snippet string) *MessageTrace {
	t := &MessageTrace{
		Source:   source,
		Channel:  channel,
		User:     user,
		Snippet:  snippet,
		TraceID:  computeTraceID(source, channel, user, snippet),
		counters: make(map[Stage]int64),
	}
	t.counters[StageSeenFromSource] = 1
	return t
}

// IncCounter increments the counter for stage and returns the new value.
func (t *MessageTrace) IncCounter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[stage]++
	return t.counters[stage]
}

// LogTrace emits one structured log line with the trace's current counters.
func (t *MessageTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(msg,
		"trace_id", t.TraceID,
		"source", t.Source,
		"channel", t.Channel,
		"user", t.User,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *MessageTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		out[stage] = count
	}
	return out
}

func computeTraceID(source, channel, user, snippet string) string {
	digest := sha256.Sum256([]byte(source + "\x1f" + channel + "\x1f" + user + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
