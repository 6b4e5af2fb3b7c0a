// Package jsonl implements JsonlSink: per-channel/per-day append-only
// UnifiedMessageLog JSON-lines files.
package jsonl

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/you/tl2/internal/event"
	"github.com/you/tl2/internal/sink"
	"github.com/you/tl2/internal/unified"
)

const dayLayout = "2006-01-02"

// committer is the BatchCommitter the BufferedWriter drives.
type committer struct {
	root string
}

// New returns a buffered Writer over a committer rooted at root, batched
// the same way as the other bulk sinks (default batch/flush tuned by the
// caller via sink.Options).
func New(root string, opts sink.Options) sink.Writer {
	return sink.NewBufferedWriter(&committer{root: root}, opts)
}

// CommitBatch groups batch by (channel, day), serializes each message as a
// UnifiedMessageLog line, and appends all lines of a group in one write.
func (c *committer) CommitBatch(_ context.Context, batch []event.SimpleMessage) error {
	type key struct {
		channel string
		day     string
	}
	groups := make(map[key][][]byte)
	order := make([]key, 0, 4)

	for _, msg := range batch {
		k := key{channel: msg.Channel, day: msg.Timestamp.UTC().Format(dayLayout)}
		data, err := unified.FromSimpleMessage(msg).Marshal()
		if err != nil {
			return errors.Wrap(err, "marshal unified record")
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], data)
	}

	for _, k := range order {
		channelDir := filepath.Join(c.root, k.channel)
		if err := os.MkdirAll(channelDir, 0o755); err != nil {
			return errors.Wrap(err, "mkdir channel dir")
		}
		path := filepath.Join(channelDir, k.day+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		for _, line := range groups[k] {
			if _, err := f.Write(append(line, '\n')); err != nil {
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
