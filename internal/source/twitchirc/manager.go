package twitchirc

import (
	"context"
	"log"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/you/tl2/internal/event"
)

// Manager rehydrates the wanted channel set from a ChannelSource on a
// fixed interval and runs one client per group of up to
// maxChannelsPerConnection channels. Once a client is started for a group
// of channels it is never reassigned; a full rehydration that changes the
// channel set restarts every client.
type Manager struct {
	cfg    Config
	source ChannelSource
	out    chan<- event.AllEvents
}

// New returns a Manager. out is the shared event channel feeding the
// dispatcher; the manager never closes it.
func New(cfg Config, source ChannelSource, out chan<- event.AllEvents) *Manager {
	if cfg.SyncChannelsInterval <= 0 {
		cfg.SyncChannelsInterval = 5 * time.Minute
	}
	return &Manager{cfg: cfg, source: source, out: out}
}

// Run hydrates the channel set once, starts the initial connections, then
// re-hydrates on cfg.SyncChannelsInterval. When the channel set changes,
// the previous generation's connections are cancelled and a fresh one is
// started over the new grouping.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SyncChannelsInterval)
	defer ticker.Stop()

	var genCancel context.CancelFunc
	var current []string
	restart := func(channels []string) {
		if genCancel != nil {
			genCancel()
		}
		genCtx, cancel := context.WithCancel(ctx)
		genCancel = cancel
		current = slices.Sorted(slices.Values(channels))
		m.startGeneration(genCtx, channels)
	}

	channels, err := m.source.Channels(ctx)
	if err != nil {
		log.Printf("twitchirc: initial channel hydration failed: %v", err)
	} else {
		restart(channels)
	}

	for {
		select {
		case <-ctx.Done():
			if genCancel != nil {
				genCancel()
			}
			return ctx.Err()
		case <-ticker.C:
			channels, err := m.source.Channels(ctx)
			if err != nil {
				log.Printf("twitchirc: channel hydration failed, keeping current set: %v", err)
				continue
			}
			if slices.Equal(slices.Sorted(slices.Values(channels)), current) {
				continue
			}
			restart(channels)
		}
	}
}

// startGeneration splits channels into groups of at most
// maxChannelsPerConnection and launches one client goroutine per group,
// staggering connection start by newConnectionEvery per spec.md §4.5. Every
// call gets its own generation ID so a rehydration's log lines (multiple
// connections, started over several seconds) can be grepped together.
func (m *Manager) startGeneration(ctx context.Context, channels []string) {
	gen := uuid.NewString()
	groups := chunkChannels(channels, maxChannelsPerConnection)
	log.Printf("twitchirc: generation %s starting %d connection(s) for %d channels", gen, len(groups), len(channels))

	for i, group := range groups {
		i, group := i, group
		go func() {
			if i > 0 {
				timer := time.NewTimer(time.Duration(i) * newConnectionEvery)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			c := newClient(m.cfg, group, m.out)
			if err := c.run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("twitchirc: generation %s connection for channels %v exited: %v", gen, group, err)
			}
		}()
	}
}

func chunkChannels(channels []string, size int) [][]string {
	if len(channels) == 0 {
		return nil
	}
	var groups [][]string
	for i := 0; i < len(channels); i += size {
		end := i + size
		if end > len(channels) {
			end = len(channels)
		}
		groups = append(groups, channels[i:end])
	}
	return groups
}
