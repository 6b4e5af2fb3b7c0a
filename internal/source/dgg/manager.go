package dgg

import (
	"context"
	"sync"

	"github.com/you/tl2/internal/event"
)

// Manager runs one Worker per configured site concurrently and waits for
// all of them to stop.
type Manager struct {
	sites []Config
	out   chan<- event.AllEvents
}

func NewManager(sites []Config, out chan<- event.AllEvents) *Manager {
	return &Manager{sites: sites, out: out}
}

// Run starts a Worker per site and blocks until ctx is cancelled or every
// worker exits (a malformed URL stops only that site's worker, not the
// others).
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, site := range m.sites {
		wg.Add(1)
		go func(cfg Config) {
			defer wg.Done()
			w := NewWorker(cfg, m.out)
			_ = w.Run(ctx)
		}(site)
	}
	wg.Wait()
}
