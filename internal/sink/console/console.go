// Package console implements ConsoleSink (prints each message) and
// ConsoleMetricsSink (prints a rolling throughput summary every 30s, and
// exposes the same counts as Prometheus metrics).
package console

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/tl2/internal/event"
)

// Sink prints one formatted line per message to stdout.
type Sink struct {
	mu     sync.Mutex
	out    func(string)
	closed bool
}

// New returns a ConsoleSink printing via fmt.Println.
func New() *Sink {
	return &Sink{out: func(s string) { fmt.Println(s) }}
}

func (s *Sink) Write(msg event.SimpleMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("console sink closed")
	}
	s.out(fmt.Sprintf("[%s] %s: %s", msg.Channel, msg.Username.Render(), msg.Text))
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	messagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tl2",
		Subsystem: "console_metrics_sink",
		Name:      "messages_total",
		Help:      "Total messages observed by the console metrics sink.",
	})
)

func init() {
	prometheus.MustRegister(messagesTotal)
}

// MetricsSink counts messages and, every 30s, prints
// "<n> messages/min, <r> messages/s" then resets its window counter. It
// never blocks a dispatch; the periodic print runs on its own goroutine.
type MetricsSink struct {
	count  int64
	closed int32
	done   chan struct{}
}

// NewMetrics starts the 30s reporting loop and returns the sink.
func NewMetrics() *MetricsSink {
	m := &MetricsSink{done: make(chan struct{})}
	go m.report()
	return m
}

func (m *MetricsSink) Write(event.SimpleMessage) error {
	if atomic.LoadInt32(&m.closed) != 0 {
		return fmt.Errorf("console metrics sink closed")
	}
	atomic.AddInt64(&m.count, 1)
	messagesTotal.Inc()
	return nil
}

func (m *MetricsSink) Close() error {
	if atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		close(m.done)
	}
	return nil
}

func (m *MetricsSink) report() {
	const period = 30 * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			n := atomic.SwapInt64(&m.count, 0)
			perSecond := float64(n) / period.Seconds()
			perMinute := float64(n) / period.Minutes()
			fmt.Printf("%.0f messages/min, %.2f messages/s\n", perMinute, perSecond)
		}
	}
}
