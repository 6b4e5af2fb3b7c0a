package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/you/tl2/internal/event"
	"github.com/you/tl2/internal/sink"
)

type fakeSink struct {
	mu       sync.Mutex
	writes   int
	failFrom int // fail starting from this write index (1-based); 0 = never fail
}

func (f *fakeSink) Write(event.SimpleMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failFrom != 0 && f.writes >= f.failFrom {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type fakeTwitchSink struct {
	mu       sync.Mutex
	writes   int
	failFrom int
}

func (f *fakeTwitchSink) WriteTwitchEvent(event.TwitchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failFrom != 0 && f.writes >= f.failFrom {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeTwitchSink) Close() error { return nil }

func (f *fakeTwitchSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func twitchPrivmsg(channel, user, text string) event.AllEvents {
	return event.AllEvents{
		Kind: event.SourceTwitch,
		Twitch: event.TwitchEvent{
			Kind:        event.TwitchPrivmsg,
			ChannelName: channel,
			Sender:      event.Sender{Login: user},
			Text:        text,
		},
	}
}

func TestDispatcherOneWritePerActiveSink(t *testing.T) {
	a, b, c := &fakeSink{}, &fakeSink{}, &fakeSink{}
	d := New([]sink.Writer{a, b, c}, []string{"a", "b", "c"}, nil)

	ch := make(chan event.AllEvents)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Run(ctx, ch)

	for i := 0; i < 3; i++ {
		ch <- twitchPrivmsg("destiny", "foo", "hi")
	}
	time.Sleep(20 * time.Millisecond)

	if a.count() != 3 || b.count() != 3 || c.count() != 3 {
		t.Fatalf("expected 3 writes each, got a=%d b=%d c=%d", a.count(), b.count(), c.count())
	}
}

func TestDispatcherQuarantinesFailingSink(t *testing.T) {
	a, b, c := &fakeSink{}, &fakeSink{failFrom: 1}, &fakeSink{}
	d := New([]sink.Writer{a, b, c}, []string{"a", "b", "c"}, nil)

	ch := make(chan event.AllEvents)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Run(ctx, ch)

	for i := 0; i < 3; i++ {
		ch <- twitchPrivmsg("destiny", "foo", "hi")
	}
	time.Sleep(20 * time.Millisecond)

	if a.count() != 3 || c.count() != 3 {
		t.Fatalf("expected unaffected sinks to get 3 writes, got a=%d c=%d", a.count(), c.count())
	}
	if b.count() != 1 {
		t.Fatalf("expected failing sink to receive exactly 1 write, got %d", b.count())
	}
	if d.active[1] {
		t.Fatalf("expected sink b to be quarantined (inactive)")
	}
}

func TestDispatcherFansOutRawTwitchEventsAndQuarantinesIndependently(t *testing.T) {
	a, b := &fakeTwitchSink{}, &fakeTwitchSink{failFrom: 1}
	d := New(nil, nil, nil).WithTwitchEventSinks([]sink.TwitchEventWriter{a, b}, []string{"a", "b"})

	ch := make(chan event.AllEvents)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Run(ctx, ch)

	for i := 0; i < 3; i++ {
		ch <- twitchPrivmsg("destiny", "foo", "hi")
	}
	time.Sleep(20 * time.Millisecond)

	if a.count() != 3 {
		t.Fatalf("expected unaffected twitch sink to get 3 writes, got %d", a.count())
	}
	if b.count() != 1 {
		t.Fatalf("expected failing twitch sink to receive exactly 1 write, got %d", b.count())
	}
	if d.twitchActive[1] {
		t.Fatalf("expected twitch sink b to be quarantined (inactive)")
	}
}
