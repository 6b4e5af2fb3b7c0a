// Package dispatch fans out normalized messages from a single source
// channel to N independently-failing sinks: a write error on one sink
// quarantines it for the process lifetime without affecting the others.
package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/you/tl2/internal/alert"
	"github.com/you/tl2/internal/event"
	"github.com/you/tl2/internal/ingesttrace"
	"github.com/you/tl2/internal/sink"
)

// Dispatcher owns the sink slice exclusively; only its Run goroutine ever
// reads or mutates it, so no mutex guards it (mirrors the teacher's
// single-goroutine-owns-the-map discipline in httpapi.Server).
type Dispatcher struct {
	sinks   []sink.Writer
	names   []string
	active  []bool
	alerter alert.Alerter

	twitchSinks  []sink.TwitchEventWriter
	twitchNames  []string
	twitchActive []bool
}

// New builds a Dispatcher over sinks, named in the same order for alerts
// and logging. alerter may be nil, in which case alert.LogAlerter{} is used.
func New(sinks []sink.Writer, names []string, alerter alert.Alerter) *Dispatcher {
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	active := make([]bool, len(sinks))
	for i := range active {
		active[i] = true
	}
	return &Dispatcher{sinks: sinks, names: names, active: active, alerter: alerter}
}

// WithTwitchEventSinks registers sinks that consume raw Twitch events (e.g.
// UsernameTrackerSink) alongside the normalized-message sinks, under the
// same per-sink quarantine-on-first-failure discipline.
func (d *Dispatcher) WithTwitchEventSinks(sinks []sink.TwitchEventWriter, names []string) *Dispatcher {
	d.twitchSinks = sinks
	d.twitchNames = names
	d.twitchActive = make([]bool, len(sinks))
	for i := range d.twitchActive {
		d.twitchActive[i] = true
	}
	return d
}

// Run consumes events until the channel closes or ctx is cancelled. Each
// event is normalized (events with no message-content mapping, e.g. DGG
// roster frames, are dropped silently) and written to every still-active
// sink in turn; a write error quarantines that sink for the rest of the
// run.
func (d *Dispatcher) Run(ctx context.Context, events <-chan event.AllEvents) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev event.AllEvents) {
	if ev.Kind == event.SourceTwitch {
		d.dispatchTwitchEvent(ctx, ev.Twitch)
	}

	for _, raw := range event.ToRawMessage(ev) {
		d.dispatchMessage(ctx, ev, event.Normalize(raw))
	}
}

func (d *Dispatcher) dispatchMessage(ctx context.Context, ev event.AllEvents, msg event.SimpleMessage) {
	trace := ingesttrace.NewTrace(sourceLabel(ev), msg.Channel, msg.Username.Render(), snippet(msg.Text))
	trace.IncCounter(ingesttrace.StageNormalizedOK)

	for i, active := range d.active {
		if !active {
			continue
		}
		trace.IncCounter(ingesttrace.StageDispatched)
		if err := d.sinks[i].Write(msg); err != nil {
			d.quarantine(ctx, i, err)
			continue
		}
		trace.IncCounter(ingesttrace.StageSinkCommitted)
	}
}

func (d *Dispatcher) dispatchTwitchEvent(ctx context.Context, ev event.TwitchEvent) {
	for i, active := range d.twitchActive {
		if !active {
			continue
		}
		if err := d.twitchSinks[i].WriteTwitchEvent(ev); err != nil {
			d.quarantineTwitch(ctx, i, err)
		}
	}
}

func (d *Dispatcher) quarantine(ctx context.Context, i int, cause error) {
	d.active[i] = false
	name := d.sinkName(i)
	log.Printf("dispatch: sink %s quarantined: %v", name, cause)
	_ = d.alerter.Notify(ctx, alert.LevelError, fmt.Sprintf("sink %s quarantined: %v", name, cause))
}

func (d *Dispatcher) quarantineTwitch(ctx context.Context, i int, cause error) {
	d.twitchActive[i] = false
	name := fmt.Sprintf("twitch-sink[%d]", i)
	if i < len(d.twitchNames) && d.twitchNames[i] != "" {
		name = d.twitchNames[i]
	}
	log.Printf("dispatch: twitch event sink %s quarantined: %v", name, cause)
	_ = d.alerter.Notify(ctx, alert.LevelError, fmt.Sprintf("twitch event sink %s quarantined: %v", name, cause))
}

func (d *Dispatcher) sinkName(i int) string {
	if i < len(d.names) && d.names[i] != "" {
		return d.names[i]
	}
	return fmt.Sprintf("sink[%d]", i)
}

func sourceLabel(ev event.AllEvents) string {
	switch ev.Kind {
	case event.SourceTwitch:
		return "twitch"
	case event.SourceDgg:
		return "dgg"
	default:
		return "unknown"
	}
}

func snippet(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max]
}
