package dgg

import (
	"testing"

	"github.com/you/tl2/internal/event"
)

func TestParseFrameMessage(t *testing.T) {
	raw := `MSG {"nick":"foo","features":["subscriber"],"data":"hello world","timestamp":1628037852616}`
	ev, ok, err := parseFrame(raw, "destiny")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok")
	}
	if ev.Kind != event.DggMessage || ev.Nick != "foo" || ev.Text != "hello world" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Channel != "destiny" {
		t.Fatalf("expected channel to be set, got %+v", ev)
	}
}

func TestParseFrameBroadcast(t *testing.T) {
	raw := `BROADCAST {"data":"server restarting","timestamp":1628037852616}`
	ev, ok, err := parseFrame(raw, "destiny")
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if ev.Kind != event.DggBroadcast || ev.Text != "server restarting" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseFrameModerationBan(t *testing.T) {
	raw := `BAN {"data":"baduser","nick":"mod1","timestamp":1628037852616}`
	ev, ok, err := parseFrame(raw, "destiny")
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if ev.Kind != event.DggModeration || ev.ModKind != event.DggBan || ev.Target != "baduser" || ev.Sender != "mod1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseFrameNames(t *testing.T) {
	raw := `NAMES {"connectioncount":2,"users":[{"nick":"a","features":[]},{"nick":"b","features":["moderator"]}]}`
	ev, ok, err := parseFrame(raw, "destiny")
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if ev.Kind != event.DggNames || len(ev.Users) != 2 || ev.Users[0] != "a" || ev.Users[1] != "b" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseFrameJoinAndQuit(t *testing.T) {
	raw := `JOIN {"nick":"newbie","features":[],"timestamp":1628037852616}`
	ev, ok, err := parseFrame(raw, "destiny")
	if err != nil || !ok || ev.Kind != event.DggJoin || ev.Nick != "newbie" {
		t.Fatalf("unexpected join event: ok=%v err=%v ev=%+v", ok, err, ev)
	}

	raw = `QUIT {"nick":"newbie","features":[],"timestamp":1628037852616}`
	ev, ok, err = parseFrame(raw, "destiny")
	if err != nil || !ok || ev.Kind != event.DggQuit {
		t.Fatalf("unexpected quit event: ok=%v err=%v ev=%+v", ok, err, ev)
	}
}

func TestParseFrameUnknownEventDropped(t *testing.T) {
	_, ok, err := parseFrame(`PING {}`, "destiny")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected unknown event to be dropped")
	}
}

func TestParseFrameNoBodyDropped(t *testing.T) {
	_, ok, err := parseFrame(`MSG`, "destiny")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected bodyless frame to be dropped")
	}
}
