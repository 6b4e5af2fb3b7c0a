package event

import (
	"testing"
	"time"
)

func TestPrivmsgWithBitsEmitsTwoMessages(t *testing.T) {
	ts := time.Date(2021, 8, 3, 17, 40, 27, 0, time.UTC)
	t1 := TwitchEvent{
		Kind:        TwitchPrivmsg,
		Timestamp:   ts,
		ChannelName: "destiny",
		Sender:      Sender{Login: "someuser", DisplayName: "SomeUser"},
		Text:        "cheer100 nice stream",
		Bits:        100,
	}
	group := ToRawMessage(AllEvents{Kind: SourceTwitch, Twitch: t1})
	if len(group) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(group), group)
	}
	if group[0].Username.Kind != UsernameNormal || group[0].Text != "cheer100 nice stream" {
		t.Errorf("unexpected chat line: %+v", group[0])
	}
	if group[1].Username.Kind != UsernameBits {
		t.Errorf("expected second message to be UsernameBits, got %+v", group[1])
	}
	if group[1].Text != "SomeUser donated 100 bits to the channel!" {
		t.Errorf("unexpected bits text: %q", group[1].Text)
	}
}

func TestPrivmsgWithoutBitsEmitsOneMessage(t *testing.T) {
	t1 := TwitchEvent{
		Kind:        TwitchPrivmsg,
		ChannelName: "destiny",
		Sender:      Sender{Login: "someuser"},
		Text:        "hello",
	}
	group := ToRawMessage(AllEvents{Kind: SourceTwitch, Twitch: t1})
	if len(group) != 1 {
		t.Fatalf("expected 1 message, got %d: %+v", len(group), group)
	}
}

func TestUserNoticeResubEmitsContextualThenSystem(t *testing.T) {
	t1 := TwitchEvent{
		Kind:             TwitchUserNotice,
		ChannelName:      "destiny",
		Sender:           Sender{DisplayName: "SomeUser"},
		NoticeMsgID:      "resub",
		SubPlan:          SubPlanTier1,
		IsResub:          true,
		CumulativeMonths: 6,
		SystemMsg:        "SomeUser subscribed at Tier 1. They've subscribed for 6 months!",
	}
	group := ToRawMessage(AllEvents{Kind: SourceTwitch, Twitch: t1})
	if len(group) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(group), group)
	}
	if group[0].Username.Kind != UsernameSubscriber {
		t.Errorf("expected contextual message to be UsernameSubscriber, got %+v", group[0])
	}
	want := "SomeUser just resubscribed at Tier 1 for 6 months!"
	if group[0].Text != want {
		t.Errorf("text = %q, want %q", group[0].Text, want)
	}
	if group[1].Username.Kind != UsernameSystem || group[1].Text != t1.SystemMsg {
		t.Errorf("expected trailing system message, got %+v", group[1])
	}
}

func TestUserNoticeMysteryGiftEmitsGiftSub(t *testing.T) {
	t1 := TwitchEvent{
		Kind:          TwitchUserNotice,
		ChannelName:   "destiny",
		Sender:        Sender{DisplayName: "Gifter"},
		NoticeMsgID:   "submysterygift",
		SubPlan:       SubPlanTier1,
		MassGiftCount: 5,
		SystemMsg:     "Gifter is gifting 5 Tier 1 Subs to destiny's community!",
	}
	group := ToRawMessage(AllEvents{Kind: SourceTwitch, Twitch: t1})
	if len(group) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(group), group)
	}
	if group[0].Username.Kind != UsernameGiftSub {
		t.Errorf("expected contextual message to be UsernameGiftSub, got %+v", group[0])
	}
}

func TestUserNoticeRitualOnlyEmitsSystem(t *testing.T) {
	t1 := TwitchEvent{
		Kind:        TwitchUserNotice,
		ChannelName: "destiny",
		NoticeMsgID: "ritual",
		SystemMsg:   "someuser is new here!",
	}
	group := ToRawMessage(AllEvents{Kind: SourceTwitch, Twitch: t1})
	if len(group) != 1 {
		t.Fatalf("expected 1 message, got %d: %+v", len(group), group)
	}
	if group[0].Username.Kind != UsernameSystem {
		t.Errorf("expected sole message to be UsernameSystem, got %+v", group[0])
	}
}

func TestUserNoticeRaid(t *testing.T) {
	t1 := TwitchEvent{
		Kind:            TwitchUserNotice,
		ChannelName:     "destiny",
		Sender:          Sender{DisplayName: "Raider"},
		NoticeMsgID:     "raid",
		RaidViewerCount: 42,
		SystemMsg:       "42 raiders from Raider have joined!",
	}
	group := ToRawMessage(AllEvents{Kind: SourceTwitch, Twitch: t1})
	if len(group) != 2 || group[0].Username.Kind != UsernameRaid {
		t.Fatalf("unexpected raid group: %+v", group)
	}
	want := "Raider just raided the channel with 42 viewers!"
	if group[0].Text != want {
		t.Errorf("text = %q, want %q", group[0].Text, want)
	}
}

func TestDggRosterFramesDropped(t *testing.T) {
	for _, kind := range []DggEventKind{DggNames, DggJoin, DggQuit} {
		group := ToRawMessage(AllEvents{Kind: SourceDgg, Dgg: DggEvent{Kind: kind}})
		if group != nil {
			t.Errorf("expected kind %v to drop, got %+v", kind, group)
		}
	}
}
