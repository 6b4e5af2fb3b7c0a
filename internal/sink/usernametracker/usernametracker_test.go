package usernametracker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/you/tl2/internal/event"
)

func openTest(t *testing.T, batchSize int) *Sink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "names.db")
	s, err := Open(path, batchSize, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCloseFlushesRemainderBeforeClosing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.db")
	s, err := Open(path, 10, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ev := event.TwitchEvent{Kind: event.TwitchPrivmsg, Sender: event.Sender{ID: "1", Login: "bob"}, Timestamp: time.Unix(1, 0)}
	if err := s.WriteTwitchEvent(ev); err != nil {
		t.Fatalf("WriteTwitchEvent: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, 10, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var username string
	row := reopened.db.QueryRow("SELECT username FROM name_changes WHERE twitch_id = ?", "1")
	if err := row.Scan(&username); err != nil {
		t.Fatalf("expected queued update to have been flushed before close: %v", err)
	}
	if username != "bob" {
		t.Fatalf("expected bob, got %s", username)
	}
}

func TestExtractUpdatesPrivmsg(t *testing.T) {
	ev := event.TwitchEvent{
		Kind:      event.TwitchPrivmsg,
		Timestamp: time.Unix(1000, 0),
		Sender:    event.Sender{ID: "123", Login: "alice"},
	}
	got := extractUpdates(ev)
	if len(got) != 1 || got[0].ID != "123" || got[0].Username != "alice" {
		t.Fatalf("unexpected updates: %+v", got)
	}
}

func TestExtractUpdatesSubGiftRecipientAndSender(t *testing.T) {
	ev := event.TwitchEvent{
		Kind:           event.TwitchUserNotice,
		Timestamp:      time.Unix(1000, 0),
		Sender:         event.Sender{ID: "1", Login: "gifter"},
		NoticeMsgID:    "subgift",
		RecipientID:    "2",
		RecipientLogin: "giftee",
	}
	got := extractUpdates(ev)
	if len(got) != 2 {
		t.Fatalf("expected 2 updates, got %d: %+v", len(got), got)
	}
	if got[0].Username != "gifter" || got[1].Username != "giftee" {
		t.Fatalf("unexpected order/content: %+v", got)
	}
}

func TestExtractUpdatesAnonymousSubGiftSkipsSender(t *testing.T) {
	ev := event.TwitchEvent{
		Kind:            event.TwitchUserNotice,
		Timestamp:       time.Unix(1000, 0),
		Sender:          event.Sender{ID: "1", Login: "anonymous"},
		NoticeMsgID:     "subgift",
		IsAnonymousGift: true,
		RecipientID:     "2",
		RecipientLogin:  "giftee",
	}
	got := extractUpdates(ev)
	if len(got) != 1 || got[0].Username != "giftee" {
		t.Fatalf("expected only recipient update, got %+v", got)
	}
}

func TestExtractUpdatesIgnoresUnrelatedNotice(t *testing.T) {
	ev := event.TwitchEvent{
		Kind:        event.TwitchUserNotice,
		NoticeMsgID: "announcement",
		Sender:      event.Sender{ID: "1", Login: "someone"},
	}
	if got := extractUpdates(ev); len(got) != 0 {
		t.Fatalf("expected no updates, got %+v", got)
	}
}

func TestWriteTwitchEventFlushesOnBatchSize(t *testing.T) {
	s := openTest(t, 2)
	for i := 0; i < 2; i++ {
		ev := event.TwitchEvent{
			Kind:      event.TwitchPrivmsg,
			Timestamp: time.Unix(int64(1000+i), 0),
			Sender:    event.Sender{ID: "id", Login: "user"},
		}
		if err := s.WriteTwitchEvent(ev); err != nil {
			t.Fatalf("WriteTwitchEvent: %v", err)
		}
	}

	var count int
	row := s.db.QueryRow("SELECT COUNT(*) FROM name_changes")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row (same user replaced), got %d", count)
	}
}

func TestWriteTwitchEventOverflowDropsOldest(t *testing.T) {
	s := openTest(t, 1)
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()

	// Fill past 10x batchSize without ever flushing by pre-seeding the
	// queue directly (simulating a stalled commit path).
	s.mu.Lock()
	for i := 0; i < 10; i++ {
		s.queue = append(s.queue, UsernameUpdateEvent{ID: "x", Username: "x", Timestamp: time.Now()})
	}
	s.mu.Unlock()

	ev := event.TwitchEvent{Kind: event.TwitchPrivmsg, Sender: event.Sender{ID: "new", Login: "new"}}
	if err := s.WriteTwitchEvent(ev); err != nil {
		t.Fatalf("WriteTwitchEvent: %v", err)
	}

	s.mu.Lock()
	remaining := len(s.queue)
	var newest UsernameUpdateEvent
	if remaining > 0 {
		newest = s.queue[remaining-1]
	}
	s.mu.Unlock()
	if remaining == 0 {
		t.Fatalf("expected queue to retain entries after drop, got 0")
	}
	if remaining != 10 {
		t.Fatalf("expected 10 queued entries after dropping the oldest one, got %d", remaining)
	}
	if newest.ID != "new" {
		t.Fatalf("expected the newest update to be kept at the tail, got %+v", newest)
	}
}

func TestFlushWritesRemainder(t *testing.T) {
	s := openTest(t, 10)
	ev := event.TwitchEvent{Kind: event.TwitchPrivmsg, Sender: event.Sender{ID: "1", Login: "bob"}, Timestamp: time.Unix(1, 0)}
	if err := s.WriteTwitchEvent(ev); err != nil {
		t.Fatalf("WriteTwitchEvent: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var username string
	row := s.db.QueryRow("SELECT username FROM name_changes WHERE twitch_id = ?", "1")
	if err := row.Scan(&username); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if username != "bob" {
		t.Fatalf("expected bob, got %s", username)
	}
}
