// Package usernametracker implements UsernameTrackerSink: it consumes raw
// Twitch events (not normalized SimpleMessage, since it needs the Twitch
// user ID) and maintains a SQLite table of the most recent username seen
// for each Twitch account.
package usernametracker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/you/tl2/internal/alert"
	"github.com/you/tl2/internal/event"
)

const schema = `CREATE TABLE IF NOT EXISTS name_changes (
  username TEXT NOT NULL,
  twitch_id TEXT NOT NULL,
  last_seen INTEGER NOT NULL,
  PRIMARY KEY (username, twitch_id)
);`

// noticeKindsWithSender are the UserNotice msg-ids that carry a trackable
// sender identity.
var noticeKindsWithSender = map[string]bool{
	"sub":             true,
	"resub":           true,
	"raid":            true,
	"ritual":          true,
	"bitsbadgetier":   true,
	"giftpaidupgrade": true,
	"subgift":         true,
}

// UsernameUpdateEvent is one observed (id, username) pairing at a point in
// time.
type UsernameUpdateEvent struct {
	ID        string
	Username  string
	Timestamp time.Time
}

// Sink queues UsernameUpdateEvents and flushes them in fixed-size batches
// into SQLite. If the queue grows past 10x batchSize (the upstream Twitch
// source producing updates faster than SQLite can absorb them), the oldest
// batchSize entries are dropped and an alert is raised; this sink prefers
// correctness of recent data over completeness.
type Sink struct {
	db        *sql.DB
	batchSize int
	alerter   alert.Alerter

	mu     sync.Mutex
	queue  []UsernameUpdateEvent
	closed bool
}

// Open creates/migrates the name_changes table at path.
func Open(path string, batchSize int, alerter alert.Alerter) (*Sink, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Sink{db: db, batchSize: batchSize, alerter: alerter}, nil
}

// Close flushes any remaining queued updates before closing the database,
// matching every other sink in the tree.
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	flushErr := s.Flush()
	closeErr := s.db.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// WriteTwitchEvent extracts zero or more UsernameUpdateEvents from ev and
// enqueues them, flushing a batch (or dropping the oldest one on overflow)
// as needed.
func (s *Sink) WriteTwitchEvent(ev event.TwitchEvent) error {
	updates := extractUpdates(ev)
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("username tracker sink closed")
	}
	s.queue = append(s.queue, updates...)

	if len(s.queue) > s.batchSize*10 {
		dropped := s.queue[:s.batchSize]
		s.queue = s.queue[s.batchSize:]
		s.mu.Unlock()
		_ = s.alerter.Notify(context.Background(), alert.LevelWarn,
			fmt.Sprintf("username tracker: queue overflow, dropped %d oldest updates", len(dropped)))
		return nil
	}

	var batch []UsernameUpdateEvent
	if len(s.queue) >= s.batchSize {
		batch = s.queue[:s.batchSize]
		s.queue = s.queue[s.batchSize:]
	}
	s.mu.Unlock()

	if batch != nil {
		return s.commit(context.Background(), batch)
	}
	return nil
}

// Flush commits any remaining queued updates.
func (s *Sink) Flush() error {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return s.commit(context.Background(), batch)
}

func (s *Sink) commit(ctx context.Context, batch []UsernameUpdateEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO name_changes
(username, twitch_id, last_seen) VALUES (?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, u := range batch {
		if _, err := stmt.ExecContext(ctx, strings.ToLower(u.Username), u.ID, u.Timestamp.UnixMilli()); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "insert name_changes row")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func extractUpdates(ev event.TwitchEvent) []UsernameUpdateEvent {
	switch ev.Kind {
	case event.TwitchPrivmsg:
		if ev.Sender.ID == "" {
			return nil
		}
		return []UsernameUpdateEvent{{ID: ev.Sender.ID, Username: ev.Sender.Login, Timestamp: ev.Timestamp}}
	case event.TwitchUserNotice:
		kind := strings.ToLower(ev.NoticeMsgID)
		if !noticeKindsWithSender[kind] {
			return nil
		}
		var updates []UsernameUpdateEvent
		if !(kind == "subgift" && ev.IsAnonymousGift) && ev.Sender.ID != "" {
			updates = append(updates, UsernameUpdateEvent{ID: ev.Sender.ID, Username: ev.Sender.Login, Timestamp: ev.Timestamp})
		}
		if kind == "subgift" && ev.RecipientID != "" {
			updates = append(updates, UsernameUpdateEvent{ID: ev.RecipientID, Username: ev.RecipientLogin, Timestamp: ev.Timestamp})
		}
		return updates
	default:
		return nil
	}
}
