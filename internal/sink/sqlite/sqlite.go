// Package sqlite implements SqliteSink: a single-writer unified_messages
// table tuned for high-throughput batch import.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/you/tl2/internal/event"
	"github.com/you/tl2/internal/sink"
	"github.com/you/tl2/internal/unified"
)

const schema = `CREATE TABLE IF NOT EXISTS unified_messages (
  kind TEXT NOT NULL,
  id TEXT NOT NULL,
  timestamp INTEGER NOT NULL,
  username TEXT NOT NULL,
  channel_name TEXT NOT NULL,
  text TEXT NOT NULL,
  PRIMARY KEY (kind, id)
);`

// batchImportPragmas sacrifices durability for throughput: this sink exists
// for bulk reprocessing of ORL/JSON-lines trees, not for the live-scrape
// durability profile a streaming sink would want.
var batchImportPragmas = []string{
	"PRAGMA journal_mode=OFF;",
	"PRAGMA synchronous=0;",
	"PRAGMA locking_mode=EXCLUSIVE;",
	"PRAGMA cache_size=1000000;",
}

// Sink is a database/sql-backed committer; wrap it in sink.NewBufferedWriter
// for the dispatcher-facing batching contract.
type Sink struct {
	db *sql.DB
}

// Open creates (if needed) and tunes the database at path for batch import.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	for _, pragma := range batchImportPragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "apply pragma %q", pragma)
		}
	}
	return &Sink{db: db}, nil
}

// NewWriter wraps Sink in the standard batch/flush-interval buffering every
// bulk sink shares.
func NewWriter(s *Sink, opts sink.Options) sink.Writer {
	return sink.NewBufferedWriter(s, opts)
}

func (s *Sink) Close() error { return s.db.Close() }

// CommitBatch wraps the whole batch in one transaction, using
// INSERT OR REPLACE for idempotent re-ingest.
func (s *Sink) CommitBatch(ctx context.Context, batch []event.SimpleMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO unified_messages
(kind, id, timestamp, username, channel_name, text) VALUES (?, ?, ?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, msg := range batch {
		rec := unified.FromSimpleMessage(msg)
		if _, err := stmt.ExecContext(ctx, rec.Kind, rec.ID, rec.Timestamp, rec.Username, rec.ChannelName, rec.Text); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "insert unified_messages row")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
