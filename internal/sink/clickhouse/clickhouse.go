// Package clickhouse implements ClickhouseSink: a parallel bulk writer over
// a ReplacingMergeTree table, chunked the same way the teacher's SQLite
// sink commits in transactions, but spread over N concurrent inserters.
package clickhouse

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"

	"github.com/you/tl2/internal/event"
	"github.com/you/tl2/internal/sink"
)

const (
	workerCount         = 10
	queueDepth          = 4
	streamChunkSize     = 32_000
	inserterMaxEntries  = 256_000
	inserterFlushPeriod = 10 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS orl_messages (
  ts DateTime64(3),
  channel LowCardinality(String),
  username String,
  text String
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (channel, username, ts, text);`

// Sink owns the ClickHouse connection and workerCount parallel inserters,
// each with its own client-side row buffer. CommitBatch hands one
// pre-chunked batch to the bounded work channel; the workers provide the
// actual backpressure.
type Sink struct {
	conn   driver.Conn
	chunks chan []event.SimpleMessage
	wg     sync.WaitGroup
	closed int32
}

// Open connects to addr, creates orl_messages if missing, and starts the
// inserter pool.
func Open(ctx context.Context, addr string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{Addr: []string{addr}})
	if err != nil {
		return nil, errors.Wrap(err, "open clickhouse connection")
	}
	if err := conn.Exec(ctx, schema); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "create orl_messages table")
	}

	s := &Sink{conn: conn, chunks: make(chan []event.SimpleMessage, queueDepth)}
	s.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go s.worker()
	}
	return s, nil
}

// NewWriter wraps Sink with the dispatcher-facing batching contract, using
// the stream pre-chunk size as the outer batch size.
func NewWriter(s *Sink) sink.Writer {
	return sink.NewBufferedWriter(s, sink.Options{BatchSize: streamChunkSize})
}

// CommitBatch hands batch to an inserter worker via the bounded channel;
// a full channel blocks, which is the backpressure the design relies on to
// slow the upstream chunker.
func (s *Sink) CommitBatch(ctx context.Context, batch []event.SimpleMessage) error {
	select {
	case s.chunks <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting chunks, waits for every inserter to flush its
// remaining buffer, then closes the connection.
func (s *Sink) Close() error {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.chunks)
	}
	s.wg.Wait()
	return s.conn.Close()
}

func (s *Sink) worker() {
	defer s.wg.Done()

	buffer := make([]event.SimpleMessage, 0, inserterMaxEntries)
	ticker := time.NewTicker(inserterFlushPeriod)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if err := s.insert(buffer); err != nil {
			log.Printf("clickhouse sink: insert failed: %v", err)
		}
		buffer = buffer[:0]
	}

	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				flush()
				return
			}
			buffer = append(buffer, chunk...)
			if len(buffer) >= inserterMaxEntries {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) insert(batch []event.SimpleMessage) error {
	ctx := context.Background()
	b, err := s.conn.PrepareBatch(ctx, "INSERT INTO orl_messages")
	if err != nil {
		return errors.Wrap(err, "prepare batch")
	}
	for _, msg := range batch {
		if err := b.Append(msg.Timestamp, msg.Channel, msg.Username.Render(), msg.Text); err != nil {
			return errors.Wrap(err, "append row")
		}
	}
	return errors.Wrap(b.Send(), "send batch")
}
