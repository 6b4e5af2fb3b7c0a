// Package elasticsearch implements ElasticsearchSink: an adaptively-batched
// bulk indexer. No elastic/go-elasticsearch client is grounded anywhere in
// the reference corpus, so this hand-rolls bulk indexing over net/http the
// way a Heka output plugin does, instead of adopting an unwired dependency.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/you/tl2/internal/alert"
	"github.com/you/tl2/internal/event"
)

const (
	minPeriodSeconds = 2.0
	maxPeriodSeconds = 30.0
	periodGrowth     = 1.2
	periodShrink     = 0.8
	maxBatchSize     = 8192
	baseRetrySeconds = 5
	queueDepth       = 16384
)

// Config names the target cluster and index.
type Config struct {
	BaseURL         string // e.g. "http://localhost:9200"
	Index           string // index base name, rolled over monthly
	Pipeline        string // optional ingest pipeline name
	MaxRetrySeconds int
}

// Sink is the dispatcher-facing ElasticsearchSink. Its background worker
// owns an adaptive flush period and a monotonic retry counter; both are
// touched only from that one goroutine.
type Sink struct {
	cfg     Config
	client  *http.Client
	alerter alert.Alerter

	ch     chan event.SimpleMessage
	closed int32
	done   chan struct{}
}

// New starts the background worker and returns the sink. The worker
// installs the index template (and pipeline, if configured) before its
// first ingest loop, and reinitializes on every restart after a failure.
func New(cfg Config, alerter alert.Alerter) *Sink {
	if cfg.MaxRetrySeconds <= 0 {
		cfg.MaxRetrySeconds = 360
	}
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	s := &Sink{
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		alerter: alerter,
		ch:      make(chan event.SimpleMessage, queueDepth),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Write enqueues msg. A full queue (the worker loop stalled on a failing
// cluster) is reported as an error rather than blocking the dispatcher.
func (s *Sink) Write(msg event.SimpleMessage) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return fmt.Errorf("elasticsearch sink: closed")
	}
	select {
	case s.ch <- msg:
		return nil
	default:
		return fmt.Errorf("elasticsearch sink: queue full")
	}
}

// Close stops accepting writes, lets the worker drain and flush whatever is
// queued, and waits for it to exit.
func (s *Sink) Close() error {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.ch)
	}
	<-s.done
	return nil
}

func (s *Sink) run() {
	defer close(s.done)
	retries := 0
	hasAlertedFailing := false

	for {
		if err := s.runWriter(&retries); err != nil {
			log.Printf("elasticsearch sink: %v", err)
			retries++

			if retries > 5 && !hasAlertedFailing {
				_ = s.alerter.Notify(context.Background(), alert.LevelWarn, "elasticsearch sink is failing, 5 retries in")
				hasAlertedFailing = true
			}
			if retries > 100 {
				_ = s.alerter.Notify(context.Background(), alert.LevelError, "shutting down elasticsearch sink after 100 failed retries")
				log.Printf("elasticsearch sink: giving up after 100 failed retries")
				return
			}

			retrySeconds := baseRetrySeconds * retries
			if retrySeconds < baseRetrySeconds {
				retrySeconds = baseRetrySeconds
			}
			if retrySeconds > s.cfg.MaxRetrySeconds {
				retrySeconds = s.cfg.MaxRetrySeconds
			}
			time.Sleep(time.Duration(retrySeconds) * time.Second)
			continue
		}
		return
	}
}

// runWriter (re)installs the index template/pipeline and runs the ingest
// loop until the channel closes (clean return) or a batch fails to commit
// (returned as an error, triggering the outer retry/backoff).
func (s *Sink) runWriter(retries *int) error {
	if err := s.initialize(context.Background()); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	period := minPeriodSeconds
	batch := make([]event.SimpleMessage, 0, maxBatchSize)
	lastFlush := time.Now()

	for {
		select {
		case msg, ok := <-s.ch:
			if !ok {
				if len(batch) > 0 {
					if err := s.process(context.Background(), batch); err != nil {
						return err
					}
				}
				return nil
			}
			batch = append(batch, msg)
			if len(batch) >= maxBatchSize {
				if err := s.process(context.Background(), batch); err != nil {
					return err
				}
				*retries = 0
				period = min(period*periodGrowth, maxPeriodSeconds)
				batch = batch[:0]
				lastFlush = time.Now()
			}
		case <-time.After(time.Until(lastFlush.Add(time.Duration(period * float64(time.Second))))):
			if len(batch) == 0 {
				lastFlush = time.Now()
				continue
			}
			if time.Since(lastFlush).Seconds() >= period {
				if err := s.process(context.Background(), batch); err != nil {
					return err
				}
				*retries = 0
				period = max(period*periodShrink, minPeriodSeconds)
				batch = batch[:0]
				lastFlush = time.Now()
			}
		}
	}
}

func (s *Sink) initialize(ctx context.Context) error {
	if err := s.putIndexTemplate(ctx); err != nil {
		return fmt.Errorf("put index template: %w", err)
	}
	if s.cfg.Pipeline != "" {
		if err := s.putIngestPipeline(ctx); err != nil {
			return fmt.Errorf("put ingest pipeline: %w", err)
		}
	}
	return nil
}

func (s *Sink) putIndexTemplate(ctx context.Context) error {
	body := map[string]any{
		"index_patterns": s.cfg.Index + "-*",
		"mappings": map[string]any{
			"properties": map[string]any{
				"channel":  map[string]string{"type": "keyword"},
				"username": map[string]string{"type": "keyword"},
				"text":     map[string]string{"type": "text"},
				"ts":       map[string]string{"type": "date"},
			},
		},
		"settings": map[string]any{
			"number_of_replicas": 0,
			"number_of_shards":   1,
			"refresh_interval":   "10s",
			"codec":              "best_compression",
			"sort.field":         []string{"ts"},
			"sort.order":         []string{"desc"},
		},
	}
	url := fmt.Sprintf("%s/_template/%s-template", s.cfg.BaseURL, s.cfg.Index)
	return s.putJSON(ctx, url, body)
}

func (s *Sink) putIngestPipeline(ctx context.Context) error {
	body := map[string]any{
		"description": "monthly date-time index naming",
		"processors": []map[string]any{
			{
				"date_index_name": map[string]any{
					"date_rounding":     "M",
					"field":             "ts",
					"index_name_prefix": s.cfg.Index + "-",
				},
			},
			{
				"set": map[string]any{
					"field": "_id",
					"value": "{{channel}}-{{username}}-{{ts}}",
				},
			},
		},
	}
	url := fmt.Sprintf("%s/_ingest/pipeline/%s", s.cfg.BaseURL, s.cfg.Pipeline)
	return s.putJSON(ctx, url, body)
}

func (s *Sink) putJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// process sends one _bulk request for batch, indexing each message into its
// monthly-rollover index with an idempotent _id.
func (s *Sink) process(ctx context.Context, batch []event.SimpleMessage) error {
	var buf bytes.Buffer
	for _, msg := range batch {
		ts := msg.Timestamp.UTC()
		index := fmt.Sprintf("%s-%s", s.cfg.Index, ts.Format("2006-01"))
		id := fmt.Sprintf("%s-%s-%s", msg.Channel, msg.Username.Render(), ts.Format("2006-01-02T15:04:05.000Z07:00"))

		action := map[string]any{"index": map[string]any{"_index": index, "_id": id}}
		doc := map[string]any{
			"channel":  msg.Channel,
			"username": msg.Username.Render(),
			"text":     msg.Text,
			"ts":       ts.Format("2006-01-02T15:04:05.000Z07:00"),
		}

		actionLine, err := json.Marshal(action)
		if err != nil {
			return err
		}
		docLine, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		buf.Write(actionLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	url := fmt.Sprintf("%s/_bulk", s.cfg.BaseURL)
	if s.cfg.Pipeline != "" {
		url += "?pipeline=" + s.cfg.Pipeline
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("bulk request failed with status %s", resp.Status)
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []struct {
			Index struct {
				Error struct {
					Reason string `json:"reason"`
				} `json:"error"`
			} `json:"index"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if result.Errors {
		if len(result.Items) > 0 && result.Items[0].Index.Error.Reason != "" {
			return fmt.Errorf("bulk request failed, first error reason: %q", result.Items[0].Index.Error.Reason)
		}
		return fmt.Errorf("some of bulk request failed")
	}
	return nil
}
