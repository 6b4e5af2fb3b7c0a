package dgg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/tl2/internal/event"
)

// errInvalidEndpoint marks a malformed Config.Endpoint. Unlike every other
// connection error, it never clears on retry, so Run treats it as fatal.
var errInvalidEndpoint = errors.New("dgg: invalid endpoint url")

// Worker owns one site's connection: dial, read loop, ping/pong heartbeat,
// and the reconnect backoff state machine. Run blocks until ctx is
// cancelled or the configured endpoint URL fails to parse.
type Worker struct {
	cfg Config
	out chan<- event.AllEvents

	mu      sync.Mutex
	failing bool
}

func NewWorker(cfg Config, out chan<- event.AllEvents) *Worker {
	if cfg.MaxRetrySeconds == 0 {
		cfg.MaxRetrySeconds = 60
	}
	return &Worker{cfg: cfg, out: out}
}

// Run reconnects forever, backing off from defaultBackoffMin up to
// MaxRetrySeconds (tripling each attempt) while the previous connection
// never produced a parsed message, and resetting to the minimum the moment
// one does. A malformed endpoint URL is fatal: Run returns instead of
// retrying, since no amount of reconnecting fixes it.
func (w *Worker) Run(ctx context.Context) error {
	backoff := defaultBackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.mu.Lock()
		failing := w.failing
		w.mu.Unlock()
		if failing {
			log.Printf("dgg[%s]: reconnecting in %s", w.cfg.SiteName, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = min(time.Duration(w.cfg.MaxRetrySeconds)*time.Second, backoff*3)
		}

		err := w.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isFatalURLError(err) {
			log.Printf("dgg[%s]: invalid endpoint, giving up: %v", w.cfg.SiteName, err)
			return err
		}
		if err != nil {
			log.Printf("dgg[%s]: connection error: %v", w.cfg.SiteName, err)
		}

		w.mu.Lock()
		if !w.failing {
			backoff = defaultBackoffMin
			w.failing = true
		}
		w.mu.Unlock()
	}
}

func (w *Worker) markHealthy() {
	w.mu.Lock()
	w.failing = false
	w.mu.Unlock()
}

func (w *Worker) runConnection(ctx context.Context) error {
	endpoint := w.cfg.Endpoint
	if _, perr := url.Parse(endpoint); perr != nil {
		return fmt.Errorf("%w: %v", errInvalidEndpoint, perr)
	}
	if w.cfg.UseGetKey {
		key, err := fetchGetKey(ctx, w.cfg.Origin)
		if err != nil {
			return err
		}
		endpoint = endpoint + "/" + key
	}

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {w.cfg.Origin}},
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go w.heartbeat(connCtx, conn, cancel)

	for {
		typ, data, err := conn.Read(connCtx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		ev, ok, err := parseFrame(string(data), w.cfg.SiteName)
		if err != nil {
			log.Printf("dgg[%s]: %v", w.cfg.SiteName, err)
			continue
		}
		w.markHealthy()
		if !ok {
			continue
		}

		select {
		case w.out <- event.AllEvents{Kind: event.SourceDgg, Dgg: ev}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// heartbeat pings every 30s and expects a pong within 5s (nhooyr's Ping
// blocks on the matching pong itself); a missed or failed ping cancels the
// connection context, which tears down the read loop and triggers a
// reconnect.
func (w *Worker) heartbeat(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, done := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			done()
			if err != nil {
				log.Printf("dgg: ping failed, forcing reconnect: %v", err)
				cancel()
				return
			}
		}
	}
}

func isFatalURLError(err error) bool {
	return errors.Is(err, errInvalidEndpoint)
}
