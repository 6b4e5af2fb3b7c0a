// Package opsserver exposes the long-running scrape process's liveness
// and metrics surface: /healthz and /metrics, nothing else. It is the
// ambient observability counterpart to the dashboard/query API the
// teacher's internal/httpapi package provides, trimmed to what a
// headless ingestion process needs.
package opsserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BuildInfo describes the compiled binary, reported from /healthz.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

// Options configures Server.
type Options struct {
	Addr  string
	Build BuildInfo
}

// Server runs the /healthz and /metrics HTTP endpoints. /metrics serves
// the default Prometheus gatherer, which is where the console metrics sink
// registers its counter via prometheus.MustRegister, so those counters
// appear without any wiring beyond starting the server.
type Server struct {
	httpServer *http.Server
	opts       Options
	startedAt  time.Time
}

// New constructs a Server. Call Run to start serving.
func New(opts Options) *Server {
	s := &Server{opts: opts, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("opsserver: listening on %s", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

type healthzResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Revision string `json:"rev,omitempty"`
	Go       string `json:"go"`
	UptimeS  int64  `json:"uptime_s"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthzResponse{
		Status:  "ok",
		Version: s.opts.Build.Version,
		Go:      runtime.Version(),
		UptimeS: int64(time.Since(s.startedAt).Seconds()),
	}
	resp.Revision = s.opts.Build.Revision
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}
