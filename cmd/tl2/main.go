// Command tl2 dispatches the ingestion toolbox's subcommands: live
// scraping (scrape) and a handful of batch-import/reformat pipelines over
// ORL and JSON-lines directory trees. Flags precede positional arguments
// in every subcommand (the standard library flag package's own
// constraint), e.g. `tl2 dir-to-clickhouse --url host:9000 ./logs`.
package main

import (
	"bufio"
	"compress/gzip"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/you/tl2/internal/alert"
	"github.com/you/tl2/internal/config"
	"github.com/you/tl2/internal/dispatch"
	"github.com/you/tl2/internal/event"
	"github.com/you/tl2/internal/opsserver"
	"github.com/you/tl2/internal/orl"
	"github.com/you/tl2/internal/sink"
	"github.com/you/tl2/internal/sink/clickhouse"
	"github.com/you/tl2/internal/sink/console"
	"github.com/you/tl2/internal/sink/elasticsearch"
	"github.com/you/tl2/internal/sink/file"
	"github.com/you/tl2/internal/sink/jsonl"
	"github.com/you/tl2/internal/sink/sqlite"
	"github.com/you/tl2/internal/sink/usernametracker"
	"github.com/you/tl2/internal/source/dgg"
	"github.com/you/tl2/internal/source/jsonlfile"
	"github.com/you/tl2/internal/source/orlfile"
	"github.com/you/tl2/internal/source/twitchirc"
	"github.com/you/tl2/internal/twitch"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "scrape":
		err = runScrape(os.Args[2:])
	case "dir-to-clickhouse":
		err = runDirToClickhouse(os.Args[2:])
	case "file-to-clickhouse":
		err = runFileToClickhouse(os.Args[2:])
	case "dir-to-elasticsearch":
		err = runDirToElasticsearch(os.Args[2:])
	case "dir-to-sqlite":
		err = runDirToSqlite(os.Args[2:])
	case "dir-to-jsonl":
		err = runDirToJsonl(os.Args[2:])
	case "jsonl-to-console":
		err = runJsonlToConsole(os.Args[2:])
	case "jsonl-to-elasticsearch":
		err = runJsonlToElasticsearch(os.Args[2:])
	case "jsonl-to-clickhouse":
		err = runJsonlToClickhouse(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "tl2: unknown subcommand %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Printf("tl2: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: tl2 <subcommand> [flags] [args]

subcommands:
  scrape                                              run live ingestion from configured sources into configured sinks
  dir-to-clickhouse [--url addr] <dir>                bulk import an ORL directory into ClickHouse
  file-to-clickhouse --channel c [--url addr] <files>  bulk import explicit ORL files into ClickHouse
  dir-to-elasticsearch --url u --index i <dir>        bulk import an ORL directory into Elasticsearch
  dir-to-sqlite <dir>                                 bulk import an ORL directory into ./out.db
  dir-to-jsonl <dir> <out-dir>                        reformat an ORL tree into a JSON-lines tree
  jsonl-to-console <dir>                              replay a JSON-lines tree to stdout
  jsonl-to-elasticsearch --url u --index i <dir>      replay a JSON-lines tree into Elasticsearch
  jsonl-to-clickhouse --url addr <dir>                replay a JSON-lines tree into ClickHouse`)
}

func loadConfigOrFatal() config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("tl2: %v", err)
	}
	return cfg
}

// runScrape builds every enabled source and sink from config and runs
// until SIGINT/SIGTERM.
func runScrape(args []string) error {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadConfigOrFatal()
	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("tl2: received %s, shutting down", sig)
		cancel()
	}()

	alerter := alert.LogAlerter{}

	var writers []sink.Writer
	var names []string
	var twitchWriters []sink.TwitchEventWriter
	var twitchNames []string
	var closers []func() error
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Printf("tl2: close sink: %v", err)
			}
		}
	}()

	if cfg.HasSink("file") {
		s := file.New(cfg.Sink.File.Dir)
		writers, names = append(writers, s), append(names, "file")
		closers = append(closers, s.Close)
	}
	if cfg.HasSink("jsonl") {
		w := jsonl.New(cfg.Sink.Jsonl.Path, sink.Options{BatchSize: cfg.Batch(), FlushInterval: cfg.FlushInterval()})
		writers, names = append(writers, w), append(names, "jsonl")
		closers = append(closers, w.Close)
	}
	if cfg.HasSink("sqlite") {
		s, err := sqlite.Open(cfg.Sink.SQLite.Path)
		if err != nil {
			return fmt.Errorf("open sqlite sink: %w", err)
		}
		w := sqlite.NewWriter(s, sink.Options{BatchSize: cfg.Batch(), FlushInterval: cfg.FlushInterval()})
		writers, names = append(writers, w), append(names, "sqlite")
		closers = append(closers, w.Close)
	}
	if cfg.HasSink("elasticsearch") {
		s := elasticsearch.New(elasticsearch.Config{
			BaseURL:         cfg.Sink.Elasticsearch.BaseURL,
			Index:           cfg.Sink.Elasticsearch.Index,
			Pipeline:        cfg.Sink.Elasticsearch.Pipeline,
			MaxRetrySeconds: cfg.Sink.Elasticsearch.MaxRetrySeconds,
		}, alerter)
		writers, names = append(writers, s), append(names, "elasticsearch")
		closers = append(closers, s.Close)
	}
	if cfg.HasSink("clickhouse") {
		s, err := clickhouse.Open(ctx, cfg.Sink.Clickhouse.Addr)
		if err != nil {
			return fmt.Errorf("open clickhouse sink: %w", err)
		}
		w := clickhouse.NewWriter(s)
		writers, names = append(writers, w), append(names, "clickhouse")
		closers = append(closers, w.Close)
	}
	if cfg.HasSink("console") {
		s := console.New()
		writers, names = append(writers, s), append(names, "console")
		closers = append(closers, s.Close)
	}
	if cfg.HasSink("console-metrics") {
		s := console.NewMetrics()
		writers, names = append(writers, s), append(names, "console-metrics")
		closers = append(closers, s.Close)
	}
	if cfg.HasSink("username-tracker") {
		s, err := usernametracker.Open(cfg.Sink.UsernameTracker.Path, cfg.Sink.UsernameTracker.BatchSize, alerter)
		if err != nil {
			return fmt.Errorf("open username tracker sink: %w", err)
		}
		twitchWriters, twitchNames = append(twitchWriters, s), append(twitchNames, "username-tracker")
		closers = append(closers, s.Close)
	}

	if len(writers) == 0 && len(twitchWriters) == 0 {
		log.Printf("tl2: no sinks configured; messages will be discarded")
	}

	d := dispatch.New(writers, names, alerter).WithTwitchEventSinks(twitchWriters, twitchNames)

	events := make(chan event.AllEvents, 4096)

	var sourcesStarted int
	if cfg.Twitch.Enabled {
		sourcesStarted++
		go runTwitchSource(ctx, cfg, events)
	}
	if cfg.Dgg.Enabled {
		sourcesStarted++
		go runDggSource(ctx, cfg, events)
	}
	if sourcesStarted == 0 {
		log.Printf("tl2: no sources configured; scrape will idle until interrupted")
	}

	if cfg.OpsAddr != "" {
		ops := opsserver.New(opsserver.Options{Addr: cfg.OpsAddr})
		go func() {
			if err := ops.Run(ctx); err != nil {
				log.Printf("tl2: ops server: %v", err)
			}
		}()
	}

	d.Run(ctx, events)
	return nil
}

func runTwitchSource(ctx context.Context, cfg config.Config, out chan<- event.AllEvents) {
	tcfg := twitchirc.Config{
		Nick:   cfg.Twitch.Nick,
		Token:  cfg.Twitch.Token,
		UseTLS: cfg.Twitch.TLS,
	}
	if cfg.Twitch.TokenFile != "" {
		provider := twitchirc.NewFileTokenProvider(cfg.Twitch.TokenFile)
		tcfg.TokenProvider = provider.Token
		if err := provider.WatchTokenFile(); err != nil {
			log.Printf("tl2: twitch token file watch: %v", err)
		}
	}
	if refresher := newTwitchRefreshManager(cfg.Twitch); refresher != nil {
		log.Printf("tl2: twitch token auto-refresh enabled, writing to %s", cfg.Twitch.TokenFile)
		refresher.StartAuto(ctx, func(string) {})
	}
	mgr := twitchirc.New(tcfg, staticChannelSource(cfg.Twitch.Channels), out)
	if err := mgr.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("tl2: twitch manager exited: %v", err)
	}
}

// newTwitchRefreshManager builds a twitch.RefreshManager when config carries
// enough to exchange a refresh token for a fresh access token: client
// credentials, a refresh token (inline or on disk), and a TokenFile to write
// the refreshed access token to. That same file is what the
// twitchirc.FileTokenProvider above watches, so a successful refresh flows
// into the live IRC connection without any direct coupling between the two.
func newTwitchRefreshManager(tc config.TwitchConfig) *twitch.RefreshManager {
	if tc.ClientID == "" || tc.ClientSecret == "" || tc.TokenFile == "" {
		return nil
	}
	refreshToken := tc.RefreshToken
	if refreshToken == "" && tc.RefreshTokenFile != "" {
		data, err := os.ReadFile(tc.RefreshTokenFile)
		if err != nil {
			log.Printf("tl2: read refresh token file: %v", err)
			return nil
		}
		refreshToken = strings.TrimSpace(string(data))
	}
	if refreshToken == "" {
		return nil
	}
	return &twitch.RefreshManager{
		ClientID:     tc.ClientID,
		ClientSecret: tc.ClientSecret,
		RefreshToken: refreshToken,
		TokenFile:    tc.TokenFile,
	}
}

// staticChannelSource satisfies twitchirc.ChannelSource for the common
// case where channels come from config/env rather than a file, SQLite
// table, or authenticated HTTP endpoint rehydration source.
type staticChannelSource []string

func (s staticChannelSource) Channels(context.Context) ([]string, error) {
	return []string(s), nil
}

func runDggSource(ctx context.Context, cfg config.Config, out chan<- event.AllEvents) {
	var sites []dgg.Config
	for _, site := range cfg.Dgg.Sites {
		sites = append(sites, dgg.Config{
			SiteName:        site.Name,
			Endpoint:        site.Endpoint,
			Origin:          site.Origin,
			UseGetKey:       site.UseGetKey,
			MaxRetrySeconds: uint64(site.MaxRetrySeconds),
		})
	}
	mgr := dgg.NewManager(sites, out)
	mgr.Run(ctx)
}

// bulkImport runs walk on a background goroutine, draining its
// SimpleMessage channel into dst synchronously, then closes dst. walk's
// own error (directory/file I/O failure) takes priority over a close
// error when both occur.
func bulkImport(dst sink.Writer, walk func(out chan<- event.SimpleMessage) error) error {
	ch := make(chan event.SimpleMessage, 256)
	errCh := make(chan error, 1)
	go func() { errCh <- walk(ch) }()

	var writeErrs int
	for msg := range ch {
		if err := dst.Write(msg); err != nil {
			writeErrs++
			if writeErrs <= 5 {
				log.Printf("tl2: write: %v", err)
			}
		}
	}

	walkErr := <-errCh
	closeErr := dst.Close()
	if writeErrs > 5 {
		log.Printf("tl2: %d further write errors suppressed", writeErrs-5)
	}
	if walkErr != nil {
		return walkErr
	}
	return closeErr
}

func runDirToClickhouse(args []string) error {
	fs := flag.NewFlagSet("dir-to-clickhouse", flag.ExitOnError)
	url := fs.String("url", "", "ClickHouse address (host:port); defaults to sink.clickhouse.addr from config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("dir-to-clickhouse: expected exactly one directory argument")
	}
	dir := fs.Arg(0)

	addr := *url
	if addr == "" {
		addr = loadConfigOrFatal().Sink.Clickhouse.Addr
	}
	if addr == "" {
		return fmt.Errorf("dir-to-clickhouse: --url is required (no sink.clickhouse.addr configured)")
	}

	s, err := clickhouse.Open(context.Background(), addr)
	if err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	w := clickhouse.NewWriter(s)
	return bulkImport(w, func(out chan<- event.SimpleMessage) error {
		return orlfile.WalkParallel(dir, out)
	})
}

func runFileToClickhouse(args []string) error {
	fs := flag.NewFlagSet("file-to-clickhouse", flag.ExitOnError)
	url := fs.String("url", "", "ClickHouse address (host:port); defaults to sink.clickhouse.addr from config")
	channel := fs.String("channel", "", "channel name to attribute every line to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("file-to-clickhouse: at least one file argument is required")
	}
	if strings.TrimSpace(*channel) == "" {
		return fmt.Errorf("file-to-clickhouse: --channel is required")
	}
	files := fs.Args()

	addr := *url
	if addr == "" {
		addr = loadConfigOrFatal().Sink.Clickhouse.Addr
	}
	if addr == "" {
		return fmt.Errorf("file-to-clickhouse: --url is required (no sink.clickhouse.addr configured)")
	}

	s, err := clickhouse.Open(context.Background(), addr)
	if err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	w := clickhouse.NewWriter(s)
	return bulkImport(w, func(out chan<- event.SimpleMessage) error {
		return walkExplicitFiles(*channel, files, out)
	})
}

// walkExplicitFiles reads ORL-formatted lines from an explicit file list
// (rather than a <root>/<channel>/ directory tree) and attributes every
// line to a single channel name, the way orlfile.walkFile parses one file
// but without the directory-layout assumption.
func walkExplicitFiles(channel string, paths []string, out chan<- event.SimpleMessage) error {
	defer close(out)
	for _, path := range paths {
		if err := walkExplicitFile(channel, path, out); err != nil {
			return err
		}
	}
	return nil
}

func walkExplicitFile(channel, path string, out chan<- event.SimpleMessage) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := orl.ParseMessageLine(line)
		if err != nil {
			continue
		}
		out <- event.Normalize(event.RawMessage{
			Channel:   channel,
			Username:  event.NormalUsername(rec.Username),
			Text:      rec.Text,
			Timestamp: rec.Timestamp,
		})
	}
	return scanner.Err()
}

func runDirToElasticsearch(args []string) error {
	fs := flag.NewFlagSet("dir-to-elasticsearch", flag.ExitOnError)
	url := fs.String("url", "", "Elasticsearch base URL")
	index := fs.String("index", "", "Elasticsearch index base name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("dir-to-elasticsearch: expected exactly one directory argument")
	}
	dir := fs.Arg(0)
	if *url == "" || *index == "" {
		return fmt.Errorf("dir-to-elasticsearch: --url and --index are required")
	}

	s := elasticsearch.New(elasticsearch.Config{BaseURL: *url, Index: *index}, alert.LogAlerter{})
	return bulkImport(s, func(out chan<- event.SimpleMessage) error {
		return orlfile.WalkParallel(dir, out)
	})
}

func runDirToSqlite(args []string) error {
	fs := flag.NewFlagSet("dir-to-sqlite", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("dir-to-sqlite: expected exactly one directory argument")
	}
	dir := fs.Arg(0)

	s, err := sqlite.Open("out.db")
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	w := sqlite.NewWriter(s, sink.Options{BatchSize: 500})
	return bulkImport(w, func(out chan<- event.SimpleMessage) error {
		return orlfile.WalkParallel(dir, out)
	})
}

func runDirToJsonl(args []string) error {
	fs := flag.NewFlagSet("dir-to-jsonl", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("dir-to-jsonl: expected <dir> <out-dir> arguments")
	}
	dir, outDir := fs.Arg(0), fs.Arg(1)

	w := jsonl.New(outDir, sink.Options{BatchSize: 500})
	return bulkImport(w, func(out chan<- event.SimpleMessage) error {
		return orlfile.WalkParallel(dir, out)
	})
}

func runJsonlToConsole(args []string) error {
	fs := flag.NewFlagSet("jsonl-to-console", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("jsonl-to-console: expected exactly one directory argument")
	}
	dir := fs.Arg(0)

	s := console.New()
	return bulkImport(s, func(out chan<- event.SimpleMessage) error {
		return jsonlfile.Walk(dir, out)
	})
}

func runJsonlToElasticsearch(args []string) error {
	fs := flag.NewFlagSet("jsonl-to-elasticsearch", flag.ExitOnError)
	url := fs.String("url", "", "Elasticsearch base URL")
	index := fs.String("index", "", "Elasticsearch index base name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("jsonl-to-elasticsearch: expected exactly one directory argument")
	}
	dir := fs.Arg(0)
	if *url == "" || *index == "" {
		return fmt.Errorf("jsonl-to-elasticsearch: --url and --index are required")
	}

	s := elasticsearch.New(elasticsearch.Config{BaseURL: *url, Index: *index}, alert.LogAlerter{})
	return bulkImport(s, func(out chan<- event.SimpleMessage) error {
		return jsonlfile.Walk(dir, out)
	})
}

func runJsonlToClickhouse(args []string) error {
	fs := flag.NewFlagSet("jsonl-to-clickhouse", flag.ExitOnError)
	url := fs.String("url", "", "ClickHouse address (host:port)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("jsonl-to-clickhouse: expected exactly one directory argument")
	}
	dir := fs.Arg(0)
	if *url == "" {
		return fmt.Errorf("jsonl-to-clickhouse: --url is required")
	}

	s, err := clickhouse.Open(context.Background(), *url)
	if err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	w := clickhouse.NewWriter(s)
	return bulkImport(w, func(out chan<- event.SimpleMessage) error {
		return jsonlfile.Walk(dir, out)
	})
}
