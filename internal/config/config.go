// Package config loads the toolbox's configuration: defaults, an optional
// CONFIG_PATH/{default,<env>,<env>_local}.yaml layer merged with Viper, and
// TL2_*-prefixed environment variables, in that precedence order (env wins
// over file, file wins over default). cmd/tl2's subcommand flags are parsed
// separately; the few that name a config value (such as --url for the
// ClickHouse address) take precedence over it when set.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigError marks a configuration problem found at load time: a malformed
// config file, or an enabled component missing a value it needs. Treated as
// fatal by cmd/tl2 (log.Fatal, exit 1), per the toolbox's error taxonomy.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

type Config struct {
	Sinks  []string
	Sink   SinkConfig
	Twitch TwitchConfig
	Dgg    DggConfig

	// WorkerCount is loaded from worker_count / TL2_WORKER_COUNT (default
	// 16). No sink reads it: the Elasticsearch sink runs a single worker
	// goroutine.
	WorkerCount int
	// ElasticStreamChunkSize is loaded from elastic_stream_chunk_size /
	// TL2_ELASTIC_STREAM_CHUNK_SIZE. No sink reads it: the Elasticsearch
	// sink sizes its own bulk batches (up to 8192 messages).
	ElasticStreamChunkSize int

	Env        string
	ConfigPath string

	// OpsAddr is the /healthz + /metrics listener address for the scrape
	// process (e.g. ":8765"). Empty disables the ops server.
	OpsAddr string
}

type SinkConfig struct {
	SQLite          SQLiteConfig
	File            FileSinkConfig
	Elasticsearch   ElasticsearchSinkConfig
	Clickhouse      ClickhouseSinkConfig
	Jsonl           JsonlSinkConfig
	UsernameTracker UsernameTrackerConfig
	BatchSize       int
	FlushMaxMS      int
}

type SQLiteConfig struct {
	Path string
}

type FileSinkConfig struct {
	Dir           string
	PeriodSeconds int
}

type ElasticsearchSinkConfig struct {
	BaseURL         string
	Index           string
	Pipeline        string
	MaxRetrySeconds int
}

type ClickhouseSinkConfig struct {
	Addr string
}

type JsonlSinkConfig struct {
	Path string
}

type UsernameTrackerConfig struct {
	Path      string
	BatchSize int
}

type TwitchConfig struct {
	Enabled          bool
	Channels         []string
	Nick             string
	Token            string
	TokenFile        string
	ClientID         string
	ClientSecret     string
	RefreshToken     string
	RefreshTokenFile string
	TLS              bool
	LegacyChannelEnv string
	LegacyTokenEnv   string
}

type DggConfig struct {
	Enabled bool
	Sites   []DggSiteConfig
}

type DggSiteConfig struct {
	Name            string
	Endpoint        string
	Origin          string
	UseGetKey       bool
	MaxRetrySeconds int
}

const (
	defaultSQLitePath          = "chat.db"
	defaultBatchSize           = 1
	defaultFlushMS             = 0
	defaultWorkerCount         = 16
	defaultElasticChunkSize    = 2000
	defaultEnv                 = "development"
	defaultConfigPath          = "config"
	defaultFilePeriodSeconds   = 60
	defaultUsernameBatchSize   = 500
	defaultElasticMaxRetrySecs = 300
	defaultDggMaxRetrySeconds  = 60
)

// Load reads defaults, merges the CONFIG_PATH file layer, then overlays
// TL2_*-prefixed (and a handful of legacy un-prefixed) environment
// variables. It never fails on a missing config file; it returns a
// *ConfigError for a malformed one or for an enabled component missing a
// required value.
func Load() (Config, error) {
	configPath := firstNonEmpty(os.Getenv("CONFIG_PATH"), defaultConfigPath)
	env := firstNonEmpty(os.Getenv("TL2_ENV"), os.Getenv("APP_ENV"), os.Getenv("RUST_ENV"), defaultEnv)

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := mergeLayer(v, configPath, "default"); err != nil {
		return Config{}, err
	}
	if err := mergeLayer(v, configPath, env); err != nil {
		return Config{}, err
	}
	if err := mergeLayer(v, configPath, env+"_local"); err != nil {
		return Config{}, err
	}

	v.SetEnvPrefix("TL2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{Env: env, ConfigPath: configPath}
	cfg.Sinks = dedupe(splitList(v.GetString("sinks")))
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []string{"sqlite"}
	}

	cfg.Sink.SQLite.Path = firstNonEmpty(v.GetString("sink.sqlite.path"), defaultSQLitePath)
	cfg.Sink.BatchSize = positiveOr(v.GetInt("sink.batch_size"), defaultBatchSize)
	cfg.Sink.FlushMaxMS = v.GetInt("sink.flush_max_ms")

	cfg.Sink.File.Dir = v.GetString("sink.file.dir")
	cfg.Sink.File.PeriodSeconds = positiveOr(v.GetInt("sink.file.period_seconds"), defaultFilePeriodSeconds)

	cfg.Sink.Elasticsearch.BaseURL = v.GetString("sink.elasticsearch.base_url")
	cfg.Sink.Elasticsearch.Index = v.GetString("sink.elasticsearch.index")
	cfg.Sink.Elasticsearch.Pipeline = v.GetString("sink.elasticsearch.pipeline")
	cfg.Sink.Elasticsearch.MaxRetrySeconds = positiveOr(v.GetInt("sink.elasticsearch.max_retry_seconds"), defaultElasticMaxRetrySecs)

	cfg.Sink.Clickhouse.Addr = v.GetString("sink.clickhouse.addr")
	cfg.Sink.Jsonl.Path = v.GetString("sink.jsonl.path")

	cfg.Sink.UsernameTracker.Path = v.GetString("sink.username_tracker.path")
	cfg.Sink.UsernameTracker.BatchSize = positiveOr(v.GetInt("sink.username_tracker.batch_size"), defaultUsernameBatchSize)

	cfg.WorkerCount = positiveOr(v.GetInt("worker_count"), defaultWorkerCount)
	cfg.ElasticStreamChunkSize = positiveOr(v.GetInt("elastic_stream_chunk_size"), defaultElasticChunkSize)
	cfg.OpsAddr = v.GetString("ops_addr")

	loadTwitch(v, &cfg)
	loadDgg(v, &cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadTwitch(v *viper.Viper, cfg *Config) {
	cfg.Twitch.Channels = dedupe(splitList(v.GetString("twitch.channels")))
	if len(cfg.Twitch.Channels) == 0 {
		if legacy := strings.TrimSpace(os.Getenv("TWITCH_CHANNEL")); legacy != "" {
			cfg.Twitch.LegacyChannelEnv = "TWITCH_CHANNEL"
			cfg.Twitch.Channels = []string{legacy}
		}
	}
	cfg.Twitch.Nick = v.GetString("twitch.nick")
	cfg.Twitch.Token = v.GetString("twitch.token")
	if cfg.Twitch.Token == "" {
		if legacy := strings.TrimSpace(os.Getenv("TWITCH_TOKEN")); legacy != "" {
			cfg.Twitch.Token = legacy
			cfg.Twitch.LegacyTokenEnv = "TWITCH_TOKEN"
		}
	}
	cfg.Twitch.TokenFile = v.GetString("twitch.token_file")
	cfg.Twitch.ClientID = v.GetString("twitch.client_id")
	cfg.Twitch.ClientSecret = v.GetString("twitch.client_secret")
	cfg.Twitch.RefreshToken = v.GetString("twitch.refresh_token")
	cfg.Twitch.RefreshTokenFile = v.GetString("twitch.refresh_token_file")
	cfg.Twitch.TLS = v.GetBool("twitch.tls")
	cfg.Twitch.Enabled = v.GetBool("twitch.enabled") || len(cfg.Twitch.Channels) > 0
}

func loadDgg(v *viper.Viper, cfg *Config) {
	var sites []DggSiteConfig
	if err := v.UnmarshalKey("dgg.sites", &sites); err == nil {
		cfg.Dgg.Sites = sites
	}
	if name := v.GetString("dgg.name"); name != "" && len(cfg.Dgg.Sites) == 0 {
		cfg.Dgg.Sites = []DggSiteConfig{{
			Name:            name,
			Endpoint:        v.GetString("dgg.endpoint"),
			Origin:          v.GetString("dgg.origin"),
			UseGetKey:       v.GetBool("dgg.use_get_key"),
			MaxRetrySeconds: positiveOr(v.GetInt("dgg.max_retry_seconds"), defaultDggMaxRetrySeconds),
		}}
	}
	for i := range cfg.Dgg.Sites {
		cfg.Dgg.Sites[i].MaxRetrySeconds = positiveOr(cfg.Dgg.Sites[i].MaxRetrySeconds, defaultDggMaxRetrySeconds)
	}
	cfg.Dgg.Enabled = v.GetBool("dgg.enabled") || len(cfg.Dgg.Sites) > 0
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sinks", "sqlite")
	v.SetDefault("sink.sqlite.path", defaultSQLitePath)
	v.SetDefault("sink.batch_size", defaultBatchSize)
	v.SetDefault("sink.flush_max_ms", defaultFlushMS)
	v.SetDefault("sink.file.period_seconds", defaultFilePeriodSeconds)
	v.SetDefault("sink.elasticsearch.max_retry_seconds", defaultElasticMaxRetrySecs)
	v.SetDefault("sink.username_tracker.batch_size", defaultUsernameBatchSize)
	v.SetDefault("worker_count", defaultWorkerCount)
	v.SetDefault("elastic_stream_chunk_size", defaultElasticChunkSize)
	v.SetDefault("twitch.tls", true)
}

// mergeLayer merges <configPath>/<name>.yaml into v, silently skipping a
// missing file. A present-but-malformed file is a *ConfigError.
func mergeLayer(v *viper.Viper, configPath, name string) error {
	path := filepath.Join(configPath, name+".yaml")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return &ConfigError{Msg: "reading " + path, Err: err}
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.HasSink("elasticsearch") && cfg.Sink.Elasticsearch.BaseURL == "" {
		return &ConfigError{Msg: "sink.elasticsearch.base_url is required when the elasticsearch sink is enabled"}
	}
	if cfg.HasSink("clickhouse") && cfg.Sink.Clickhouse.Addr == "" {
		return &ConfigError{Msg: "sink.clickhouse.addr is required when the clickhouse sink is enabled"}
	}
	for _, site := range cfg.Dgg.Sites {
		if site.Endpoint == "" {
			return &ConfigError{Msg: fmt.Sprintf("dgg site %q is missing an endpoint", site.Name)}
		}
	}
	return nil
}

func (c Config) HasSink(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range c.Sinks {
		if strings.ToLower(strings.TrimSpace(s)) == name {
			return true
		}
	}
	return false
}

func (c Config) FlushInterval() time.Duration {
	if c.Sink.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Sink.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Sink.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Sink.BatchSize
}

func (c Config) Summary() Summary {
	refreshEnabled := c.Twitch.ClientID != "" && c.Twitch.ClientSecret != "" && (c.Twitch.RefreshToken != "" || c.Twitch.RefreshTokenFile != "")
	return Summary{
		Sinks:      append([]string(nil), c.Sinks...),
		SQLitePath: c.Sink.SQLite.Path,
		BatchSize:  c.Sink.BatchSize,
		FlushMaxMS: c.Sink.FlushMaxMS,
		Twitch: TwitchSummary{
			Enabled:          c.Twitch.Enabled,
			Channels:         len(c.Twitch.Channels),
			Nick:             c.Twitch.Nick,
			Token:            redactString(c.Twitch.Token),
			TokenFile:        c.Twitch.TokenFile,
			ClientID:         redactString(c.Twitch.ClientID),
			ClientSecret:     redactString(c.Twitch.ClientSecret),
			RefreshToken:     redactString(c.Twitch.RefreshToken),
			RefreshTokenFile: c.Twitch.RefreshTokenFile,
			RefreshEnabled:   refreshEnabled,
		},
		Dgg: DggSummary{
			Enabled: c.Dgg.Enabled,
			Sites:   len(c.Dgg.Sites),
		},
	}
}

type Summary struct {
	Sinks      []string      `json:"sinks"`
	SQLitePath string        `json:"sqlite_path"`
	BatchSize  int           `json:"batch"`
	FlushMaxMS int           `json:"flush_ms"`
	Twitch     TwitchSummary `json:"twitch"`
	Dgg        DggSummary    `json:"dgg"`
}

type TwitchSummary struct {
	Enabled          bool   `json:"enabled"`
	Channels         int    `json:"channels"`
	Nick             string `json:"nick,omitempty"`
	Token            string `json:"token,omitempty"`
	TokenFile        string `json:"token_file,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
	ClientSecret     string `json:"client_secret,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshTokenFile string `json:"refresh_token_file,omitempty"`
	RefreshEnabled   bool   `json:"refresh_enabled"`
}

type DggSummary struct {
	Enabled bool `json:"enabled"`
	Sites   int  `json:"sites"`
}

func (c Config) Redacted() map[string]any {
	refreshEnabled := c.Twitch.ClientID != "" && c.Twitch.ClientSecret != "" && (c.Twitch.RefreshToken != "" || c.Twitch.RefreshTokenFile != "")
	return map[string]any{
		"sinks": append([]string(nil), c.Sinks...),
		"sink": map[string]any{
			"sqlite_path": c.Sink.SQLite.Path,
			"batch_size":  c.Sink.BatchSize,
			"flush_ms":    c.Sink.FlushMaxMS,
		},
		"twitch": map[string]any{
			"enabled":            c.Twitch.Enabled,
			"channels":           append([]string(nil), c.Twitch.Channels...),
			"nick":               c.Twitch.Nick,
			"token":              redactString(c.Twitch.Token),
			"token_file":         c.Twitch.TokenFile,
			"client_id":          redactString(c.Twitch.ClientID),
			"client_secret":      redactString(c.Twitch.ClientSecret),
			"refresh_token":      redactString(c.Twitch.RefreshToken),
			"refresh_token_file": c.Twitch.RefreshTokenFile,
			"tls":                c.Twitch.TLS,
			"refresh_enabled":    refreshEnabled,
		},
		"dgg": map[string]any{
			"enabled": c.Dgg.Enabled,
			"sites":   len(c.Dgg.Sites),
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}
