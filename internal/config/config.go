package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName      = "alertresolver"
	defaultTickIntervalSec  = 300
	defaultInventoryFile    = "connectors.yaml"
	defaultHTTPListen       = ":8080"
	defaultHealthPath       = "/healthz"
	defaultReadyPath        = "/readyz"
	defaultMetricsPath      = "/metrics"
	defaultTriggerPath      = "/ticks"
	defaultNATSURL          = "nats://127.0.0.1:4222"
	defaultNATSRunBucket    = "alert_runs"
	defaultNATSActiveBucket = "active_alerts"
	defaultTriggerSubject   = "alertresolver.tick"
	defaultTriggerGroup     = "alertresolver"
	defaultSQLitePath       = "data/alertresolver.db"
	defaultPostgresTimeout  = 5
	defaultTelemetryTimeout = 10
	defaultActiveAlertTTL   = 24 * 60 * 60
	defaultAlertFrequency   = 30
	defaultChannelTimeout   = 10
	defaultNATSChannelSubj  = "alertresolver.alerts.{{.Action}}"
	defaultNATSChannelWild  = "alertresolver.alerts.>"
	defaultNATSStream       = "ALERTRESOLVER_ALERTS"
	defaultNATSStreamMaxAge = 7 * 24 * 60 * 60
	defaultTelemetryQuery   = `sum(increase(connector_telemetry_messages_total{site_id="{{.SiteID}}",connector_id="{{.ConnectorID}}"}[{{promDuration .Window}}]))`
	defaultADXQuery         = `sum(increase(adx_ingested_rows_total{site_id="{{.SiteID}}",connector_id="{{.ConnectorID}}"}[{{promDuration .Window}}]))`

	// StoreBackendMemory keeps state in process memory.
	StoreBackendMemory = "memory"
	// StoreBackendNATS keeps state in JetStream KV buckets.
	StoreBackendNATS = "nats"
	// StoreBackendPostgres keeps state in PostgreSQL tables.
	StoreBackendPostgres = "postgres"
	// StoreBackendSQLite keeps state in a local SQLite file.
	StoreBackendSQLite = "sqlite"

	// ChannelTypeTelegram identifies Telegram transport.
	ChannelTypeTelegram = "telegram"
	// ChannelTypeSlack identifies Slack transport.
	ChannelTypeSlack = "slack"
	// ChannelTypeWebhook identifies generic HTTP transport.
	ChannelTypeWebhook = "webhook"
	// ChannelTypeKafka identifies Kafka topic transport.
	ChannelTypeKafka = "kafka"
	// ChannelTypeNATS identifies JetStream subject transport.
	ChannelTypeNATS = "nats"
)

var (
	storeBackends = map[string]struct{}{
		StoreBackendMemory:   {},
		StoreBackendNATS:     {},
		StoreBackendPostgres: {},
		StoreBackendSQLite:   {},
	}
	channelTypes = map[string]struct{}{
		ChannelTypeTelegram: {},
		ChannelTypeSlack:    {},
		ChannelTypeWebhook:  {},
		ChannelTypeKafka:    {},
		ChannelTypeNATS:     {},
	}
)

// Config holds service runtime settings, alert types and channels.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service   ServiceConfig            `toml:"service"`
	Log       LogConfig                `toml:"log"`
	HTTP      HTTPConfig               `toml:"http"`
	Store     StoreConfig              `toml:"store"`
	Telemetry TelemetryConfig          `toml:"telemetry"`
	Trigger   TriggerConfig            `toml:"trigger"`
	Alert     map[string]AlertConfig   `toml:"alert"`
	Channel   map[string]ChannelConfig `toml:"channel"`
}

// ServiceConfig contains scheduler settings.
// Params: service name, tick cadence, per-tick deadline, and inventory path.
// Returns: scheduler behavior.
type ServiceConfig struct {
	Name            string `toml:"name"`
	TickIntervalSec int    `toml:"tick_interval_sec"`
	TickTimeoutSec  int    `toml:"tick_timeout_sec"`
	InventoryFile   string `toml:"inventory_file"`
	RunOnStart      bool   `toml:"run_on_start"`
}

// HTTPConfig defines the operational HTTP surface.
type HTTPConfig struct {
	Listen      string `toml:"listen"`
	HealthPath  string `toml:"health_path"`
	ReadyPath   string `toml:"ready_path"`
	MetricsPath string `toml:"metrics_path"`
	TriggerPath string `toml:"trigger_path"`
}

// StoreConfig selects the run-history and active-alert backend.
// Params: backend name and backend-specific sections.
// Returns: persistence settings.
type StoreConfig struct {
	Backend  string              `toml:"backend"`
	NATS     NATSStoreConfig     `toml:"nats"`
	Postgres PostgresStoreConfig `toml:"postgres"`
	SQLite   SQLiteStoreConfig   `toml:"sqlite"`
}

// NATSStoreConfig defines JetStream KV buckets for state.
// Params: server URLs, bucket names, create flag, and run record expiry.
// Returns: KV store settings.
type NATSStoreConfig struct {
	URL                []string `toml:"url"`
	RunBucket          string   `toml:"run_bucket"`
	ActiveBucket       string   `toml:"active_bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
	RunHistoryTTLSec   int      `toml:"run_history_ttl_sec"`
}

// PostgresStoreConfig defines the PostgreSQL connection.
type PostgresStoreConfig struct {
	DSN               string `toml:"dsn"`
	ConnectTimeoutSec int    `toml:"connect_timeout_sec"`
}

// SQLiteStoreConfig defines the SQLite database file.
type SQLiteStoreConfig struct {
	Path string `toml:"path"`
}

// TelemetryConfig defines the metric store used by built-in alert types.
// Params: Prometheus base URL, request timeout, and query templates.
// Returns: telemetry source settings.
type TelemetryConfig struct {
	PrometheusURL string `toml:"prometheus_url"`
	TimeoutSec    int    `toml:"timeout_sec"`
	Query         string `toml:"query"`
	ADXQuery      string `toml:"adx_query"`
}

// TriggerConfig groups external tick triggers.
type TriggerConfig struct {
	NATS NATSTriggerConfig `toml:"nats"`
}

// NATSTriggerConfig subscribes to a subject whose messages request a tick.
type NATSTriggerConfig struct {
	Enabled    bool     `toml:"enabled"`
	URL        []string `toml:"url"`
	Subject    string   `toml:"subject"`
	QueueGroup string   `toml:"queue_group"`
}

// AlertConfig tunes one built-in alert type.
// Params: evaluation frequency, connection type scope, suppression list, and thresholds.
// Returns: alert type settings.
type AlertConfig struct {
	Disabled         bool       `toml:"disabled"`
	FrequencyMinutes int        `toml:"frequency_min"`
	ConnectionTypes  StringList `toml:"connection_types"`
	SkipAlerts       StringList `toml:"skip_alerts"`
	Severity         string     `toml:"severity"`
	ThresholdRatio   float64    `toml:"threshold_ratio"`
}

// ChannelConfig describes one named outbound channel.
// Params: transport type, registry scope, TTL, retry/breaker policy, templates, and transport settings.
// Returns: channel settings.
type ChannelConfig struct {
	Type              string         `toml:"type"`
	Enabled           bool           `toml:"enabled"`
	FilterAlerts      bool           `toml:"filter_alerts"`
	AlertTypes        StringList     `toml:"alert_types"`
	AllAlerts         bool           `toml:"all_alerts"`
	ActiveAlertTTLSec int            `toml:"active_alert_ttl_sec"`
	Retry             RetryConfig    `toml:"retry"`
	CircuitBreaker    BreakerConfig  `toml:"circuit_breaker"`
	Template          TemplateConfig `toml:"template"`
	Telegram          TelegramConfig `toml:"telegram"`
	Slack             SlackConfig    `toml:"slack"`
	Webhook           WebhookConfig  `toml:"webhook"`
	Kafka             KafkaConfig    `toml:"kafka"`
	NATS              NATSChannel    `toml:"nats"`
}

// RetryConfig configures in-call transport retries.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for one channel.
type RetryConfig struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// BreakerConfig configures the per-channel circuit breaker.
type BreakerConfig struct {
	Enabled          bool `toml:"enabled"`
	FailureThreshold int  `toml:"failure_threshold"`
	OpenSec          int  `toml:"open_sec"`
}

// TemplateConfig overrides raise/resolve message bodies.
type TemplateConfig struct {
	Raise   string `toml:"raise"`
	Resolve string `toml:"resolve"`
}

// TelegramConfig defines Telegram Bot API settings.
type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	APIBase  string `toml:"api_base"`
}

// SlackConfig defines Slack Web API settings.
type SlackConfig struct {
	Token     string `toml:"token"`
	ChannelID string `toml:"channel_id"`
	APIURL    string `toml:"api_url"`
}

// WebhookConfig defines a generic HTTP endpoint with raise and resolve actions.
// Params: base URL, action paths, method, timeout, headers, auth, and success statuses.
// Returns: webhook sender settings.
type WebhookConfig struct {
	BaseURL       string            `toml:"base_url"`
	RaisePath     string            `toml:"raise_path"`
	ResolvePath   string            `toml:"resolve_path"`
	Method        string            `toml:"method"`
	TimeoutSec    int               `toml:"timeout_sec"`
	Headers       map[string]string `toml:"headers"`
	Auth          AuthConfig        `toml:"auth"`
	SuccessStatus []int             `toml:"success_status"`
}

// AuthConfig defines webhook auth strategy.
// Params: auth type and credentials/header options.
// Returns: auth controls for webhook requests.
type AuthConfig struct {
	Type     string `toml:"type"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Token    string `toml:"token"`
	Header   string `toml:"header"`
	Prefix   string `toml:"prefix"`
}

// KafkaConfig defines the Kafka topic channel.
type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	Topic           string   `toml:"topic"`
	RequiredAcks    int      `toml:"required_acks"`
	WriteTimeoutSec int      `toml:"write_timeout_sec"`
	BatchTimeoutMS  int      `toml:"batch_timeout_ms"`
}

// NATSChannel defines the JetStream subject channel.
// Params: server URLs, subject template, stream binding, and stream retention.
// Returns: JetStream publisher settings.
type NATSChannel struct {
	URL            []string   `toml:"url"`
	Subject        string     `toml:"subject"`
	Stream         string     `toml:"stream"`
	StreamSubjects StringList `toml:"stream_subjects"`
	CreateStream   bool       `toml:"create_stream"`
	MaxAgeSec      int        `toml:"max_age_sec"`
}

// LogConfig contains console/file logging sinks.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// StringList decodes TOML scalar/string-array into a list.
type StringList []string

// UnmarshalTOML accepts either one string or an array of strings.
// Params: parsed TOML value from decoder.
// Returns: conversion error for unsupported types.
func (s *StringList) UnmarshalTOML(v interface{}) error {
	switch t := v.(type) {
	case string:
		*s = []string{t}
		return nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, raw := range t {
			str, ok := raw.(string)
			if !ok {
				return fmt.Errorf("string list contains non-string value %T", raw)
			}
			out = append(out, str)
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("unsupported string list type %T", v)
	}
}

// ConfigSource describes where config snapshot is loaded from.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds config source from CLI flags.
// Params: file and directory flag values.
// Returns: exactly one configured source or error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}
	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes, defaults and validates one TOML document.
// Params: raw TOML body.
// Returns: validated config.
func Parse(body []byte) (Config, error) {
	cfg, err := decode(body)
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(body []byte) (Config, error) {
	var cfg Config
	decoder := toml.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("unknown config keys: %s", strict.String())
		}
		return Config{}, err
	}
	normalizeNames(&cfg)
	return cfg, nil
}

// normalizeNames lower-cases channel names and trims alert type names used as map keys.
func normalizeNames(cfg *Config) {
	if len(cfg.Channel) > 0 {
		channels := make(map[string]ChannelConfig, len(cfg.Channel))
		for name, channel := range cfg.Channel {
			channels[NormalizeChannelName(name)] = channel
		}
		cfg.Channel = channels
	}
	if len(cfg.Alert) > 0 {
		alerts := make(map[string]AlertConfig, len(cfg.Alert))
		for name, alert := range cfg.Alert {
			alerts[strings.TrimSpace(name)] = alert
		}
		cfg.Alert = alerts
	}
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := decode(body)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory in name order.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Sections present in src replace dst; alert and channel tables merge by name.
func mergeConfig(dst *Config, src Config) {
	overlay(&dst.Service, src.Service)
	overlay(&dst.Log, src.Log)
	overlay(&dst.HTTP, src.HTTP)
	overlay(&dst.Store, src.Store)
	overlay(&dst.Telemetry, src.Telemetry)
	overlay(&dst.Trigger, src.Trigger)
	for name, alert := range src.Alert {
		if dst.Alert == nil {
			dst.Alert = make(map[string]AlertConfig)
		}
		dst.Alert[name] = alert
	}
	for name, channel := range src.Channel {
		if dst.Channel == nil {
			dst.Channel = make(map[string]ChannelConfig)
		}
		dst.Channel[name] = channel
	}
}

func overlay[T any](dst *T, src T) {
	if reflect.ValueOf(src).IsZero() {
		return
	}
	*dst = src
}

// NormalizeChannelName returns canonical channel name used as registry and tracker key.
func NormalizeChannelName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// ChannelNames returns configured channel names in deterministic order.
func (c Config) ChannelNames() []string {
	names := make([]string, 0, len(c.Channel))
	for name := range c.Channel {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
