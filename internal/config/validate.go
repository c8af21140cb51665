package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"alertresolver/internal/templatefmt"
)

// applyDefaults fills omitted settings in place.
// Params: decoded config snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.TickIntervalSec <= 0 {
		cfg.Service.TickIntervalSec = defaultTickIntervalSec
	}
	if cfg.Service.TickTimeoutSec <= 0 {
		cfg.Service.TickTimeoutSec = max(cfg.Service.TickIntervalSec*4/5, 1)
	}
	if strings.TrimSpace(cfg.Service.InventoryFile) == "" {
		cfg.Service.InventoryFile = defaultInventoryFile
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	fillString(&cfg.HTTP.Listen, defaultHTTPListen)
	fillString(&cfg.HTTP.HealthPath, defaultHealthPath)
	fillString(&cfg.HTTP.ReadyPath, defaultReadyPath)
	fillString(&cfg.HTTP.MetricsPath, defaultMetricsPath)
	fillString(&cfg.HTTP.TriggerPath, defaultTriggerPath)

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendMemory
	}
	cfg.Store.NATS.URL = normalizeURLs(cfg.Store.NATS.URL)
	if cfg.Store.Backend == StoreBackendNATS && len(cfg.Store.NATS.URL) == 0 {
		cfg.Store.NATS.URL = []string{defaultNATSURL}
	}
	fillString(&cfg.Store.NATS.RunBucket, defaultNATSRunBucket)
	fillString(&cfg.Store.NATS.ActiveBucket, defaultNATSActiveBucket)
	if cfg.Store.Postgres.ConnectTimeoutSec <= 0 {
		cfg.Store.Postgres.ConnectTimeoutSec = defaultPostgresTimeout
	}
	fillString(&cfg.Store.SQLite.Path, defaultSQLitePath)

	if cfg.Telemetry.TimeoutSec <= 0 {
		cfg.Telemetry.TimeoutSec = defaultTelemetryTimeout
	}
	fillString(&cfg.Telemetry.Query, defaultTelemetryQuery)
	fillString(&cfg.Telemetry.ADXQuery, defaultADXQuery)

	cfg.Trigger.NATS.URL = normalizeURLs(cfg.Trigger.NATS.URL)
	if cfg.Trigger.NATS.Enabled && len(cfg.Trigger.NATS.URL) == 0 {
		cfg.Trigger.NATS.URL = append([]string(nil), cfg.Store.NATS.URL...)
		if len(cfg.Trigger.NATS.URL) == 0 {
			cfg.Trigger.NATS.URL = []string{defaultNATSURL}
		}
	}
	fillString(&cfg.Trigger.NATS.Subject, defaultTriggerSubject)
	fillString(&cfg.Trigger.NATS.QueueGroup, defaultTriggerGroup)

	for name, alert := range cfg.Alert {
		if alert.FrequencyMinutes <= 0 {
			alert.FrequencyMinutes = defaultAlertFrequency
		}
		cfg.Alert[name] = alert
	}

	for name, channel := range cfg.Channel {
		channel.Type = strings.ToLower(strings.TrimSpace(channel.Type))
		if channel.ActiveAlertTTLSec <= 0 {
			channel.ActiveAlertTTLSec = defaultActiveAlertTTL
		}
		fillRetryDefaults(&channel.Retry)
		fillBreakerDefaults(&channel.CircuitBreaker)
		switch channel.Type {
		case ChannelTypeTelegram:
			fillString(&channel.Telegram.APIBase, "https://api.telegram.org")
		case ChannelTypeWebhook:
			fillString(&channel.Webhook.Method, "POST")
			channel.Webhook.Method = strings.ToUpper(channel.Webhook.Method)
			if channel.Webhook.TimeoutSec <= 0 {
				channel.Webhook.TimeoutSec = defaultChannelTimeout
			}
			if len(channel.Webhook.SuccessStatus) == 0 {
				channel.Webhook.SuccessStatus = []int{200, 201, 202, 204}
			}
		case ChannelTypeKafka:
			if channel.Kafka.RequiredAcks == 0 {
				channel.Kafka.RequiredAcks = -1
			}
			if channel.Kafka.WriteTimeoutSec <= 0 {
				channel.Kafka.WriteTimeoutSec = defaultChannelTimeout
			}
			if channel.Kafka.BatchTimeoutMS <= 0 {
				channel.Kafka.BatchTimeoutMS = 10
			}
		case ChannelTypeNATS:
			channel.NATS.URL = normalizeURLs(channel.NATS.URL)
			if len(channel.NATS.URL) == 0 {
				channel.NATS.URL = []string{defaultNATSURL}
			}
			fillString(&channel.NATS.Subject, defaultNATSChannelSubj)
			fillString(&channel.NATS.Stream, defaultNATSStream)
			if len(channel.NATS.StreamSubjects) == 0 {
				channel.NATS.StreamSubjects = StringList{defaultNATSChannelWild}
			}
			if channel.NATS.MaxAgeSec <= 0 {
				channel.NATS.MaxAgeSec = defaultNATSStreamMaxAge
			}
		}
		cfg.Channel[name] = channel
	}
}

// fillRetryDefaults normalizes retry policy fields for one channel.
// Params: retry policy pointer.
// Returns: policy defaults applied in place.
func fillRetryDefaults(retry *RetryConfig) {
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 30000
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
}

func fillBreakerDefaults(breaker *BreakerConfig) {
	if breaker.FailureThreshold <= 0 {
		breaker.FailureThreshold = 5
	}
	if breaker.OpenSec <= 0 {
		breaker.OpenSec = 60
	}
}

func fillString(dst *string, value string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = value
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if cfg.Service.TickTimeoutSec > cfg.Service.TickIntervalSec {
		return errors.New("service.tick_timeout_sec must be <= service.tick_interval_sec")
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}
	for name, path := range map[string]string{
		"http.health_path":  cfg.HTTP.HealthPath,
		"http.ready_path":   cfg.HTTP.ReadyPath,
		"http.metrics_path": cfg.HTTP.MetricsPath,
		"http.trigger_path": cfg.HTTP.TriggerPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with '/'", name)
		}
	}

	if _, ok := storeBackends[cfg.Store.Backend]; !ok {
		return fmt.Errorf("store.backend has unsupported value %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == StoreBackendPostgres && strings.TrimSpace(cfg.Store.Postgres.DSN) == "" {
		return errors.New("store.postgres.dsn is required when store.backend=postgres")
	}
	if cfg.Store.NATS.RunBucket == cfg.Store.NATS.ActiveBucket {
		return errors.New("store.nats.run_bucket and store.nats.active_bucket must differ")
	}

	if strings.TrimSpace(cfg.Telemetry.PrometheusURL) != "" {
		if _, err := url.ParseRequestURI(cfg.Telemetry.PrometheusURL); err != nil {
			return fmt.Errorf("telemetry.prometheus_url is invalid: %w", err)
		}
	}
	if err := validateTemplate("telemetry.query", cfg.Telemetry.Query); err != nil {
		return err
	}
	if err := validateTemplate("telemetry.adx_query", cfg.Telemetry.ADXQuery); err != nil {
		return err
	}

	if len(cfg.Alert) == 0 {
		return errors.New("at least one [alert.<type>] table is required")
	}
	for name, alert := range cfg.Alert {
		if name == "" {
			return errors.New("alert type name must not be empty")
		}
		if alert.ThresholdRatio < 0 || alert.ThresholdRatio > 1 {
			return fmt.Errorf("alert.%s.threshold_ratio must be within [0,1]", name)
		}
		for _, skip := range alert.SkipAlerts {
			if strings.EqualFold(strings.TrimSpace(skip), name) {
				return fmt.Errorf("alert.%s.skip_alerts must not reference itself", name)
			}
		}
	}

	for _, name := range cfg.ChannelNames() {
		if err := validateChannel(name, cfg.Channel[name], cfg.Alert); err != nil {
			return err
		}
	}
	return nil
}

// validateChannel validates one named channel table.
// Params: channel name, channel config, and configured alert types.
// Returns: first validation error.
func validateChannel(name string, channel ChannelConfig, alerts map[string]AlertConfig) error {
	prefix := "channel." + name
	if strings.ContainsAny(name, ": ") {
		return fmt.Errorf("%s: channel name must not contain ':' or spaces", prefix)
	}
	if _, ok := channelTypes[channel.Type]; !ok {
		return fmt.Errorf("%s.type has unsupported value %q", prefix, channel.Type)
	}
	if !channel.AllAlerts && len(channel.AlertTypes) == 0 {
		return fmt.Errorf("%s: set all_alerts=true or list alert_types", prefix)
	}
	for _, alertType := range channel.AlertTypes {
		if _, ok := alerts[strings.TrimSpace(alertType)]; !ok {
			return fmt.Errorf("%s.alert_types references unknown alert type %q", prefix, alertType)
		}
	}
	switch strings.ToLower(channel.Retry.Backoff) {
	case "exponential", "fixed":
	default:
		return fmt.Errorf("%s.retry.backoff has unsupported value %q", prefix, channel.Retry.Backoff)
	}
	if err := validateTemplate(prefix+".template.raise", channel.Template.Raise); err != nil {
		return err
	}
	if err := validateTemplate(prefix+".template.resolve", channel.Template.Resolve); err != nil {
		return err
	}
	if !channel.Enabled {
		return nil
	}

	switch channel.Type {
	case ChannelTypeTelegram:
		if strings.TrimSpace(channel.Telegram.BotToken) == "" || strings.TrimSpace(channel.Telegram.ChatID) == "" {
			return fmt.Errorf("%s.telegram.bot_token and chat_id are required", prefix)
		}
	case ChannelTypeSlack:
		if strings.TrimSpace(channel.Slack.Token) == "" || strings.TrimSpace(channel.Slack.ChannelID) == "" {
			return fmt.Errorf("%s.slack.token and channel_id are required", prefix)
		}
	case ChannelTypeWebhook:
		if _, err := url.ParseRequestURI(strings.TrimSpace(channel.Webhook.BaseURL)); err != nil {
			return fmt.Errorf("%s.webhook.base_url is invalid: %w", prefix, err)
		}
		if err := validateAuth(prefix+".webhook.auth", channel.Webhook.Auth); err != nil {
			return err
		}
	case ChannelTypeKafka:
		if len(channel.Kafka.Brokers) == 0 || strings.TrimSpace(channel.Kafka.Topic) == "" {
			return fmt.Errorf("%s.kafka.brokers and topic are required", prefix)
		}
	case ChannelTypeNATS:
		if err := validateTemplate(prefix+".nats.subject", channel.NATS.Subject); err != nil {
			return err
		}
	}
	return nil
}

// validateAuth validates webhook auth settings.
func validateAuth(prefix string, auth AuthConfig) error {
	switch strings.ToLower(strings.TrimSpace(auth.Type)) {
	case "", "none":
		return nil
	case "bearer":
		if strings.TrimSpace(auth.Token) == "" {
			return fmt.Errorf("%s.token is required for bearer auth", prefix)
		}
	case "basic":
		if strings.TrimSpace(auth.Username) == "" {
			return fmt.Errorf("%s.username is required for basic auth", prefix)
		}
	case "header":
		if strings.TrimSpace(auth.Header) == "" || strings.TrimSpace(auth.Token) == "" {
			return fmt.Errorf("%s.header and token are required for header auth", prefix)
		}
	default:
		return fmt.Errorf("%s.type has unsupported value %q", prefix, auth.Type)
	}
	return nil
}

// validateTemplate parses an optional text template.
func validateTemplate(path, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if _, err := templatefmt.Parse(path, body); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error", "panic":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}
	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}
	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	return nil
}

func normalizeURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// TickInterval returns scheduler cadence.
func (c ServiceConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSec) * time.Second
}

// TickTimeout returns the deadline applied to one tick.
func (c ServiceConfig) TickTimeout() time.Duration {
	return time.Duration(c.TickTimeoutSec) * time.Second
}

// ActiveAlertTTL returns the channel re-notification window.
func (c ChannelConfig) ActiveAlertTTL() time.Duration {
	return time.Duration(c.ActiveAlertTTLSec) * time.Second
}
