package domain

import (
	"strings"
	"time"
)

const (
	minStabilityWindow   = 1800 * time.Second
	stabilityWindowSlack = 300 * time.Second
)

// ConnectorConfig describes one monitored connector as read from inventory.
// Params: site/connector identity, polling interval, and update timestamp.
// Returns: connector scope for alert definitions.
type ConnectorConfig struct {
	SiteID          string    `yaml:"site_id" json:"site_id"`
	ConnectorID     string    `yaml:"connector_id" json:"connector_id"`
	ConnectorName   string    `yaml:"connector_name" json:"connector_name"`
	ConnectionType  string    `yaml:"connection_type" json:"connection_type"`
	LastUpdatedAt   time.Time `yaml:"last_updated_at" json:"last_updated_at"`
	IntervalSeconds int       `yaml:"interval_sec" json:"interval_sec"`
	ADXEnabled      bool      `yaml:"adx_enabled" json:"adx_enabled"`
	Disabled        bool      `yaml:"disabled" json:"disabled"`
}

// Interval returns the connector telemetry interval.
func (c ConnectorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StabilityWindow returns how long a connector signal needs to settle.
// Intervals under 30 minutes use a flat 30 minute window, longer ones get five minutes of slack.
func (c ConnectorConfig) StabilityWindow() time.Duration {
	interval := c.Interval()
	if interval < minStabilityWindow {
		return minStabilityWindow
	}
	return interval + stabilityWindowSlack
}

// DisplayName returns connector name, falling back to connector id.
func (c ConnectorConfig) DisplayName() string {
	if name := strings.TrimSpace(c.ConnectorName); name != "" {
		return name
	}
	return strings.TrimSpace(c.ConnectorID)
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
