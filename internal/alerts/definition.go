package alerts

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"alertresolver/internal/clock"
	"alertresolver/internal/config"
	"alertresolver/internal/domain"
	"alertresolver/internal/telemetry"
	"alertresolver/internal/templatefmt"
)

// definition carries what every built-in alert shares.
type definition struct {
	alertType string
	connector domain.ConnectorConfig
	settings  config.AlertConfig
	source    telemetry.Source
	clock     clock.Clock
}

func (d *definition) Type() string                      { return d.alertType }
func (d *definition) Connector() domain.ConnectorConfig { return d.connector }
func (d *definition) FrequencyMinutes() int             { return d.settings.FrequencyMinutes }
func (d *definition) ConnectionTypes() []string         { return d.settings.ConnectionTypes }
func (d *definition) SkipAlerts() []string              { return d.settings.SkipAlerts }

// IsActive is false for disabled connectors and connection types outside the alert scope.
func (d *definition) IsActive(context.Context) (bool, error) {
	if d.connector.Disabled {
		return false, nil
	}
	return domain.AppliesTo(d.ConnectionTypes(), d.connector.ConnectionType), nil
}

func (d *definition) severity(fallback string) string {
	if severity := strings.TrimSpace(d.settings.Severity); severity != "" {
		return severity
	}
	return fallback
}

// newRaise builds a raise notification with connector context attached.
func (d *definition) newRaise(severity, message string, window time.Duration, count float64) *domain.AlertNotification {
	n := domain.NewNotification(d.alertType, d.connector, severity, message, d.clock.Now())
	n.WithData("Window", templatefmt.FormatDuration(window)).
		WithData("Messages received", strconv.FormatFloat(count, 'f', -1, 64)).
		WithData("Connection type", d.connector.ConnectionType).
		WithSupportData("Connector id", d.connector.ConnectorID).
		WithSupportData("ADX enabled", strconv.FormatBool(d.connector.ADXEnabled))
	if !d.connector.LastUpdatedAt.IsZero() {
		n.WithSupportData("Config updated at", d.connector.LastUpdatedAt.UTC().Format(time.RFC3339))
	}
	if snapshot, err := json.MarshalIndent(d.connector, "", "  "); err == nil {
		n.WithAttachment("connector.json", "application/json", snapshot)
	}
	return n
}

// newResolve builds the auto-resolve notification of a cleared condition.
func (d *definition) newResolve(message string) *domain.AlertNotification {
	return domain.NewNotification(d.alertType, d.connector, "", message, d.clock.Now()).Resolving()
}
