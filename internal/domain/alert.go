package domain

import (
	"context"
	"fmt"
)

// Severity levels used by the built-in alert types.
const (
	SeverityHigh   = "High"
	SeverityMedium = "Medium"
	SeverityLow    = "Low"
)

// ParseSeverity maps a configured severity name to its canonical spelling.
// Params: raw name, matched case-insensitively.
// Returns: canonical level or an unknown-severity error.
func ParseSeverity(raw string) (string, error) {
	for _, level := range []string{SeverityHigh, SeverityMedium, SeverityLow} {
		if equalFoldTrim(raw, level) {
			return level, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", raw)
}

// AlertDefinition is one alert type bound to one connector for a single run.
// Params: alert type identity, connector scope, and evaluation hooks.
// Returns: optional notification payload when evaluated.
type AlertDefinition interface {
	Type() string
	Connector() ConnectorConfig
	// FrequencyMinutes is the minimum interval between two evaluations.
	FrequencyMinutes() int
	// ConnectionTypes lists connector connection types the alert applies to; empty means all.
	ConnectionTypes() []string
	// SkipAlerts lists alert types whose activity suppresses this alert.
	SkipAlerts() []string
	IsActive(ctx context.Context) (bool, error)
	Evaluate(ctx context.Context) (*AlertNotification, error)
}

// DefinitionKey derives the deduplication key of a definition.
// Params: alert definition.
// Returns: normalized "{type}:{site}:{connector}" key.
func DefinitionKey(def AlertDefinition) string {
	connector := def.Connector()
	return AlertKey(def.Type(), connector.SiteID, connector.ConnectorID)
}

// AppliesTo reports whether a definition covers the given connection type.
// Params: definition connection type list and connector connection type.
// Returns: true for empty list or case-insensitive match.
func AppliesTo(connectionTypes []string, connectionType string) bool {
	if len(connectionTypes) == 0 {
		return true
	}
	for _, candidate := range connectionTypes {
		if equalFoldTrim(candidate, connectionType) {
			return true
		}
	}
	return false
}

// DeliveryResult is the per-item outcome a channel reports for Notify/Resolve.
type DeliveryResult struct {
	AlertID  string
	AlertKey string
	Success  bool
	Err      error
}

// Succeeded builds a successful delivery result for a notification.
func Succeeded(n *AlertNotification) DeliveryResult {
	return DeliveryResult{AlertID: n.ID, AlertKey: n.AlertKey, Success: true}
}

// Failed builds a failed delivery result for a notification.
func Failed(n *AlertNotification, err error) DeliveryResult {
	return DeliveryResult{AlertID: n.ID, AlertKey: n.AlertKey, Err: err}
}
