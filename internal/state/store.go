package state

import (
	"context"
	"time"

	"alertresolver/internal/domain"
)

// RunHistoryRepository persists the last evaluation time per alert type and connector.
// Params: alert type, site id, and connector id identify one record.
// Returns: last run timestamp and whether a record exists.
type RunHistoryRepository interface {
	GetLastAlertRun(ctx context.Context, alertType, siteID, connectorID string) (time.Time, bool, error)
	SaveAlertRun(ctx context.Context, alertType, siteID, connectorID string, at time.Time) error
}

// ActiveAlertRepository is the per-channel deduplication ledger.
// Keys are "{alertKey}:{channel}". Every method handles the whole batch in one backend round-trip.
type ActiveAlertRepository interface {
	// AlertLastOccurrence returns recorded occurrences; missing keys are absent from the map.
	AlertLastOccurrence(ctx context.Context, keys []string) (map[string]time.Time, error)
	// IsAlertActive reports for every requested key whether a record exists.
	IsAlertActive(ctx context.Context, keys []string) (map[string]bool, error)
	LogAlert(ctx context.Context, keys []string, at time.Time) error
	DeleteAlert(ctx context.Context, keys []string) error
}

// Store combines both repositories with a lifecycle.
type Store interface {
	RunHistoryRepository
	ActiveAlertRepository
	Close() error
}

// runKey builds the run-history identity shared by every backend.
func runKey(alertType, siteID, connectorID string) string {
	return domain.AlertKey(alertType, siteID, connectorID)
}

// activeFromOccurrences expands an occurrence map into a full presence map.
func activeFromOccurrences(keys []string, occurrences map[string]time.Time) map[string]bool {
	active := make(map[string]bool, len(keys))
	for _, key := range keys {
		_, ok := occurrences[key]
		active[key] = ok
	}
	return active
}

// uniqueKeys drops duplicates and empty keys, preserving first occurrence order.
func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
