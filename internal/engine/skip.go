package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alertresolver/internal/channel"
	"alertresolver/internal/domain"
	"alertresolver/internal/metrics"
)

// SkipResolver suppresses raises whose skip-alert types are active on the same connector.
type SkipResolver struct {
	tracker *Tracker
	logger  *slog.Logger
}

// NewSkipResolver creates resolver over tracker.
func NewSkipResolver(tracker *Tracker, logger *slog.Logger) *SkipResolver {
	return &SkipResolver{tracker: tracker, logger: logger}
}

// ShouldSkip decides suppression of one raise on one channel.
// Params: candidate, raise notifications of this tick, persisted occurrences of skip keys, and channel.
// Returns: true and the suppressing alert type when skipped.
func (r *SkipResolver) ShouldSkip(item *domain.AlertNotification, batch []*domain.AlertNotification, occurrences map[string]time.Time, ch channel.Channel) (bool, string) {
	for _, key := range skipKeys(item) {
		for _, other := range batch {
			if other != item && other.OriginKey() == key.alertKey {
				return true, key.alertType
			}
		}
		if r.tracker.StillActive(occurrences, domain.ChannelKey(key.alertKey, ch.Name()), ch.ActiveAlertTTL()) {
			return true, key.alertType
		}
	}
	return false, ""
}

// Filter drops suppressed candidates after one coalesced ledger read.
// Params: context, channel, raise candidates, and every raise notification of this tick for the channel.
// Returns: candidates allowed through or ledger read error.
func (r *SkipResolver) Filter(ctx context.Context, ch channel.Channel, candidates, batch []*domain.AlertNotification) ([]*domain.AlertNotification, error) {
	var lookup []string
	for _, item := range candidates {
		for _, key := range skipKeys(item) {
			lookup = append(lookup, domain.ChannelKey(key.alertKey, ch.Name()))
		}
	}
	if len(lookup) == 0 {
		return candidates, nil
	}

	occurrences, err := r.tracker.LastOccurrences(ctx, lookup)
	if err != nil {
		return nil, fmt.Errorf("read skip alerts: %w", err)
	}

	allowed := make([]*domain.AlertNotification, 0, len(candidates))
	for _, item := range candidates {
		if skip, by := r.ShouldSkip(item, batch, occurrences, ch); skip {
			metrics.SkipSuppressions.WithLabelValues(ch.Name(), item.AlertType).Inc()
			r.logger.Debug("alert suppressed by active skip alert",
				"channel", ch.Name(),
				"alert_key", item.AlertKey,
				"skip_alert", by,
			)
			continue
		}
		allowed = append(allowed, item)
	}
	return allowed, nil
}

type skipKey struct {
	alertType string
	alertKey  string
}

// skipKeys derives the alert keys of the item's skip types on the same connector.
func skipKeys(item *domain.AlertNotification) []skipKey {
	def := item.Origin()
	if def == nil {
		return nil
	}
	skipAlerts := def.SkipAlerts()
	if len(skipAlerts) == 0 {
		return nil
	}
	connector := def.Connector()
	keys := make([]skipKey, 0, len(skipAlerts))
	for _, skipType := range skipAlerts {
		keys = append(keys, skipKey{
			alertType: skipType,
			alertKey:  domain.AlertKey(skipType, connector.SiteID, connector.ConnectorID),
		})
	}
	return keys
}
