package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alertresolver/internal/clock"
	"alertresolver/internal/domain"
	"alertresolver/internal/state"
)

// Throttle gates evaluations by connector stability and run history.
// Params: run history repository, clock, and logger.
// Returns: per-definition evaluate/skip decision.
type Throttle struct {
	runs   state.RunHistoryRepository
	clock  clock.Clock
	logger *slog.Logger
}

// NewThrottle creates run-history throttle.
func NewThrottle(runs state.RunHistoryRepository, clk clock.Clock, logger *slog.Logger) *Throttle {
	return &Throttle{runs: runs, clock: clk, logger: logger}
}

// ShouldEvaluate decides whether a definition runs this tick and records the run before evaluation.
// Params: context and alert definition.
// Returns: true when accepted; repository errors are returned to abort the tick.
func (t *Throttle) ShouldEvaluate(ctx context.Context, def domain.AlertDefinition) (bool, error) {
	connector := def.Connector()
	now := t.clock.Now()

	window := connector.StabilityWindow()
	if connector.LastUpdatedAt.Add(window).After(now) {
		t.logger.Warn("connector configuration changed recently, skipping alert",
			"alert_type", def.Type(),
			"site_id", connector.SiteID,
			"connector_id", connector.ConnectorID,
			"last_updated_at", connector.LastUpdatedAt,
			"stability_window", window.String(),
		)
		return false, nil
	}

	lastRun, found, err := t.runs.GetLastAlertRun(ctx, def.Type(), connector.SiteID, connector.ConnectorID)
	if err != nil {
		return false, fmt.Errorf("read run history for %s: %w", domain.DefinitionKey(def), err)
	}
	frequency := time.Duration(def.FrequencyMinutes()) * time.Minute
	if found && lastRun.Add(frequency).After(now) {
		return false, nil
	}

	if err := t.runs.SaveAlertRun(ctx, def.Type(), connector.SiteID, connector.ConnectorID, now); err != nil {
		return false, fmt.Errorf("save run history for %s: %w", domain.DefinitionKey(def), err)
	}
	return true, nil
}
