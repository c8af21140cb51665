package alerts

import (
	"context"
	"fmt"

	"alertresolver/internal/domain"
	"alertresolver/internal/templatefmt"
)

// offlineAlert raises when a connector delivered no telemetry over its stability window.
type offlineAlert struct {
	definition
}

func (a *offlineAlert) Evaluate(ctx context.Context) (*domain.AlertNotification, error) {
	window := a.connector.StabilityWindow()
	count, err := a.source.MessageCount(ctx, a.connector, window)
	if err != nil {
		return nil, fmt.Errorf("offline telemetry count: %w", err)
	}
	name := a.connector.DisplayName()
	if count > 0 {
		return a.newResolve(fmt.Sprintf("Connector %s is sending telemetry again.", name)), nil
	}

	n := a.newRaise(a.severity(domain.SeverityHigh),
		fmt.Sprintf("Connector %s has not sent telemetry for %s.", name, templatefmt.FormatDuration(window)),
		window, count)
	n.WithSupportMessage("Check the gateway connection and the connector credentials on site " + a.connector.SiteID + ".")
	return n, nil
}
