package alerts

import (
	"context"
	"fmt"
	"strconv"

	"alertresolver/internal/domain"
)

const defaultDegradedRatio = 0.5

// degradedAlert raises when a connector delivers fewer messages than its interval promises.
type degradedAlert struct {
	definition
}

// SkipAlerts suppresses Degraded while Offline is active unless configured otherwise.
func (a *degradedAlert) SkipAlerts() []string {
	if len(a.settings.SkipAlerts) > 0 {
		return a.settings.SkipAlerts
	}
	return []string{TypeOffline}
}

func (a *degradedAlert) Evaluate(ctx context.Context) (*domain.AlertNotification, error) {
	interval := a.connector.Interval()
	if interval <= 0 {
		return nil, nil
	}
	window := a.connector.StabilityWindow()
	count, err := a.source.MessageCount(ctx, a.connector, window)
	if err != nil {
		return nil, fmt.Errorf("degraded telemetry count: %w", err)
	}

	ratio := a.settings.ThresholdRatio
	if ratio <= 0 {
		ratio = defaultDegradedRatio
	}
	expected := window.Seconds() / interval.Seconds()
	name := a.connector.DisplayName()
	if count >= ratio*expected {
		return a.newResolve(fmt.Sprintf("Connector %s telemetry rate is back to normal.", name)), nil
	}

	n := a.newRaise(a.severity(domain.SeverityMedium),
		fmt.Sprintf("Connector %s sent %s of %s expected messages.", name,
			strconv.FormatFloat(count, 'f', -1, 64), strconv.FormatFloat(expected, 'f', 0, 64)),
		window, count)
	n.WithData("Messages expected", strconv.FormatFloat(expected, 'f', 0, 64)).
		WithSupportData("Threshold ratio", strconv.FormatFloat(ratio, 'f', -1, 64))
	return n, nil
}
