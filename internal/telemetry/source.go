package telemetry

import (
	"context"
	"time"

	"alertresolver/internal/domain"
)

// Source reports how much telemetry a connector delivered over a window.
type Source interface {
	MessageCount(ctx context.Context, connector domain.ConnectorConfig, window time.Duration) (float64, error)
}
