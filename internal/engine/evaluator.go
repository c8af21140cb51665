package engine

import (
	"context"
	"errors"
	"fmt"

	"alertresolver/internal/domain"
	"alertresolver/internal/metrics"
)

// ErrEvaluationPanic wraps a panic recovered from an alert definition.
var ErrEvaluationPanic = errors.New("alert definition panicked")

// Evaluator runs one definition and turns every failure into an error result.
type Evaluator struct{}

// Evaluate checks IsActive, then evaluates and stamps the notification with its origin.
// Params: context and definition.
// Returns: notification, nil when inactive or nothing to report, or the failure.
func (Evaluator) Evaluate(ctx context.Context, def domain.AlertDefinition) (n *domain.AlertNotification, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			metrics.RecoveredPanics.WithLabelValues("evaluator").Inc()
			n = nil
			err = fmt.Errorf("%w: %v", ErrEvaluationPanic, recovered)
		}
	}()

	active, err := def.IsActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("is active: %w", err)
	}
	if !active {
		return nil, nil
	}

	n, err = def.Evaluate(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if n == nil {
		return nil, nil
	}
	n.StampOrigin(def)
	return n, nil
}
