package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"alertresolver/internal/channel"
	"alertresolver/internal/clock"
	"alertresolver/internal/domain"
	"alertresolver/internal/metrics"
	"alertresolver/internal/state"
)

// AlertCatalog expands connectors into alert definitions.
type AlertCatalog interface {
	CreateAlerts(connectors []domain.ConnectorConfig) []domain.AlertDefinition
}

// ChannelFactory yields the configured channel instances.
type ChannelFactory interface {
	CreateChannels() []channel.Channel
}

// Report summarizes one ProcessAlerts run.
type Report struct {
	Definitions int
	Throttled   int
	Evaluated   int
	Failed      int
	Raises      int
	Resolves    int
	Channels    []DispatchReport
}

// Options wires a Processor.
type Options struct {
	Catalog  AlertCatalog
	Channels ChannelFactory
	Registry *channel.Registry
	Runs     state.RunHistoryRepository
	Active   state.ActiveAlertRepository
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Processor runs one tick: throttle, evaluate, then fan out to channels.
type Processor struct {
	catalog    AlertCatalog
	channels   ChannelFactory
	registry   *channel.Registry
	throttle   *Throttle
	evaluator  Evaluator
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewProcessor creates tick processor.
// Params: catalog, channel factory, registry, repositories, clock, and logger.
// Returns: configured processor or validation error.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Catalog == nil {
		return nil, errors.New("alert catalog is required")
	}
	if opts.Channels == nil {
		return nil, errors.New("channel factory is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("channel registry is required")
	}
	if opts.Runs == nil || opts.Active == nil {
		return nil, errors.New("state repositories are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	tracker := NewTracker(opts.Active, opts.Clock)
	return &Processor{
		catalog:    opts.Catalog,
		channels:   opts.Channels,
		registry:   opts.Registry,
		throttle:   NewThrottle(opts.Runs, opts.Clock, opts.Logger),
		dispatcher: NewDispatcher(opts.Registry, tracker, opts.Logger),
		logger:     opts.Logger,
	}, nil
}

// ProcessAlerts evaluates every alert of the connectors and dispatches the results.
// Params: tick context and connector inventory.
// Returns: tick report; error only when the tick was cut short.
func (p *Processor) ProcessAlerts(ctx context.Context, connectors []domain.ConnectorConfig) (Report, error) {
	startedAt := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(startedAt).Seconds())
	}()

	definitions := p.catalog.CreateAlerts(connectors)
	report := Report{Definitions: len(definitions)}
	notifications := make([]*domain.AlertNotification, 0, len(definitions))

	for _, def := range definitions {
		if err := ctx.Err(); err != nil {
			p.logger.Error("alert processing canceled", "processed", report.Throttled+report.Evaluated, "total", len(definitions), "error", err)
			return report, err
		}

		accepted, err := p.throttle.ShouldEvaluate(ctx, def)
		if err != nil {
			p.logger.Error("run history unavailable, aborting tick", "alert_key", domain.DefinitionKey(def), "error", err)
			return report, err
		}
		if !accepted {
			report.Throttled++
			metrics.EvaluationsTotal.WithLabelValues(def.Type(), "throttled").Inc()
			continue
		}

		report.Evaluated++
		notification, err := p.evaluator.Evaluate(ctx, def)
		if err != nil {
			report.Failed++
			p.recordFailure(def, err)
			continue
		}
		if notification == nil {
			metrics.EvaluationsTotal.WithLabelValues(def.Type(), "quiet").Inc()
			continue
		}
		if notification.AutoResolve {
			report.Resolves++
			metrics.EvaluationsTotal.WithLabelValues(def.Type(), "resolve").Inc()
		} else {
			report.Raises++
			metrics.EvaluationsTotal.WithLabelValues(def.Type(), "raise").Inc()
		}
		notifications = append(notifications, notification)
	}

	if len(notifications) == 0 {
		return report, nil
	}
	report.Channels = p.dispatch(ctx, notifications)
	return report, nil
}

func (p *Processor) recordFailure(def domain.AlertDefinition, err error) {
	reason := "error"
	if errors.Is(err, ErrEvaluationPanic) {
		reason = "panic"
	}
	metrics.EvaluationsTotal.WithLabelValues(def.Type(), "failed").Inc()
	metrics.EvaluationFailures.WithLabelValues(def.Type(), reason).Inc()

	connector := def.Connector()
	p.logger.Error("alert evaluation failed",
		"alert_type", def.Type(),
		"site_id", connector.SiteID,
		"connector_id", connector.ConnectorID,
		"error", err,
	)
}

// dispatch fans notifications out to enabled channels; each channel runs raise then resolve.
func (p *Processor) dispatch(ctx context.Context, notifications []*domain.AlertNotification) []DispatchReport {
	var targets []channel.Channel
	for _, ch := range p.channels.CreateChannels() {
		if ch.IsEnabled() && p.registry.IsChannelEnabled(ch.Name()) {
			targets = append(targets, ch)
		}
	}

	reports := make([]DispatchReport, len(targets))
	var group errgroup.Group
	for i, ch := range targets {
		group.Go(func() error {
			reports[i] = p.dispatcher.Dispatch(ctx, ch, notifications)
			if reports[i].Err != nil {
				return fmt.Errorf("channel %s: %w", reports[i].Channel, reports[i].Err)
			}
			return nil
		})
	}
	// Group has no shared context: a failing channel never cancels the others.
	if err := group.Wait(); err != nil {
		p.logger.Warn("channel dispatch incomplete", "first_error", err)
	}

	for _, r := range reports {
		p.logger.Info("channel dispatched",
			"channel", r.Channel,
			"raised", r.Raised,
			"raise_failed", r.RaiseFailed,
			"deduplicated", r.Deduplicated,
			"suppressed", r.Suppressed,
			"resolved", r.Resolved,
			"resolve_failed", r.ResolveFailed,
		)
	}
	return reports
}

// Err joins channel failures of the report.
func (r Report) Err() error {
	var errs []error
	for _, ch := range r.Channels {
		if ch.Err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.Channel, ch.Err))
		}
	}
	return errors.Join(errs...)
}
