package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alertresolver/internal/channel"
	"alertresolver/internal/domain"
	"alertresolver/internal/metrics"
)

// commitTimeout bounds ledger writes after delivery, which outlive tick cancellation.
const commitTimeout = 10 * time.Second

// DispatchReport summarizes one channel's share of a tick.
type DispatchReport struct {
	Channel       string
	Raised        int
	RaiseFailed   int
	Deduplicated  int
	Suppressed    int
	Resolved      int
	ResolveFailed int
	NotActive     int
	Err           error
}

// Dispatcher runs the raise and resolve paths of one channel.
type Dispatcher struct {
	registry *channel.Registry
	tracker  *Tracker
	skip     *SkipResolver
	logger   *slog.Logger
}

// NewDispatcher creates channel dispatcher.
func NewDispatcher(registry *channel.Registry, tracker *Tracker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		tracker:  tracker,
		skip:     NewSkipResolver(tracker, logger),
		logger:   logger,
	}
}

// Dispatch delivers the tick's notifications to one channel.
// Params: context, channel, and every notification produced this tick.
// Returns: per-channel report; raise failures never prevent the resolve path.
func (d *Dispatcher) Dispatch(ctx context.Context, ch channel.Channel, batch []*domain.AlertNotification) DispatchReport {
	report := DispatchReport{Channel: ch.Name()}

	items := batch
	if ch.FilterAlertsForChannel() {
		items = make([]*domain.AlertNotification, 0, len(batch))
		for _, item := range batch {
			if d.registry.IsEnabledForChannel(item.AlertType, ch.Name()) {
				items = append(items, item)
			}
		}
	}

	var raises, resolves []*domain.AlertNotification
	for _, item := range items {
		if item.AutoResolve {
			resolves = append(resolves, item)
		} else {
			raises = append(raises, item)
		}
	}

	var errs []error
	if err := d.raise(ctx, ch, raises, &report); err != nil {
		d.logger.Error("raise path failed", "channel", ch.Name(), "error", err)
		errs = append(errs, err)
	}
	if err := d.resolve(ctx, ch, resolves, &report); err != nil {
		d.logger.Error("resolve path failed", "channel", ch.Name(), "error", err)
		errs = append(errs, err)
	}
	report.Err = errors.Join(errs...)
	return report
}

func (d *Dispatcher) raise(ctx context.Context, ch channel.Channel, raises []*domain.AlertNotification, report *DispatchReport) error {
	if len(raises) == 0 {
		return nil
	}

	keys := domain.ChannelKeys(raises, ch.Name())
	occurrences, err := d.tracker.LastOccurrences(ctx, keys)
	if err != nil {
		return fmt.Errorf("read active alerts: %w", err)
	}

	candidates := make([]*domain.AlertNotification, 0, len(raises))
	for i, item := range raises {
		if d.tracker.ShouldRaise(occurrences, keys[i], ch.ActiveAlertTTL()) {
			candidates = append(candidates, item)
			continue
		}
		report.Deduplicated++
	}

	allowed, err := d.skip.Filter(ctx, ch, candidates, raises)
	if err != nil {
		return err
	}
	report.Suppressed = len(candidates) - len(allowed)
	if len(allowed) == 0 {
		return nil
	}

	results, sendErr := invoke(ch.Name(), func() ([]domain.DeliveryResult, error) {
		return ch.Notify(ctx, allowed)
	})
	delivered := d.successfulKeys(ch, channel.ActionRaise, allowed, results)
	report.Raised = len(delivered)
	report.RaiseFailed = len(allowed) - len(delivered)

	commitCtx, cancel := commitContext(ctx)
	defer cancel()
	var errs []error
	if sendErr != nil {
		errs = append(errs, fmt.Errorf("notify: %w", sendErr))
	}
	if err := d.tracker.RecordRaise(commitCtx, delivered); err != nil {
		errs = append(errs, fmt.Errorf("record raised alerts: %w", err))
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) resolve(ctx context.Context, ch channel.Channel, resolves []*domain.AlertNotification, report *DispatchReport) error {
	if len(resolves) == 0 {
		return nil
	}

	keys := domain.ChannelKeys(resolves, ch.Name())
	active, err := d.tracker.IsActive(ctx, keys)
	if err != nil {
		return fmt.Errorf("read active alerts: %w", err)
	}

	pending := make([]*domain.AlertNotification, 0, len(resolves))
	for i, item := range resolves {
		if active[keys[i]] {
			pending = append(pending, item)
			continue
		}
		report.NotActive++
	}
	if len(pending) == 0 {
		return nil
	}

	results, sendErr := invoke(ch.Name(), func() ([]domain.DeliveryResult, error) {
		return ch.Resolve(ctx, pending)
	})
	cleared := d.successfulKeys(ch, channel.ActionResolve, pending, results)
	report.Resolved = len(cleared)
	report.ResolveFailed = len(pending) - len(cleared)

	commitCtx, cancel := commitContext(ctx)
	defer cancel()
	var errs []error
	if sendErr != nil {
		errs = append(errs, fmt.Errorf("resolve: %w", sendErr))
	}
	if err := d.tracker.Clear(commitCtx, cleared); err != nil {
		errs = append(errs, fmt.Errorf("clear resolved alerts: %w", err))
	}
	return errors.Join(errs...)
}

// successfulKeys maps successful results back to channel keys of the sent items.
// Results naming keys outside the sent set are ignored.
func (d *Dispatcher) successfulKeys(ch channel.Channel, action channel.Action, sent []*domain.AlertNotification, results []domain.DeliveryResult) []string {
	expected := make(map[string]struct{}, len(sent))
	for _, item := range sent {
		expected[item.AlertKey] = struct{}{}
	}

	keys := make([]string, 0, len(results))
	for _, result := range results {
		if _, ok := expected[result.AlertKey]; !ok {
			continue
		}
		if !result.Success {
			d.logger.Error("channel delivery failed",
				"channel", ch.Name(),
				"action", string(action),
				"alert_key", result.AlertKey,
				"alert_id", result.AlertID,
				"error", result.Err,
			)
			continue
		}
		delete(expected, result.AlertKey)
		keys = append(keys, domain.ChannelKey(result.AlertKey, ch.Name()))
	}
	return keys
}

// invoke calls a channel and converts a panic into an error with no results.
func invoke(name string, call func() ([]domain.DeliveryResult, error)) (results []domain.DeliveryResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			metrics.RecoveredPanics.WithLabelValues("channel").Inc()
			results = nil
			err = fmt.Errorf("channel %s panicked: %v", name, recovered)
		}
	}()
	return call()
}

func commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}
