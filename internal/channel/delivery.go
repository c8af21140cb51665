package channel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"alertresolver/internal/clock"
	"alertresolver/internal/config"
	"alertresolver/internal/domain"
	"alertresolver/internal/logging"
	"alertresolver/internal/metrics"
	"alertresolver/internal/permanent"
)

// Delivery adapts a transport Sender to the Channel contract.
// Params: channel settings, compiled templates, retry policy, and optional breaker.
// Returns: channel that renders, sends, and reports per-item outcomes.
type Delivery struct {
	name         string
	enabled      bool
	filterAlerts bool
	ttl          time.Duration
	sender       Sender
	templates    messageTemplates
	retry        retrier
	breaker      *breaker
	logger       *slog.Logger
}

// DeliveryOptions configures NewDelivery.
type DeliveryOptions struct {
	Name   string
	Config config.ChannelConfig
	Logger *slog.Logger
	Clock  clock.Clock
}

// NewDelivery builds a channel around a sender.
// Params: channel options and transport sender.
// Returns: ready channel or template error.
func NewDelivery(opts DeliveryOptions, sender Sender) (*Delivery, error) {
	name := config.NormalizeChannelName(opts.Name)
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	templates, err := compileTemplates(name, opts.Config.Type, opts.Config.Template)
	if err != nil {
		return nil, err
	}

	d := &Delivery{
		name:         name,
		enabled:      opts.Config.Enabled,
		filterAlerts: opts.Config.FilterAlerts,
		ttl:          opts.Config.ActiveAlertTTL(),
		sender:       sender,
		templates:    templates,
		retry:        retrier{channel: name, policy: opts.Config.Retry, logger: logger},
		logger:       logger,
	}
	if opts.Config.CircuitBreaker.Enabled {
		d.breaker = newBreaker(name, opts.Config.CircuitBreaker, clk)
	}
	return d, nil
}

// Name returns the normalized channel name.
func (d *Delivery) Name() string { return d.name }

// IsEnabled reports the configured enabled flag.
func (d *Delivery) IsEnabled() bool { return d.enabled }

// FilterAlertsForChannel reports whether the registry filter applies.
func (d *Delivery) FilterAlertsForChannel() bool { return d.filterAlerts }

// ActiveAlertTTL returns the re-notification window.
func (d *Delivery) ActiveAlertTTL() time.Duration { return d.ttl }

// Notify sends raise messages.
func (d *Delivery) Notify(ctx context.Context, items []*domain.AlertNotification) ([]domain.DeliveryResult, error) {
	return d.deliver(ctx, ActionRaise, items)
}

// Resolve sends resolve messages.
func (d *Delivery) Resolve(ctx context.Context, items []*domain.AlertNotification) ([]domain.DeliveryResult, error) {
	return d.deliver(ctx, ActionResolve, items)
}

// deliver renders items, sends them, and maps outcomes back to items.
// Params: context, action, and notifications.
// Returns: one result per item and the context error when the call was cut short.
func (d *Delivery) deliver(ctx context.Context, action Action, items []*domain.AlertNotification) ([]domain.DeliveryResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]domain.DeliveryResult, len(items))
	msgs := make([]Message, 0, len(items))
	owners := make([]int, 0, len(items))
	for i, item := range items {
		msg, err := d.templates.render(d.name, action, item)
		if err != nil {
			results[i] = domain.Failed(item, permanent.Mark(err))
			continue
		}
		msgs = append(msgs, msg)
		owners = append(owners, i)
	}

	var errs []error
	if batch, ok := d.sender.(BatchSender); ok {
		errs = d.sendBatch(ctx, batch, msgs)
	} else {
		errs = d.sendEach(ctx, msgs)
	}

	for j, idx := range owners {
		if errs[j] != nil {
			results[idx] = domain.Failed(items[idx], errs[j])
			continue
		}
		results[idx] = domain.Succeeded(items[idx])
	}
	for _, result := range results {
		status := "ok"
		if !result.Success {
			status = "failed"
		}
		metrics.ChannelDeliveries.WithLabelValues(d.name, string(action), status).Inc()
	}
	return results, ctx.Err()
}

// sendEach sends messages one by one through retry and breaker.
func (d *Delivery) sendEach(ctx context.Context, msgs []Message) []error {
	errs := make([]error, len(msgs))
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(msgs); j++ {
				errs[j] = err
			}
			break
		}
		if d.breaker != nil && !d.breaker.allow() {
			errs[i] = ErrCircuitOpen
			continue
		}
		err := d.retry.do(ctx, func(ctx context.Context) error {
			return d.sender.Send(ctx, msg)
		})
		d.observe(err)
		errs[i] = err
	}
	return errs
}

// sendBatch sends all messages in one transport call and retries only the transient failures.
func (d *Delivery) sendBatch(ctx context.Context, batch BatchSender, msgs []Message) []error {
	errs := make([]error, len(msgs))
	if len(msgs) == 0 {
		return errs
	}
	if d.breaker != nil && !d.breaker.allow() {
		for i := range errs {
			errs[i] = ErrCircuitOpen
		}
		return errs
	}

	pending := make([]int, len(msgs))
	for i := range pending {
		pending[i] = i
	}
	retryErr := d.retry.do(ctx, func(ctx context.Context) error {
		subset := make([]Message, len(pending))
		for j, idx := range pending {
			subset[j] = msgs[idx]
		}
		batchErrs := batch.SendBatch(ctx, subset)

		var (
			next []int
			last error
		)
		for j, idx := range pending {
			errs[idx] = batchErrs[j]
			if batchErrs[j] != nil && !permanent.Is(batchErrs[j]) {
				next = append(next, idx)
				last = batchErrs[j]
			}
		}
		pending = next
		return last
	})
	d.observe(retryErr)
	return errs
}

// observe feeds a send outcome to the breaker; rejected payloads do not count against the channel.
func (d *Delivery) observe(err error) {
	if d.breaker == nil {
		return
	}
	switch {
	case err == nil:
		d.breaker.recordSuccess()
	case permanent.Is(err), errors.Is(err, context.Canceled):
	default:
		d.breaker.recordFailure()
	}
}
