package trigger

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"alertresolver/internal/config"
)

// NATSSubscriber requests a tick for every message on the trigger subject.
// Params: NATS connection and queue subscription shared by service replicas.
// Returns: subscription lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber connects and subscribes to the trigger subject.
// Params: trigger config, tick sink, and logger.
// Returns: started subscriber or connection/subscription error.
func NewNATSSubscriber(cfg config.NATSTriggerConfig, sink Sink, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("alertresolver-trigger"))
	if err != nil {
		return nil, fmt.Errorf("connect nats trigger: %w", err)
	}

	subscriber := &NATSSubscriber{nc: nc, logger: logger}
	sub, err := nc.QueueSubscribe(cfg.Subject, cfg.QueueGroup, func(message *nats.Msg) {
		status := "accepted"
		if err := sink.TriggerTick(SourceNATS); err != nil {
			status = "busy"
			if !errors.Is(err, ErrBusy) {
				status = "unavailable"
				logger.Error("nats tick trigger failed", "subject", message.Subject, "error", err.Error())
			} else {
				logger.Debug("nats tick trigger ignored, tick running", "subject", message.Subject)
			}
		}
		subscriber.reply(message, status)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.QueueGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// reply answers request-style triggers; plain publishes carry no reply subject.
func (s *NATSSubscriber) reply(message *nats.Msg, status string) {
	if message.Reply == "" {
		return
	}
	if err := message.Respond([]byte(status)); err != nil {
		s.logger.Warn("nats trigger reply failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains the subscription and closes the connection.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
