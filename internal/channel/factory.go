package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"alertresolver/internal/clock"
	"alertresolver/internal/config"
	"alertresolver/internal/permanent"
)

var errChannelDisabled = permanent.Mark(errors.New("channel is disabled"))

// disabledSender stands in for transports of disabled channels, which may lack credentials.
type disabledSender struct{}

func (disabledSender) Send(context.Context, Message) error { return errChannelDisabled }

// Set is the channel list built from config plus the transports that need closing.
type Set struct {
	channels []Channel
	closers  []io.Closer
}

// Build creates one channel per configured section in name order.
// Params: config snapshot, logger, and clock.
// Returns: channel set or first construction error.
func Build(cfg config.Config, logger *slog.Logger, clk clock.Clock) (*Set, error) {
	set := &Set{}
	for _, name := range cfg.ChannelNames() {
		channelCfg := cfg.Channel[name]
		sender, err := newSender(name, channelCfg)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		if closer, ok := sender.(io.Closer); ok {
			set.closers = append(set.closers, closer)
		}
		delivery, err := NewDelivery(DeliveryOptions{
			Name:   name,
			Config: channelCfg,
			Logger: logger.With("channel", name),
			Clock:  clk,
		}, sender)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		set.channels = append(set.channels, delivery)
	}
	return set, nil
}

// newSender builds the transport for one channel section.
func newSender(name string, cfg config.ChannelConfig) (Sender, error) {
	if !cfg.Enabled {
		return disabledSender{}, nil
	}
	switch cfg.Type {
	case config.ChannelTypeTelegram:
		return NewTelegramSender(cfg.Telegram)
	case config.ChannelTypeSlack:
		return NewSlackSender(cfg.Slack)
	case config.ChannelTypeWebhook:
		return NewWebhookSender(name, cfg.Webhook)
	case config.ChannelTypeKafka:
		return NewKafkaSender(cfg.Kafka)
	case config.ChannelTypeNATS:
		return NewNATSSender(name, cfg.NATS)
	default:
		return nil, fmt.Errorf("unsupported channel type %q", cfg.Type)
	}
}

// NewSet wraps prebuilt channels.
func NewSet(channels ...Channel) *Set {
	return &Set{channels: channels}
}

// CreateChannels returns the configured channels.
func (s *Set) CreateChannels() []Channel {
	return s.channels
}

// Close releases transports that hold connections.
func (s *Set) Close() error {
	var errs []error
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
