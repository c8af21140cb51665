package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/nats-io/nats.go"

	"alertresolver/internal/config"
	"alertresolver/internal/permanent"
	"alertresolver/internal/templatefmt"
)

// NATSSender publishes notification events into a JetStream stream.
// Params: NATS connection, JetStream context, and subject template.
// Returns: sender whose publishes are acknowledged by the stream.
type NATSSender struct {
	name    string
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject *template.Template
}

// NewNATSSender connects to NATS and binds (or creates) the event stream.
// Params: channel name and NATS channel config.
// Returns: initialized sender or setup error.
func NewNATSSender(name string, cfg config.NATSChannel) (*NATSSender, error) {
	subject, err := templatefmt.Parse("channel."+name+".nats.subject", cfg.Subject)
	if err != nil {
		return nil, err
	}
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("alertresolver-channel-"+name))
	if err != nil {
		return nil, fmt.Errorf("connect nats channel: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for channel: %w", err)
	}
	if err := ensureStream(js, cfg); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSSender{name: name, nc: nc, js: js, subject: subject}, nil
}

// Send publishes one event; the Nats-Msg-Id header lets the stream drop retried duplicates.
func (s *NATSSender) Send(ctx context.Context, msg Message) error {
	subject, err := templatefmt.Render(s.subject, msg)
	if err != nil {
		return permanent.Mark(fmt.Errorf("nats %s render subject: %w", s.name, err))
	}
	body, err := encodeEvent(msg)
	if err != nil {
		return permanent.Mark(fmt.Errorf("nats %s encode payload: %w", s.name, err))
	}

	out := nats.NewMsg(strings.TrimSpace(subject))
	out.Data = body
	out.Header.Set("Nats-Msg-Id", msg.Notification.ID+":"+string(msg.Action))
	out.Header.Set("Alert-Key", msg.Notification.AlertKey)
	if _, err := s.js.PublishMsg(out, nats.Context(ctx)); err != nil {
		if errors.Is(err, nats.ErrBadSubject) {
			return permanent.Mark(fmt.Errorf("nats %s publish: %w", s.name, err))
		}
		return fmt.Errorf("nats %s publish: %w", s.name, err)
	}
	return nil
}

// Close closes the NATS connection.
func (s *NATSSender) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	s.nc.Close()
	return nil
}

// ensureStream looks the stream up and creates it when allowed.
func ensureStream(js nats.JetStreamContext, cfg config.NATSChannel) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", cfg.Stream, err)
	}
	if !cfg.CreateStream {
		return fmt.Errorf("stream %q not found and create_stream is disabled", cfg.Stream)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string(cfg.StreamSubjects),
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     time.Duration(cfg.MaxAgeSec) * time.Second,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", cfg.Stream, err)
	}
	return nil
}
