package channel

import (
	"context"
	"time"

	"alertresolver/internal/domain"
)

// Channel is one named outbound notification destination.
// Params: items handed to Notify/Resolve already passed the engine's dedup filters.
// Returns: per-item delivery outcomes; the error is set only when the call as a whole was cut short.
type Channel interface {
	Name() string
	IsEnabled() bool
	// FilterAlertsForChannel reports whether the registry filter applies before dispatch.
	FilterAlertsForChannel() bool
	// ActiveAlertTTL is the re-notification window for a still-active alert.
	ActiveAlertTTL() time.Duration
	Notify(ctx context.Context, items []*domain.AlertNotification) ([]domain.DeliveryResult, error)
	Resolve(ctx context.Context, items []*domain.AlertNotification) ([]domain.DeliveryResult, error)
}

// Action is the lifecycle step a message represents.
type Action string

const (
	ActionRaise   Action = "raise"
	ActionResolve Action = "resolve"
)

// Message is one rendered notification ready for transport.
type Message struct {
	Channel      string
	Action       Action
	Subject      string
	Text         string
	Notification *domain.AlertNotification
}

// Sender delivers one rendered message over a concrete transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// BatchSender is implemented by transports that deliver many messages in one call.
// Returns: one error slot per input message, nil for delivered ones.
type BatchSender interface {
	Sender
	SendBatch(ctx context.Context, msgs []Message) []error
}
