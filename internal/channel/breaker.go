package channel

import (
	"errors"
	"sync"
	"time"

	"alertresolver/internal/clock"
	"alertresolver/internal/config"
	"alertresolver/internal/metrics"
)

// ErrCircuitOpen is reported for items not attempted because the channel breaker is open.
var ErrCircuitOpen = errors.New("channel circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker fails fast after repeated transport failures on one channel.
// Params: failure threshold and open interval.
// Returns: closed/open/half-open state machine.
type breaker struct {
	mu        sync.Mutex
	channel   string
	state     breakerState
	failures  int
	openedAt  time.Time
	threshold int
	openFor   time.Duration
	clock     clock.Clock
}

func newBreaker(channel string, cfg config.BreakerConfig, clk clock.Clock) *breaker {
	b := &breaker{
		channel:   channel,
		threshold: max(cfg.FailureThreshold, 1),
		openFor:   time.Duration(cfg.OpenSec) * time.Second,
		clock:     clk,
	}
	b.publish()
	return b
}

// allow reports whether a send may be attempted; an expired open state moves to half-open.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed, breakerHalfOpen:
		return true
	case breakerOpen:
		if b.clock.Now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.state = breakerHalfOpen
		b.publish()
		return true
	default:
		return false
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch {
	case b.state == breakerHalfOpen:
		b.trip()
	case b.state == breakerClosed && b.failures >= b.threshold:
		b.trip()
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != breakerClosed {
		b.state = breakerClosed
		b.publish()
	}
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// trip opens the breaker; callers hold mu.
func (b *breaker) trip() {
	b.state = breakerOpen
	b.openedAt = b.clock.Now()
	b.publish()
}

func (b *breaker) publish() {
	metrics.ChannelBreakerState.WithLabelValues(b.channel).Set(float64(b.state))
}
