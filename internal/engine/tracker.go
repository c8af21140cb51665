package engine

import (
	"context"
	"time"

	"alertresolver/internal/clock"
	"alertresolver/internal/state"
)

// Tracker is the TTL view over the active-alert ledger.
// Every batch method is one repository call.
type Tracker struct {
	repo  state.ActiveAlertRepository
	clock clock.Clock
}

// NewTracker creates tracker over repository.
func NewTracker(repo state.ActiveAlertRepository, clk clock.Clock) *Tracker {
	return &Tracker{repo: repo, clock: clk}
}

// LastOccurrences reads last raise times of channel keys.
func (t *Tracker) LastOccurrences(ctx context.Context, keys []string) (map[string]time.Time, error) {
	return t.repo.AlertLastOccurrence(ctx, keys)
}

// ShouldRaise is true when the key has no occurrence or its TTL has elapsed.
func (t *Tracker) ShouldRaise(occurrences map[string]time.Time, key string, ttl time.Duration) bool {
	last, ok := occurrences[key]
	if !ok {
		return true
	}
	return t.clock.Now().Sub(last) > ttl
}

// StillActive is the complement of ShouldRaise for recorded keys.
func (t *Tracker) StillActive(occurrences map[string]time.Time, key string, ttl time.Duration) bool {
	last, ok := occurrences[key]
	return ok && t.clock.Now().Sub(last) <= ttl
}

// RecordRaise marks keys as raised now.
func (t *Tracker) RecordRaise(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return t.repo.LogAlert(ctx, keys, t.clock.Now())
}

// IsActive reports which keys have a ledger record.
func (t *Tracker) IsActive(ctx context.Context, keys []string) (map[string]bool, error) {
	return t.repo.IsAlertActive(ctx, keys)
}

// Clear removes keys from the ledger.
func (t *Tracker) Clear(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return t.repo.DeleteAlert(ctx, keys)
}
