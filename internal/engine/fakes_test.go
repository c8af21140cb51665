package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"alertresolver/internal/channel"
	"alertresolver/internal/clock"
	"alertresolver/internal/domain"
	"alertresolver/internal/state"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newClock() *clock.Fixed {
	return &clock.Fixed{At: baseTime}
}

func stableConnector(siteID, connectorID string) domain.ConnectorConfig {
	return domain.ConnectorConfig{
		SiteID:          siteID,
		ConnectorID:     connectorID,
		ConnectorName:   "Connector " + connectorID,
		ConnectionType:  "Modbus",
		LastUpdatedAt:   baseTime.Add(-24 * time.Hour),
		IntervalSeconds: 60,
	}
}

// stubDefinition is a scriptable alert definition.
type stubDefinition struct {
	alertType string
	connector domain.ConnectorConfig
	frequency int
	skip      []string
	inactive  bool
	activeErr error
	evaluate  func(def *stubDefinition) (*domain.AlertNotification, error)
	calls     int
}

func (d *stubDefinition) Type() string                      { return d.alertType }
func (d *stubDefinition) Connector() domain.ConnectorConfig { return d.connector }
func (d *stubDefinition) FrequencyMinutes() int             { return d.frequency }
func (d *stubDefinition) ConnectionTypes() []string         { return nil }
func (d *stubDefinition) SkipAlerts() []string              { return d.skip }

func (d *stubDefinition) IsActive(context.Context) (bool, error) {
	if d.activeErr != nil {
		return false, d.activeErr
	}
	return !d.inactive, nil
}

func (d *stubDefinition) Evaluate(context.Context) (*domain.AlertNotification, error) {
	d.calls++
	if d.evaluate == nil {
		return nil, nil
	}
	return d.evaluate(d)
}

func raising(def *stubDefinition) (*domain.AlertNotification, error) {
	return domain.NewNotification(def.alertType, def.connector, domain.SeverityHigh, def.alertType+" detected", baseTime), nil
}

func resolving(def *stubDefinition) (*domain.AlertNotification, error) {
	return domain.NewNotification(def.alertType, def.connector, domain.SeverityHigh, def.alertType+" cleared", baseTime).Resolving(), nil
}

// stamped builds a notification already carrying its origin definition.
func stamped(def *stubDefinition, resolve bool) *domain.AlertNotification {
	n, _ := raising(def)
	if resolve {
		n.Resolving()
	}
	n.StampOrigin(def)
	return n
}

// fakeChannel records every Notify/Resolve call.
type fakeChannel struct {
	name          string
	disabled      bool
	filter        bool
	ttl           time.Duration
	failKeys      map[string]bool
	panicOnNotify bool

	mu       sync.Mutex
	notified [][]string
	resolved [][]string
}

func newFakeChannel(name string, ttl time.Duration) *fakeChannel {
	return &fakeChannel{name: name, ttl: ttl, failKeys: map[string]bool{}}
}

func (c *fakeChannel) Name() string                  { return c.name }
func (c *fakeChannel) IsEnabled() bool               { return !c.disabled }
func (c *fakeChannel) FilterAlertsForChannel() bool  { return c.filter }
func (c *fakeChannel) ActiveAlertTTL() time.Duration { return c.ttl }

func (c *fakeChannel) Notify(_ context.Context, items []*domain.AlertNotification) ([]domain.DeliveryResult, error) {
	c.mu.Lock()
	c.notified = append(c.notified, alertKeys(items))
	c.mu.Unlock()
	if c.panicOnNotify {
		panic("transport exploded")
	}
	return c.results(items), nil
}

func (c *fakeChannel) Resolve(_ context.Context, items []*domain.AlertNotification) ([]domain.DeliveryResult, error) {
	c.mu.Lock()
	c.resolved = append(c.resolved, alertKeys(items))
	c.mu.Unlock()
	return c.results(items), nil
}

func (c *fakeChannel) results(items []*domain.AlertNotification) []domain.DeliveryResult {
	out := make([]domain.DeliveryResult, 0, len(items))
	for _, item := range items {
		if c.failKeys[item.AlertKey] {
			out = append(out, domain.Failed(item, errors.New("delivery refused")))
			continue
		}
		out = append(out, domain.Succeeded(item))
	}
	return out
}

func (c *fakeChannel) notifyCalls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.notified...)
}

func (c *fakeChannel) resolveCalls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.resolved...)
}

func alertKeys(items []*domain.AlertNotification) []string {
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.AlertKey)
	}
	return keys
}

// countingStore wraps the in-memory store and counts repository round trips.
type countingStore struct {
	*state.MemoryStore

	lastOccurrenceCalls atomic.Int32
	logAlertCalls       atomic.Int32
	deleteCalls         atomic.Int32
	runErr              error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: state.NewMemoryStore()}
}

func (s *countingStore) GetLastAlertRun(ctx context.Context, alertType, siteID, connectorID string) (time.Time, bool, error) {
	if s.runErr != nil {
		return time.Time{}, false, s.runErr
	}
	return s.MemoryStore.GetLastAlertRun(ctx, alertType, siteID, connectorID)
}

func (s *countingStore) AlertLastOccurrence(ctx context.Context, keys []string) (map[string]time.Time, error) {
	s.lastOccurrenceCalls.Add(1)
	return s.MemoryStore.AlertLastOccurrence(ctx, keys)
}

func (s *countingStore) LogAlert(ctx context.Context, keys []string, at time.Time) error {
	s.logAlertCalls.Add(1)
	return s.MemoryStore.LogAlert(ctx, keys, at)
}

func (s *countingStore) DeleteAlert(ctx context.Context, keys []string) error {
	s.deleteCalls.Add(1)
	return s.MemoryStore.DeleteAlert(ctx, keys)
}

// isActive reads one ledger key.
func (s *countingStore) isActive(key string) bool {
	active, _ := s.MemoryStore.IsAlertActive(context.Background(), []string{key})
	return active[key]
}

type staticCatalog []domain.AlertDefinition

func (c staticCatalog) CreateAlerts([]domain.ConnectorConfig) []domain.AlertDefinition {
	return c
}

func allAlertsRegistry(names ...string) *channel.Registry {
	registry := channel.NewRegistry([]string{"Offline", "Degraded"})
	for _, name := range names {
		registry.ForAllAlerts(name, true)
	}
	return registry
}
