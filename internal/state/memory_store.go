package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps run history and active alerts in process memory.
// Params: guarded maps keyed by run key and channel key.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]time.Time
	active map[string]time.Time
}

// NewMemoryStore creates in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]time.Time),
		active: make(map[string]time.Time),
	}
}

// GetLastAlertRun returns the stored run timestamp.
func (s *MemoryStore) GetLastAlertRun(_ context.Context, alertType, siteID, connectorID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.runs[runKey(alertType, siteID, connectorID)]
	return at, ok, nil
}

// SaveAlertRun overwrites the run timestamp.
func (s *MemoryStore) SaveAlertRun(_ context.Context, alertType, siteID, connectorID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runKey(alertType, siteID, connectorID)] = at.UTC()
	return nil
}

// AlertLastOccurrence returns occurrences for requested keys.
func (s *MemoryStore) AlertLastOccurrence(_ context.Context, keys []string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(keys))
	for _, key := range keys {
		if at, ok := s.active[key]; ok {
			out[key] = at
		}
	}
	return out, nil
}

// IsAlertActive reports record presence for requested keys.
func (s *MemoryStore) IsAlertActive(ctx context.Context, keys []string) (map[string]bool, error) {
	occurrences, err := s.AlertLastOccurrence(ctx, keys)
	if err != nil {
		return nil, err
	}
	return activeFromOccurrences(keys, occurrences), nil
}

// LogAlert records occurrence time for every key.
func (s *MemoryStore) LogAlert(_ context.Context, keys []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range uniqueKeys(keys) {
		s.active[key] = at.UTC()
	}
	return nil
}

// DeleteAlert drops records for every key.
func (s *MemoryStore) DeleteAlert(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.active, key)
	}
	return nil
}

// Close releases memory store resources.
func (s *MemoryStore) Close() error {
	return nil
}
