package engine

import (
	"context"
	"testing"
	"time"
)

func TestTrackerShouldRaiseHonorsTTLBoundary(t *testing.T) {
	t.Parallel()

	clk := newClock()
	tracker := NewTracker(newCountingStore(), clk)
	ttl := time.Hour
	key := "Offline:S1:C1:ops"

	tests := []struct {
		name        string
		occurrences map[string]time.Time
		want        bool
	}{
		{name: "no record", occurrences: map[string]time.Time{}, want: true},
		{name: "inside ttl", occurrences: map[string]time.Time{key: clk.Now().Add(-30 * time.Minute)}, want: false},
		{name: "exactly ttl", occurrences: map[string]time.Time{key: clk.Now().Add(-ttl)}, want: false},
		{name: "past ttl", occurrences: map[string]time.Time{key: clk.Now().Add(-ttl - time.Second)}, want: true},
	}

	for _, tt := range tests {
		if got := tracker.ShouldRaise(tt.occurrences, key, ttl); got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
		_, recorded := tt.occurrences[key]
		if got := tracker.StillActive(tt.occurrences, key, ttl); got != (recorded && !tt.want) {
			t.Fatalf("%s: still active mismatch %v", tt.name, got)
		}
	}
}

func TestTrackerRecordAndClear(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := newCountingStore()
	tracker := NewTracker(store, clk)
	ctx := context.Background()

	if err := tracker.RecordRaise(ctx, nil); err != nil || store.logAlertCalls.Load() != 0 {
		t.Fatalf("empty record must not touch repository")
	}
	if err := tracker.RecordRaise(ctx, []string{"Offline:S1:C1:ops"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	occurrences, err := tracker.LastOccurrences(ctx, []string{"Offline:S1:C1:ops"})
	if err != nil || !occurrences["Offline:S1:C1:ops"].Equal(baseTime) {
		t.Fatalf("expected occurrence at clock time, got %v %v", occurrences, err)
	}

	active, _ := tracker.IsActive(ctx, []string{"Offline:S1:C1:ops", "Offline:S1:C2:ops"})
	if !active["Offline:S1:C1:ops"] || active["Offline:S1:C2:ops"] {
		t.Fatalf("unexpected active map %v", active)
	}

	if err := tracker.Clear(ctx, []string{"Offline:S1:C1:ops"}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if store.isActive("Offline:S1:C1:ops") {
		t.Fatalf("expected key cleared")
	}
}
