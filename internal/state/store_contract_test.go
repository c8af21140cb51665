package state

import (
	"context"
	"testing"
	"time"
)

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, found, err := store.GetLastAlertRun(ctx, "Offline", "S1", "C1"); err != nil || found {
		t.Fatalf("expected no run record, found=%v err=%v", found, err)
	}
	if err := store.SaveAlertRun(ctx, "Offline", "S1", "C1", base); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.SaveAlertRun(ctx, "Offline", "S1", "C1", base.Add(time.Minute)); err != nil {
		t.Fatalf("save run again: %v", err)
	}
	lastRun, found, err := store.GetLastAlertRun(ctx, " Offline", "S1 ", "C1")
	if err != nil || !found {
		t.Fatalf("expected run record, found=%v err=%v", found, err)
	}
	if !lastRun.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected last write to win, got %s", lastRun)
	}
	if _, found, _ := store.GetLastAlertRun(ctx, "Offline", "S1", "C2"); found {
		t.Fatalf("run records must be keyed by connector")
	}

	first := "Offline:S1:C1:pager"
	second := "Offline:S1:C2:pager"
	keys := []string{first, second}

	occurrences, err := store.AlertLastOccurrence(ctx, keys)
	if err != nil {
		t.Fatalf("initial occurrences: %v", err)
	}
	if len(occurrences) != 0 {
		t.Fatalf("expected empty ledger, got %v", occurrences)
	}

	if err := store.LogAlert(ctx, []string{first}, base); err != nil {
		t.Fatalf("log alert: %v", err)
	}
	occurrences, err = store.AlertLastOccurrence(ctx, keys)
	if err != nil {
		t.Fatalf("occurrences: %v", err)
	}
	if len(occurrences) != 1 || !occurrences[first].Equal(base) {
		t.Fatalf("unexpected occurrences %v", occurrences)
	}

	active, err := store.IsAlertActive(ctx, keys)
	if err != nil {
		t.Fatalf("is active: %v", err)
	}
	if !active[first] || active[second] || len(active) != 2 {
		t.Fatalf("unexpected active map %v", active)
	}

	if err := store.LogAlert(ctx, []string{first, second, first}, base.Add(time.Hour)); err != nil {
		t.Fatalf("log batch: %v", err)
	}
	occurrences, err = store.AlertLastOccurrence(ctx, keys)
	if err != nil {
		t.Fatalf("occurrences after batch: %v", err)
	}
	if len(occurrences) != 2 || !occurrences[first].Equal(base.Add(time.Hour)) || !occurrences[second].Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected occurrences after batch %v", occurrences)
	}

	if err := store.DeleteAlert(ctx, []string{first}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	active, err = store.IsAlertActive(ctx, keys)
	if err != nil {
		t.Fatalf("is active after delete: %v", err)
	}
	if active[first] || !active[second] {
		t.Fatalf("unexpected active map after delete %v", active)
	}

	if err := store.LogAlert(ctx, nil, base); err != nil {
		t.Fatalf("empty log: %v", err)
	}
	if err := store.DeleteAlert(ctx, nil); err != nil {
		t.Fatalf("empty delete: %v", err)
	}
	if empty, err := store.AlertLastOccurrence(ctx, nil); err != nil || len(empty) != 0 {
		t.Fatalf("empty lookup: %v %v", empty, err)
	}
}
