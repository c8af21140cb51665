package engine

import (
	"context"
	"testing"
	"time"

	"alertresolver/internal/clock"
	"alertresolver/internal/domain"
	"alertresolver/internal/logging"
)

func newTestDispatcher(store *countingStore, clk *clock.Fixed, names ...string) *Dispatcher {
	return NewDispatcher(allAlertsRegistry(names...), NewTracker(store, clk), logging.Nop())
}

func TestDispatchRaiseHonorsActiveTTL(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := newCountingStore()
	dispatcher := newTestDispatcher(store, clk, "ops")
	ch := newFakeChannel("ops", time.Hour)
	ctx := context.Background()
	offline := stamped(&stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C1")}, false)
	batch := []*domain.AlertNotification{offline}

	report := dispatcher.Dispatch(ctx, ch, batch)
	if report.Raised != 1 || report.Err != nil {
		t.Fatalf("expected first raise delivered, got %+v", report)
	}

	clk.Advance(30 * time.Minute)
	report = dispatcher.Dispatch(ctx, ch, batch)
	if report.Deduplicated != 1 || report.Raised != 0 {
		t.Fatalf("expected raise inside ttl deduplicated, got %+v", report)
	}
	if calls := len(ch.notifyCalls()); calls != 1 {
		t.Fatalf("expected one notify call, got %d", calls)
	}

	clk.Advance(31 * time.Minute)
	report = dispatcher.Dispatch(ctx, ch, batch)
	if report.Raised != 1 {
		t.Fatalf("expected re-notification after ttl, got %+v", report)
	}
	occurrences, _ := store.AlertLastOccurrence(ctx, []string{"Offline:S1:C1:ops"})
	if !occurrences["Offline:S1:C1:ops"].Equal(clk.Now()) {
		t.Fatalf("expected occurrence refreshed to %s, got %s", clk.Now(), occurrences["Offline:S1:C1:ops"])
	}
}

func TestDispatchRecordsOnlySuccessfulRaises(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := newCountingStore()
	dispatcher := newTestDispatcher(store, clk, "ops")
	ch := newFakeChannel("ops", time.Hour)
	ch.failKeys["Offline:S1:C2"] = true
	ctx := context.Background()

	batch := []*domain.AlertNotification{
		stamped(&stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C1")}, false),
		stamped(&stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C2")}, false),
	}

	report := dispatcher.Dispatch(ctx, ch, batch)
	if report.Raised != 1 || report.RaiseFailed != 1 {
		t.Fatalf("expected partial success, got %+v", report)
	}
	if !store.isActive("Offline:S1:C1:ops") || store.isActive("Offline:S1:C2:ops") {
		t.Fatalf("only delivered raise may be recorded")
	}

	delete(ch.failKeys, "Offline:S1:C2")
	clk.Advance(time.Minute)
	report = dispatcher.Dispatch(ctx, ch, batch)
	calls := ch.notifyCalls()
	if report.Raised != 1 || len(calls[1]) != 1 || calls[1][0] != "Offline:S1:C2" {
		t.Fatalf("expected only the failed raise retried, got %+v calls=%v", report, calls)
	}
}

func TestDispatchResolveDrainsOnlyActiveAlerts(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := newCountingStore()
	dispatcher := newTestDispatcher(store, clk, "ops")
	ch := newFakeChannel("ops", time.Hour)
	ctx := context.Background()
	_ = store.LogAlert(ctx, []string{"Offline:S1:C1:ops", "Offline:S1:C3:ops"}, clk.Now().Add(-time.Hour))
	ch.failKeys["Offline:S1:C3"] = true

	batch := []*domain.AlertNotification{
		stamped(&stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C1")}, true),
		stamped(&stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C2")}, true),
		stamped(&stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C3")}, true),
	}

	report := dispatcher.Dispatch(ctx, ch, batch)
	if report.Resolved != 1 || report.ResolveFailed != 1 || report.NotActive != 1 {
		t.Fatalf("unexpected resolve report %+v", report)
	}
	calls := ch.resolveCalls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("expected one resolve call with two active alerts, got %v", calls)
	}
	if store.isActive("Offline:S1:C1:ops") {
		t.Fatalf("resolved alert must be cleared")
	}
	if !store.isActive("Offline:S1:C3:ops") {
		t.Fatalf("failed resolve must stay active")
	}
	if len(ch.notifyCalls()) != 0 {
		t.Fatalf("resolve items must never be raised")
	}
}

func TestDispatchResolveRunsAfterRaisePanic(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := newCountingStore()
	dispatcher := newTestDispatcher(store, clk, "ops")
	ch := newFakeChannel("ops", time.Hour)
	ch.panicOnNotify = true
	ctx := context.Background()
	_ = store.LogAlert(ctx, []string{"Offline:S1:C2:ops"}, clk.Now().Add(-time.Hour))
	logCalls := store.logAlertCalls.Load()

	batch := []*domain.AlertNotification{
		stamped(&stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C1")}, false),
		stamped(&stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C2")}, true),
	}

	report := dispatcher.Dispatch(ctx, ch, batch)
	if report.Err == nil || report.RaiseFailed != 1 {
		t.Fatalf("expected raise failure reported, got %+v", report)
	}
	if store.logAlertCalls.Load() != logCalls || store.isActive("Offline:S1:C1:ops") {
		t.Fatalf("panicking channel must not write ledger")
	}
	if report.Resolved != 1 || store.isActive("Offline:S1:C2:ops") {
		t.Fatalf("expected resolve path to run, got %+v", report)
	}
}

func TestDispatchAppliesRegistryFilter(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := newCountingStore()
	dispatcher := newTestDispatcher(store, clk)
	dispatcher.registry.Register("ops", []string{"Offline"}, true)
	ch := newFakeChannel("ops", time.Hour)
	ch.filter = true

	batch := []*domain.AlertNotification{
		stamped(&stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C1")}, false),
		stamped(&stubDefinition{alertType: "Degraded", connector: stableConnector("S1", "C2")}, false),
	}

	report := dispatcher.Dispatch(context.Background(), ch, batch)
	calls := ch.notifyCalls()
	if report.Raised != 1 || len(calls) != 1 || calls[0][0] != "Offline:S1:C1" {
		t.Fatalf("expected only registered alert type delivered, got %+v %v", report, calls)
	}

	ch.filter = false
	clk.Advance(2 * time.Hour)
	report = dispatcher.Dispatch(context.Background(), ch, batch)
	if report.Raised != 2 {
		t.Fatalf("unfiltered channel must receive every alert, got %+v", report)
	}
}

func TestDispatchSuppressesSkippedRaise(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := newCountingStore()
	dispatcher := newTestDispatcher(store, clk, "ops")
	ch := newFakeChannel("ops", time.Hour)

	offlineDef := &stubDefinition{alertType: "Offline", connector: stableConnector("S1", "C1")}
	degradedDef := &stubDefinition{alertType: "Degraded", connector: stableConnector("S1", "C1"), skip: []string{"Offline"}}
	offline := stamped(offlineDef, false)
	batch := []*domain.AlertNotification{offline, stamped(degradedDef, false)}

	report := dispatcher.Dispatch(context.Background(), ch, batch)
	if report.Raised != 1 || report.Suppressed != 1 {
		t.Fatalf("expected degraded suppressed by offline, got %+v", report)
	}

	// Offline absent from the next batch still suppresses degraded through the ledger.
	clk.Advance(10 * time.Minute)
	report = dispatcher.Dispatch(context.Background(), ch, []*domain.AlertNotification{stamped(degradedDef, false)})
	if report.Suppressed != 1 || report.Raised != 0 {
		t.Fatalf("expected persisted offline to suppress degraded, got %+v", report)
	}
}
