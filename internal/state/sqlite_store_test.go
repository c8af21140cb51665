package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"alertresolver/internal/config"
)

func TestSQLiteStoreContract(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(config.SQLiteStoreConfig{Path: filepath.Join(t.TempDir(), "state", "alerts.db")})
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerts.db")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	first, err := NewSQLiteStore(config.SQLiteStoreConfig{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.LogAlert(ctx, []string{"Offline:S1:C1:pager"}, at); err != nil {
		t.Fatalf("log alert: %v", err)
	}
	if err := first.SaveAlertRun(ctx, "Offline", "S1", "C1", at); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := NewSQLiteStore(config.SQLiteStoreConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	occurrences, err := second.AlertLastOccurrence(ctx, []string{"Offline:S1:C1:pager"})
	if err != nil {
		t.Fatalf("occurrence: %v", err)
	}
	if got := occurrences["Offline:S1:C1:pager"]; !got.Equal(at) {
		t.Fatalf("expected %s, got %s", at, got)
	}
	if _, found, err := second.GetLastAlertRun(ctx, "Offline", "S1", "C1"); err != nil || !found {
		t.Fatalf("expected persisted run, found=%v err=%v", found, err)
	}
}

func TestSQLiteStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := NewSQLiteStore(config.SQLiteStoreConfig{Path: " "}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	if got := placeholders(3); got != "?, ?, ?" {
		t.Fatalf("unexpected placeholders %q", got)
	}
}
