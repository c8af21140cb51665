package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"alertresolver/internal/config"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alert_runs (
	run_key        TEXT PRIMARY KEY,
	last_run_ms    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS active_alerts (
	channel_key        TEXT PRIMARY KEY,
	last_occurrence_ms INTEGER NOT NULL
);`

// SQLiteStore persists state in a single local database file.
// Writes are serialized through one connection.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database file, enables WAL, and migrates tables.
// Params: SQLite settings.
// Returns: ready store or open/migration error.
func NewSQLiteStore(settings config.SQLiteStoreConfig) (*SQLiteStore, error) {
	path := strings.TrimSpace(settings.Path)
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// GetLastAlertRun reads one run record.
func (s *SQLiteStore) GetLastAlertRun(ctx context.Context, alertType, siteID, connectorID string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run_ms FROM alert_runs WHERE run_key = ?`,
		runKey(alertType, siteID, connectorID),
	).Scan(&ms)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("select run: %w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// SaveAlertRun upserts one run record.
func (s *SQLiteStore) SaveAlertRun(ctx context.Context, alertType, siteID, connectorID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_runs (run_key, last_run_ms) VALUES (?, ?)
		 ON CONFLICT(run_key) DO UPDATE SET last_run_ms = excluded.last_run_ms`,
		runKey(alertType, siteID, connectorID), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// AlertLastOccurrence selects every requested key with one IN (...) query.
func (s *SQLiteStore) AlertLastOccurrence(ctx context.Context, keys []string) (map[string]time.Time, error) {
	keys = uniqueKeys(keys)
	out := make(map[string]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_key, last_occurrence_ms FROM active_alerts WHERE channel_key IN (`+placeholders(len(keys))+`)`,
		keyArgs(keys)...,
	)
	if err != nil {
		return nil, fmt.Errorf("select active alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			ms  int64
		)
		if err := rows.Scan(&key, &ms); err != nil {
			return nil, fmt.Errorf("scan active alert: %w", err)
		}
		out[key] = time.UnixMilli(ms).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active alerts: %w", err)
	}
	return out, nil
}

// IsAlertActive reports record presence for requested keys.
func (s *SQLiteStore) IsAlertActive(ctx context.Context, keys []string) (map[string]bool, error) {
	occurrences, err := s.AlertLastOccurrence(ctx, keys)
	if err != nil {
		return nil, err
	}
	return activeFromOccurrences(keys, occurrences), nil
}

// LogAlert upserts all keys with one multi-row statement.
func (s *SQLiteStore) LogAlert(ctx context.Context, keys []string, at time.Time) error {
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return nil
	}

	rows := make([]string, len(keys))
	args := make([]any, 0, len(keys)*2)
	ms := at.UnixMilli()
	for i, key := range keys {
		rows[i] = "(?, ?)"
		args = append(args, key, ms)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_alerts (channel_key, last_occurrence_ms) VALUES `+strings.Join(rows, ", ")+`
		 ON CONFLICT(channel_key) DO UPDATE SET last_occurrence_ms = excluded.last_occurrence_ms`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("upsert active alerts: %w", err)
	}
	return nil
}

// DeleteAlert removes all keys with one statement.
func (s *SQLiteStore) DeleteAlert(ctx context.Context, keys []string) error {
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM active_alerts WHERE channel_key IN (`+placeholders(len(keys))+`)`,
		keyArgs(keys)...,
	)
	if err != nil {
		return fmt.Errorf("delete active alerts: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func keyArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	return args
}
