package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alertresolver/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS alert_runs (
	run_key     TEXT PRIMARY KEY,
	last_run_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS active_alerts (
	channel_key     TEXT PRIMARY KEY,
	last_occurrence TIMESTAMPTZ NOT NULL
);`

// PostgresStore persists run history and active alerts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings, and migrates the state tables.
// Params: context for setup and PostgreSQL settings.
// Returns: ready store or connection/migration error.
func NewPostgresStore(ctx context.Context, settings config.PostgresStoreConfig) (*PostgresStore, error) {
	setupCtx, cancel := context.WithTimeout(ctx, time.Duration(settings.ConnectTimeoutSec)*time.Second)
	defer cancel()

	pool, err := pgxpool.New(setupCtx, settings.DSN)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(setupCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(setupCtx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// GetLastAlertRun reads one run record.
func (s *PostgresStore) GetLastAlertRun(ctx context.Context, alertType, siteID, connectorID string) (time.Time, bool, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_run_at FROM alert_runs WHERE run_key = $1`,
		runKey(alertType, siteID, connectorID),
	).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("select run: %w", err)
	}
	return at.UTC(), true, nil
}

// SaveAlertRun upserts one run record.
func (s *PostgresStore) SaveAlertRun(ctx context.Context, alertType, siteID, connectorID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_runs (run_key, last_run_at) VALUES ($1, $2)
		 ON CONFLICT (run_key) DO UPDATE SET last_run_at = EXCLUDED.last_run_at`,
		runKey(alertType, siteID, connectorID), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// AlertLastOccurrence selects every requested key with one ANY($1) query.
func (s *PostgresStore) AlertLastOccurrence(ctx context.Context, keys []string) (map[string]time.Time, error) {
	keys = uniqueKeys(keys)
	out := make(map[string]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT channel_key, last_occurrence FROM active_alerts WHERE channel_key = ANY($1)`,
		keys,
	)
	if err != nil {
		return nil, fmt.Errorf("select active alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			at  time.Time
		)
		if err := rows.Scan(&key, &at); err != nil {
			return nil, fmt.Errorf("scan active alert: %w", err)
		}
		out[key] = at.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active alerts: %w", err)
	}
	return out, nil
}

// IsAlertActive reports record presence for requested keys.
func (s *PostgresStore) IsAlertActive(ctx context.Context, keys []string) (map[string]bool, error) {
	occurrences, err := s.AlertLastOccurrence(ctx, keys)
	if err != nil {
		return nil, err
	}
	return activeFromOccurrences(keys, occurrences), nil
}

// LogAlert upserts all keys with a single unnest statement.
func (s *PostgresStore) LogAlert(ctx context.Context, keys []string, at time.Time) error {
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO active_alerts (channel_key, last_occurrence)
		 SELECT key, $2 FROM unnest($1::text[]) AS key
		 ON CONFLICT (channel_key) DO UPDATE SET last_occurrence = EXCLUDED.last_occurrence`,
		keys, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert active alerts: %w", err)
	}
	return nil
}

// DeleteAlert removes all keys with one statement.
func (s *PostgresStore) DeleteAlert(ctx context.Context, keys []string) error {
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM active_alerts WHERE channel_key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("delete active alerts: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
