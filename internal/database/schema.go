package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate brings the schema up. Every statement is idempotent, so
// running it on every boot is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			max_devices INT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			device_hash TEXT NOT NULL UNIQUE,
			first_seen_at TIMESTAMPTZ NOT NULL,
			trial_started_at TIMESTAMPTZ,
			trial_ended_at TIMESTAMPTZ,
			trial_consumed BOOLEAN NOT NULL DEFAULT FALSE,
			last_seen_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS device_links (
			user_id TEXT NOT NULL REFERENCES users (id),
			device_id TEXT NOT NULL REFERENCES devices (id),
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			external_customer_ref TEXT,
			external_subscription_ref TEXT,
			status TEXT NOT NULL,
			current_period_end TIMESTAMPTZ,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			canceled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_external_ref
			ON subscriptions (external_subscription_ref)`,
		`CREATE TABLE IF NOT EXISTS rate_windows (
			identifier TEXT NOT NULL,
			identifier_type TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			count INT NOT NULL,
			PRIMARY KEY (identifier, identifier_type, window_start)
		)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			device_id TEXT,
			ip_address TEXT,
			kind TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_created_at
			ON risk_events (created_at)`,
		`CREATE TABLE IF NOT EXISTS processed_notifications (
			external_event_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
