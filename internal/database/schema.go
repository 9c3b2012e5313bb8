package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS calculations (
		id             UUID PRIMARY KEY,
		hsn_code       VARCHAR(8) NOT NULL,
		inputs         JSONB NOT NULL,
		breakdown      JSONB NOT NULL,
		exchange_rate  JSONB NOT NULL,
		rate_fallbacks TEXT[] NOT NULL DEFAULT '{}',
		landed_price   NUMERIC(20,4) NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calculations_hsn_created
		ON calculations (hsn_code, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type VARCHAR(64) NOT NULL CHECK (aggregate_type <> ''),
		aggregate_id   VARCHAR(64) NOT NULL,
		event_type     VARCHAR(64) NOT NULL CHECK (event_type <> ''),
		payload        JSONB NOT NULL,
		target_stream  VARCHAR(128) NOT NULL,
		status         VARCHAR(16) NOT NULL DEFAULT 'pending',
		retry_count    INT NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_status_retry
		ON outbox_event (status, next_retry_at)`,
}

// EnsureSchema creates the tables the service needs. It is safe to run on
// every start.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
