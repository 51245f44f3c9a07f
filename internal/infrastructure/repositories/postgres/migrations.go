package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS calls (
		id               TEXT PRIMARY KEY,
		caller_id        TEXT NOT NULL,
		callee_id        TEXT NOT NULL,
		call_type        TEXT NOT NULL,
		status           TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		started_at       TIMESTAMPTZ,
		ended_at         TIMESTAMPTZ,
		duration_seconds INT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_callee_status ON calls (callee_id, status)`,
	`CREATE TABLE IF NOT EXISTS group_calls (
		id               TEXT PRIMARY KEY,
		initiator_id     TEXT NOT NULL,
		call_type        TEXT NOT NULL,
		status           TEXT NOT NULL,
		title            TEXT NOT NULL DEFAULT '',
		max_participants INT NOT NULL DEFAULT 0,
		started_at       TIMESTAMPTZ NOT NULL,
		ended_at         TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS group_call_participants (
		id            TEXT PRIMARY KEY,
		group_call_id TEXT NOT NULL REFERENCES group_calls (id),
		user_id       TEXT NOT NULL,
		joined_at     TIMESTAMPTZ NOT NULL,
		left_at       TIMESTAMPTZ,
		UNIQUE (group_call_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_active ON group_call_participants (group_call_id) WHERE left_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS call_logs (
		call_id          TEXT PRIMARY KEY,
		caller_id        TEXT NOT NULL,
		callee_id        TEXT NOT NULL,
		call_type        TEXT NOT NULL,
		call_status      TEXT NOT NULL,
		duration_seconds INT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_logs_caller ON call_logs (caller_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_call_logs_callee ON call_logs (callee_id, created_at DESC)`,
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.SugaredLogger) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	if logger != nil {
		logger.Infow("postgres schema up to date", "statements", len(migrations))
	}
	return nil
}
