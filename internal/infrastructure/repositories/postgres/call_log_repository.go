package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"meshcall/internal/core/domain"
)

// CallLogRepository persists terminal call outcomes. The call_logs table
// has a unique constraint on call_id, so a duplicate terminal transition
// collapses into the existing row, keeping Append idempotent per call.
type CallLogRepository struct {
	pool *pgxpool.Pool
}

func NewCallLogRepository(pool *pgxpool.Pool) *CallLogRepository {
	return &CallLogRepository{pool: pool}
}

func (r *CallLogRepository) Append(ctx context.Context, entry *domain.CallLogEntry) error {
	query := `
		INSERT INTO call_logs (
			call_id, caller_id, callee_id, call_type, call_status, duration_seconds, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		entry.CallID,
		entry.CallerID,
		entry.CalleeID,
		entry.CallType,
		entry.Status,
		entry.DurationSeconds,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append call log: %w", err)
	}
	return nil
}

func (r *CallLogRepository) ListByUser(ctx context.Context, user domain.UserID, limit, offset int) ([]*domain.CallLogEntry, error) {
	query := `
		SELECT call_id, caller_id, callee_id, call_type, call_status, duration_seconds, created_at
		FROM call_logs
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, user, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query call logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.CallLogEntry
	for rows.Next() {
		e := &domain.CallLogEntry{}
		if err := rows.Scan(
			&e.CallID,
			&e.CallerID,
			&e.CalleeID,
			&e.CallType,
			&e.Status,
			&e.DurationSeconds,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
