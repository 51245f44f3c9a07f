package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meshcall/internal/core/domain"
)

// CallRepository persists 1:1 call records.
type CallRepository struct {
	pool *pgxpool.Pool
}

func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			id, caller_id, callee_id, call_type, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		call.ID,
		call.CallerID,
		call.CalleeID,
		call.CallType,
		call.Status,
		call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

func (r *CallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	query := `
		SELECT id, caller_id, callee_id, call_type, status,
		       created_at, started_at, ended_at, duration_seconds
		FROM calls
		WHERE id = $1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&call.ID,
		&call.CallerID,
		&call.CalleeID,
		&call.CallType,
		&call.Status,
		&call.CreatedAt,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSeconds,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return call, nil
}

// UpdateStatus is a conditional write: the row is only touched while its
// status still equals expected, so the transition that loses a race never
// overwrites the one that won.
func (r *CallRepository) UpdateStatus(ctx context.Context, call *domain.Call, expected domain.CallStatus) error {
	query := `
		UPDATE calls
		SET status = $2,
		    started_at = $3,
		    ended_at = $4,
		    duration_seconds = $5
		WHERE id = $1 AND status = $6
	`

	tag, err := r.pool.Exec(ctx, query,
		call.ID,
		call.Status,
		call.StartedAt,
		call.EndedAt,
		call.DurationSeconds,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM calls WHERE id = $1)`, call.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check call existence: %w", err)
		}
		if !exists {
			return domain.ErrCallNotFound
		}
		return domain.ErrStatusConflict
	}
	return nil
}

func (r *CallRepository) FindIncoming(ctx context.Context, callee domain.UserID) ([]*domain.Call, error) {
	query := `
		SELECT id, caller_id, callee_id, call_type, status,
		       created_at, started_at, ended_at, duration_seconds
		FROM calls
		WHERE callee_id = $1 AND status = $2
		ORDER BY created_at
	`
	return r.queryCalls(ctx, query, callee)
}

func (r *CallRepository) FindOutgoing(ctx context.Context, caller domain.UserID) ([]*domain.Call, error) {
	query := `
		SELECT id, caller_id, callee_id, call_type, status,
		       created_at, started_at, ended_at, duration_seconds
		FROM calls
		WHERE caller_id = $1 AND status = $2
		ORDER BY created_at
	`
	return r.queryCalls(ctx, query, caller)
}

func (r *CallRepository) queryCalls(ctx context.Context, query string, user domain.UserID) ([]*domain.Call, error) {
	rows, err := r.pool.Query(ctx, query, user, domain.CallStatusCalling)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		if err := rows.Scan(
			&call.ID,
			&call.CallerID,
			&call.CalleeID,
			&call.CallType,
			&call.Status,
			&call.CreatedAt,
			&call.StartedAt,
			&call.EndedAt,
			&call.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}
