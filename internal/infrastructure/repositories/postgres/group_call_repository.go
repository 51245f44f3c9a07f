package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meshcall/internal/core/domain"
)

// GroupCallRepository persists group call records and their participant rows.
type GroupCallRepository struct {
	pool *pgxpool.Pool
}

func NewGroupCallRepository(pool *pgxpool.Pool) *GroupCallRepository {
	return &GroupCallRepository{pool: pool}
}

func (r *GroupCallRepository) Create(ctx context.Context, call *domain.GroupCall) error {
	query := `
		INSERT INTO group_calls (
			id, initiator_id, call_type, status, title, max_participants, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		call.ID,
		call.InitiatorID,
		call.CallType,
		call.Status,
		call.Title,
		call.MaxParticipants,
		call.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create group call: %w", err)
	}
	return nil
}

func (r *GroupCallRepository) GetByID(ctx context.Context, id domain.GroupCallID) (*domain.GroupCall, error) {
	query := `
		SELECT id, initiator_id, call_type, status, title,
		       max_participants, started_at, ended_at
		FROM group_calls
		WHERE id = $1
	`

	call := &domain.GroupCall{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&call.ID,
		&call.InitiatorID,
		&call.CallType,
		&call.Status,
		&call.Title,
		&call.MaxParticipants,
		&call.StartedAt,
		&call.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupCallNotFound
		}
		return nil, fmt.Errorf("failed to get group call: %w", err)
	}
	return call, nil
}

func (r *GroupCallRepository) SetStatus(ctx context.Context, id domain.GroupCallID, status domain.GroupCallStatus, endedAt *time.Time) error {
	query := `
		UPDATE group_calls
		SET status = $2, ended_at = $3
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, status, endedAt)
	if err != nil {
		return fmt.Errorf("failed to update group call status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupCallNotFound
	}
	return nil
}

// AddParticipant inserts the membership row; re-joining reactivates the
// existing row instead of duplicating it.
func (r *GroupCallRepository) AddParticipant(ctx context.Context, p *domain.GroupCallParticipant) error {
	query := `
		INSERT INTO group_call_participants (
			id, group_call_id, user_id, joined_at, left_at
		) VALUES ($1, $2, $3, $4, NULL)
		ON CONFLICT (group_call_id, user_id)
		DO UPDATE SET joined_at = EXCLUDED.joined_at, left_at = NULL
	`

	_, err := r.pool.Exec(ctx, query, p.ID, p.GroupCallID, p.UserID, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

func (r *GroupCallRepository) MarkLeft(ctx context.Context, id domain.GroupCallID, user domain.UserID, leftAt time.Time) error {
	query := `
		UPDATE group_call_participants
		SET left_at = $3
		WHERE group_call_id = $1 AND user_id = $2 AND left_at IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, id, user, leftAt)
	if err != nil {
		return fmt.Errorf("failed to mark participant left: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func (r *GroupCallRepository) ActiveParticipants(ctx context.Context, id domain.GroupCallID) ([]*domain.GroupCallParticipant, error) {
	query := `
		SELECT id, group_call_id, user_id, joined_at, left_at
		FROM group_call_participants
		WHERE group_call_id = $1 AND left_at IS NULL
		ORDER BY joined_at
	`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	participants := make([]*domain.GroupCallParticipant, 0)
	for rows.Next() {
		p := &domain.GroupCallParticipant{}
		if err := rows.Scan(&p.ID, &p.GroupCallID, &p.UserID, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}
