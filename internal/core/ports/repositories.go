package ports

import (
	"context"
	"time"

	"meshcall/internal/core/domain"
)

type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error)
	// UpdateStatus persists the call only if the stored status still equals
	// expected, so two racing transitions cannot both commit. The loser gets
	// ErrStatusConflict and must re-read before deciding anything.
	UpdateStatus(ctx context.Context, call *domain.Call, expected domain.CallStatus) error
	// FindIncoming returns calls still in "calling" addressed to the user,
	// used by the polling fallback for incoming-call detection.
	FindIncoming(ctx context.Context, callee domain.UserID) ([]*domain.Call, error)
	// FindOutgoing returns calls still in "calling" placed by the user, used
	// to re-attach outcome watches after a caller reconnects.
	FindOutgoing(ctx context.Context, caller domain.UserID) ([]*domain.Call, error)
}

type GroupCallRepository interface {
	Create(ctx context.Context, call *domain.GroupCall) error
	GetByID(ctx context.Context, id domain.GroupCallID) (*domain.GroupCall, error)
	SetStatus(ctx context.Context, id domain.GroupCallID, status domain.GroupCallStatus, endedAt *time.Time) error
	AddParticipant(ctx context.Context, p *domain.GroupCallParticipant) error
	MarkLeft(ctx context.Context, id domain.GroupCallID, user domain.UserID, leftAt time.Time) error
	// ActiveParticipants returns rows with left_at = null.
	ActiveParticipants(ctx context.Context, id domain.GroupCallID) ([]*domain.GroupCallParticipant, error)
}

// CallLogRepository appends terminal call outcomes. Append is idempotent per
// call id: a second append for the same call is a no-op.
type CallLogRepository interface {
	Append(ctx context.Context, entry *domain.CallLogEntry) error
	ListByUser(ctx context.Context, user domain.UserID, limit, offset int) ([]*domain.CallLogEntry, error)
}
