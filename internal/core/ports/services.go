package ports

import (
	"context"

	"meshcall/internal/core/domain"
)

type CallService interface {
	StartCall(ctx context.Context, caller, callee domain.UserID, callType domain.CallType) (*domain.Call, error)
	AnswerCall(ctx context.Context, id domain.CallID) (*domain.Call, error)
	RejectCall(ctx context.Context, id domain.CallID) error
	EndCall(ctx context.Context, id domain.CallID, durationSeconds int) error
	MissCall(ctx context.Context, id domain.CallID) error
	GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error)
	History(ctx context.Context, user domain.UserID, limit, offset int) ([]*domain.CallLogEntry, error)
	// WatchIncoming polls for calls ringing at the user and invokes the
	// handler once per new call id, until ctx is done.
	WatchIncoming(ctx context.Context, callee domain.UserID, handler func(*domain.Call))
	// RingingCalls returns the user's outgoing calls still in "calling".
	RingingCalls(ctx context.Context, caller domain.UserID) ([]*domain.Call, error)
}

type GroupCallService interface {
	CreateGroupCall(ctx context.Context, initiator domain.UserID, invitees []domain.UserID, callType domain.CallType, title string) (*domain.GroupCall, error)
	JoinGroupCall(ctx context.Context, id domain.GroupCallID, user domain.UserID) ([]*domain.GroupCallParticipant, error)
	LeaveGroupCall(ctx context.Context, id domain.GroupCallID, user domain.UserID) error
	// EndGroupCall ends the call explicitly; only the initiator may do so.
	EndGroupCall(ctx context.Context, id domain.GroupCallID, user domain.UserID) error
	GetGroupCall(ctx context.Context, id domain.GroupCallID) (*domain.GroupCall, error)
	// ActiveParticipants lists the participants with left_at = null.
	ActiveParticipants(ctx context.Context, id domain.GroupCallID) ([]*domain.GroupCallParticipant, error)
}
