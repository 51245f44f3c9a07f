package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
)

type groupCallService struct {
	groups ports.GroupCallRepository
	bus    ports.SignalBus
	logger *zap.SugaredLogger
}

// NewGroupCallService creates the group call lifecycle service. It owns the
// persisted GroupCall/participant records and emits invite and roster
// events; the pairwise link topology is driven by MeshCoordinator.
func NewGroupCallService(groups ports.GroupCallRepository, bus ports.SignalBus, logger *zap.SugaredLogger) ports.GroupCallService {
	return &groupCallService{groups: groups, bus: bus, logger: logger}
}

func (s *groupCallService) CreateGroupCall(ctx context.Context, initiator domain.UserID, invitees []domain.UserID, callType domain.CallType, title string) (*domain.GroupCall, error) {
	call := &domain.GroupCall{
		ID:              domain.GroupCallID(uuid.NewString()),
		InitiatorID:     initiator,
		CallType:        callType,
		Status:          domain.GroupCallStatusActive,
		Title:           title,
		MaxParticipants: len(invitees) + 1,
		StartedAt:       time.Now(),
	}

	if err := s.groups.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("failed to create group call: %w", err)
	}
	if err := s.addParticipant(ctx, call.ID, initiator); err != nil {
		return nil, err
	}

	invite := domain.GroupInvite{
		GroupCallID: call.ID,
		InitiatorID: initiator,
		CallType:    callType,
		InviteeIDs:  invitees,
		Title:       title,
	}
	if err := s.bus.AnnounceInvite(ctx, invite); err != nil {
		s.logger.Warnw("group invite announce failed", "group_call_id", call.ID, "error", err)
	}

	s.logger.Infow("group call created",
		"group_call_id", call.ID,
		"initiator_id", initiator,
		"call_type", callType,
		"invitees", len(invitees),
	)
	return call, nil
}

// JoinGroupCall records the membership row and returns the other currently
// active participants, which the caller must answer toward (they opened, or
// will open, initiator links on the joiner's arrival).
func (s *groupCallService) JoinGroupCall(ctx context.Context, id domain.GroupCallID, user domain.UserID) ([]*domain.GroupCallParticipant, error) {
	call, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if call.Status != domain.GroupCallStatusActive {
		return nil, domain.ErrGroupCallEnded
	}

	active, err := s.groups.ActiveParticipants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants of %s: %w", id, err)
	}

	others := make([]*domain.GroupCallParticipant, 0, len(active))
	already := false
	for _, p := range active {
		if p.UserID == user {
			already = true
			continue
		}
		others = append(others, p)
	}
	if already {
		// Rejoining after a reconnect: the row is already present, but the
		// full set of other participants is still needed to rebuild links.
		return others, nil
	}
	if call.MaxParticipants > 0 && len(active) >= call.MaxParticipants {
		return nil, domain.ErrGroupCallFull
	}

	if err := s.addParticipant(ctx, id, user); err != nil {
		return nil, err
	}

	s.logger.Infow("participant joined group call", "group_call_id", id, "user_id", user)
	return others, nil
}

func (s *groupCallService) LeaveGroupCall(ctx context.Context, id domain.GroupCallID, user domain.UserID) error {
	now := time.Now()
	if err := s.groups.MarkLeft(ctx, id, user, now); err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			return nil
		}
		return fmt.Errorf("failed to mark %s as left in %s: %w", user, id, err)
	}

	if err := s.bus.PublishRoster(ctx, domain.RosterEvent{
		Kind:        domain.RosterLeft,
		GroupCallID: id,
		UserID:      user,
	}); err != nil {
		s.logger.Warnw("roster publish failed", "group_call_id", id, "error", err)
	}

	remaining, err := s.groups.ActiveParticipants(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load participants of %s: %w", id, err)
	}
	if len(remaining) == 0 {
		if err := s.groups.SetStatus(ctx, id, domain.GroupCallStatusEnded, &now); err != nil {
			return fmt.Errorf("failed to end empty group call %s: %w", id, err)
		}
		s.logger.Infow("group call ended, roster empty", "group_call_id", id)
	}

	s.logger.Infow("participant left group call", "group_call_id", id, "user_id", user)
	return nil
}

func (s *groupCallService) EndGroupCall(ctx context.Context, id domain.GroupCallID, user domain.UserID) error {
	call, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if call.InitiatorID != user {
		return fmt.Errorf("only the initiator may end group call %s", id)
	}
	if call.Status == domain.GroupCallStatusEnded {
		return nil
	}

	now := time.Now()
	active, err := s.groups.ActiveParticipants(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load participants of %s: %w", id, err)
	}
	for _, p := range active {
		if err := s.groups.MarkLeft(ctx, id, p.UserID, now); err != nil {
			return fmt.Errorf("failed to mark %s as left in %s: %w", p.UserID, id, err)
		}
		if err := s.bus.PublishRoster(ctx, domain.RosterEvent{
			Kind:        domain.RosterLeft,
			GroupCallID: id,
			UserID:      p.UserID,
		}); err != nil {
			s.logger.Warnw("roster publish failed", "group_call_id", id, "error", err)
		}
	}

	if err := s.groups.SetStatus(ctx, id, domain.GroupCallStatusEnded, &now); err != nil {
		return fmt.Errorf("failed to end group call %s: %w", id, err)
	}
	s.logger.Infow("group call ended by initiator", "group_call_id", id)
	return nil
}

func (s *groupCallService) GetGroupCall(ctx context.Context, id domain.GroupCallID) (*domain.GroupCall, error) {
	return s.groups.GetByID(ctx, id)
}

func (s *groupCallService) ActiveParticipants(ctx context.Context, id domain.GroupCallID) ([]*domain.GroupCallParticipant, error) {
	return s.groups.ActiveParticipants(ctx, id)
}

func (s *groupCallService) addParticipant(ctx context.Context, id domain.GroupCallID, user domain.UserID) error {
	p := &domain.GroupCallParticipant{
		ID:          uuid.NewString(),
		GroupCallID: id,
		UserID:      user,
		JoinedAt:    time.Now(),
	}
	if err := s.groups.AddParticipant(ctx, p); err != nil {
		return fmt.Errorf("failed to add participant %s to %s: %w", user, id, err)
	}

	if err := s.bus.PublishRoster(ctx, domain.RosterEvent{
		Kind:        domain.RosterJoined,
		GroupCallID: id,
		UserID:      user,
	}); err != nil {
		s.logger.Warnw("roster publish failed", "group_call_id", id, "error", err)
	}
	return nil
}
