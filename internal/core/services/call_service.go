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

type callService struct {
	calls ports.CallRepository
	log   ports.CallLogRepository

	pollInterval time.Duration
	logger       *zap.SugaredLogger
}

// NewCallService creates the 1:1 call lifecycle service. pollInterval drives
// the incoming-call polling fallback.
func NewCallService(calls ports.CallRepository, log ports.CallLogRepository, pollInterval time.Duration, logger *zap.SugaredLogger) ports.CallService {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &callService{
		calls:        calls,
		log:          log,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

func (s *callService) StartCall(ctx context.Context, caller, callee domain.UserID, callType domain.CallType) (*domain.Call, error) {
	call := &domain.Call{
		ID:        domain.CallID(uuid.NewString()),
		CallerID:  caller,
		CalleeID:  callee,
		CallType:  callType,
		Status:    domain.CallStatusCalling,
		CreatedAt: time.Now(),
	}

	if err := s.calls.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("failed to create call record: %w", err)
	}

	s.logger.Infow("call started",
		"call_id", call.ID,
		"caller_id", caller,
		"callee_id", callee,
		"call_type", callType,
	)
	return call, nil
}

func (s *callService) AnswerCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	return s.transition(ctx, id, domain.CallStatusAccepted, func(call *domain.Call) {
		now := time.Now()
		call.StartedAt = &now
	})
}

func (s *callService) RejectCall(ctx context.Context, id domain.CallID) error {
	_, err := s.transition(ctx, id, domain.CallStatusRejected, nil)
	return err
}

func (s *callService) MissCall(ctx context.Context, id domain.CallID) error {
	_, err := s.transition(ctx, id, domain.CallStatusMissed, nil)
	return err
}

func (s *callService) EndCall(ctx context.Context, id domain.CallID, durationSeconds int) error {
	_, err := s.transition(ctx, id, domain.CallStatusEnded, func(call *domain.Call) {
		now := time.Now()
		call.EndedAt = &now
		call.DurationSeconds = &durationSeconds
	})
	return err
}

func (s *callService) GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	return s.calls.GetByID(ctx, id)
}

func (s *callService) History(ctx context.Context, user domain.UserID, limit, offset int) ([]*domain.CallLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.log.ListByUser(ctx, user, limit, offset)
}

func (s *callService) RingingCalls(ctx context.Context, caller domain.UserID) ([]*domain.Call, error) {
	return s.calls.FindOutgoing(ctx, caller)
}

// transition applies one guarded status change. The write is conditional on
// the status the guard was checked against, so of two racing transitions
// only the first commits; the loser re-reads and fails the guard against the
// now-terminal state. Every terminal transition appends exactly one call-log
// entry; the log repository deduplicates per call id, so a concurrent
// duplicate transition cannot double-append.
func (s *callService) transition(ctx context.Context, id domain.CallID, next domain.CallStatus, mutate func(*domain.Call)) (*domain.Call, error) {
	for {
		call, err := s.calls.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if !call.Status.CanTransitionTo(next) {
			return nil, fmt.Errorf("%w: %s -> %s (call %s)", domain.ErrInvalidTransition, call.Status, next, id)
		}

		expected := call.Status
		call.Status = next
		if mutate != nil {
			mutate(call)
		}

		if err := s.calls.UpdateStatus(ctx, call, expected); err != nil {
			if errors.Is(err, domain.ErrStatusConflict) {
				continue
			}
			return nil, fmt.Errorf("failed to update call %s: %w", id, err)
		}

		if next.IsTerminal() {
			if err := s.appendLog(ctx, call); err != nil {
				return nil, err
			}
		}

		s.logger.Infow("call transition",
			"call_id", call.ID,
			"status", next,
		)
		return call, nil
	}
}

func (s *callService) appendLog(ctx context.Context, call *domain.Call) error {
	duration := 0
	if call.Status == domain.CallStatusEnded && call.DurationSeconds != nil {
		duration = *call.DurationSeconds
	}

	entry := &domain.CallLogEntry{
		CallID:          call.ID,
		CallerID:        call.CallerID,
		CalleeID:        call.CalleeID,
		CallType:        call.CallType,
		Status:          call.Status,
		DurationSeconds: duration,
		CreatedAt:       time.Now(),
	}
	if err := s.log.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append call log for %s: %w", call.ID, err)
	}
	return nil
}

// WatchIncoming is the polling fallback for incoming-call detection: a
// lightweight recurring query over "calling" rows addressed to the callee.
// Each call id is reported once.
func (s *callService) WatchIncoming(ctx context.Context, callee domain.UserID, handler func(*domain.Call)) {
	seen := make(map[domain.CallID]struct{})
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		incoming, err := s.calls.FindIncoming(ctx, callee)
		if err != nil {
			s.logger.Warnw("incoming call poll failed", "callee_id", callee, "error", err)
		}
		for _, call := range incoming {
			if _, ok := seen[call.ID]; ok {
				continue
			}
			seen[call.ID] = struct{}{}
			handler(call)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
