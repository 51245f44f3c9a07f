package memory

import (
	"context"
	"sync"
	"time"

	"meshcall/internal/core/domain"
)

// GroupCallRepository is the in-memory GroupCall and participant store.
type GroupCallRepository struct {
	calls        map[domain.GroupCallID]*domain.GroupCall
	participants map[domain.GroupCallID][]*domain.GroupCallParticipant
	mu           sync.RWMutex
}

func NewGroupCallRepository() *GroupCallRepository {
	return &GroupCallRepository{
		calls:        make(map[domain.GroupCallID]*domain.GroupCall),
		participants: make(map[domain.GroupCallID][]*domain.GroupCallParticipant),
	}
}

func (r *GroupCallRepository) Create(ctx context.Context, call *domain.GroupCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *call
	r.calls[call.ID] = &c
	return nil
}

func (r *GroupCallRepository) GetByID(ctx context.Context, id domain.GroupCallID) (*domain.GroupCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, domain.ErrGroupCallNotFound
	}
	c := *call
	return &c, nil
}

func (r *GroupCallRepository) SetStatus(ctx context.Context, id domain.GroupCallID, status domain.GroupCallStatus, endedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, exists := r.calls[id]
	if !exists {
		return domain.ErrGroupCallNotFound
	}
	call.Status = status
	call.EndedAt = endedAt
	return nil
}

func (r *GroupCallRepository) AddParticipant(ctx context.Context, p *domain.GroupCallParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[p.GroupCallID]; !exists {
		return domain.ErrGroupCallNotFound
	}

	// Re-joining reactivates the existing row.
	for _, existing := range r.participants[p.GroupCallID] {
		if existing.UserID == p.UserID {
			existing.JoinedAt = p.JoinedAt
			existing.LeftAt = nil
			return nil
		}
	}

	row := *p
	r.participants[p.GroupCallID] = append(r.participants[p.GroupCallID], &row)
	return nil
}

func (r *GroupCallRepository) MarkLeft(ctx context.Context, id domain.GroupCallID, user domain.UserID, leftAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.participants[id] {
		if p.UserID == user && p.LeftAt == nil {
			t := leftAt
			p.LeftAt = &t
			return nil
		}
	}
	return domain.ErrParticipantNotFound
}

func (r *GroupCallRepository) ActiveParticipants(ctx context.Context, id domain.GroupCallID) ([]*domain.GroupCallParticipant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]*domain.GroupCallParticipant, 0)
	for _, p := range r.participants[id] {
		if p.LeftAt == nil {
			row := *p
			active = append(active, &row)
		}
	}
	return active, nil
}
