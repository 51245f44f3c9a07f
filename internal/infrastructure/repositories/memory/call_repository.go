package memory

import (
	"context"
	"sync"

	"meshcall/internal/core/domain"
)

// CallRepository is the in-memory Call store, used for tests and as the
// fallback when postgres is not configured.
type CallRepository struct {
	calls map[domain.CallID]*domain.Call
	mu    sync.RWMutex
}

func NewCallRepository() *CallRepository {
	return &CallRepository{calls: make(map[domain.CallID]*domain.Call)}
}

func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *call
	r.calls[call.ID] = &c
	return nil
}

func (r *CallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}
	c := *call
	return &c, nil
}

func (r *CallRepository) UpdateStatus(ctx context.Context, call *domain.Call, expected domain.CallStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.calls[call.ID]
	if !exists {
		return domain.ErrCallNotFound
	}
	if stored.Status != expected {
		return domain.ErrStatusConflict
	}
	c := *call
	r.calls[call.ID] = &c
	return nil
}

func (r *CallRepository) FindIncoming(ctx context.Context, callee domain.UserID) ([]*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var incoming []*domain.Call
	for _, call := range r.calls {
		if call.CalleeID == callee && call.Status == domain.CallStatusCalling {
			c := *call
			incoming = append(incoming, &c)
		}
	}
	return incoming, nil
}

func (r *CallRepository) FindOutgoing(ctx context.Context, caller domain.UserID) ([]*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var outgoing []*domain.Call
	for _, call := range r.calls {
		if call.CallerID == caller && call.Status == domain.CallStatusCalling {
			c := *call
			outgoing = append(outgoing, &c)
		}
	}
	return outgoing, nil
}
