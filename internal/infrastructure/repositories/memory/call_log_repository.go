package memory

import (
	"context"
	"sort"
	"sync"

	"meshcall/internal/core/domain"
)

// CallLogRepository is the in-memory call-log store. Append deduplicates per
// call id, matching the at-most-one-entry-per-call contract.
type CallLogRepository struct {
	entries []*domain.CallLogEntry
	byCall  map[domain.CallID]struct{}
	mu      sync.RWMutex
}

func NewCallLogRepository() *CallLogRepository {
	return &CallLogRepository{byCall: make(map[domain.CallID]struct{})}
}

func (r *CallLogRepository) Append(ctx context.Context, entry *domain.CallLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCall[entry.CallID]; exists {
		return nil
	}
	e := *entry
	r.entries = append(r.entries, &e)
	r.byCall[entry.CallID] = struct{}{}
	return nil
}

func (r *CallLogRepository) ListByUser(ctx context.Context, user domain.UserID, limit, offset int) ([]*domain.CallLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.CallLogEntry
	for _, e := range r.entries {
		if e.CallerID == user || e.CalleeID == user {
			entry := *e
			matched = append(matched, &entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
