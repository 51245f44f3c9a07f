package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"meshcall/internal/core/domain"
)

const (
	presencePrefix      = "meshcall:presence:"
	instancePresenceKey = "meshcall:presence-instance:"
	presenceTTL         = 90 * time.Second
	refreshInterval     = 30 * time.Second
)

// PresenceRecord is what we store per online user.
type PresenceRecord struct {
	UserID      domain.UserID `json:"user_id"`
	InstanceID  string        `json:"instance_id"`
	ConnectedAt int64         `json:"connected_at"`
}

// PresenceRegistry tracks which users hold an open gateway connection,
// shared across nodes through redis. Entries carry a TTL so a crashed
// node's users fall offline without explicit cleanup.
type PresenceRegistry struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
}

func NewPresenceRegistry(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *PresenceRegistry {
	return &PresenceRegistry{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Register marks the user online on this instance and starts refreshing
// the entry until ctx is done. Callers pass the connection context so the
// refresh loop dies with the socket.
func (r *PresenceRegistry) Register(ctx context.Context, userID domain.UserID) error {
	record := PresenceRecord{
		UserID:      userID,
		InstanceID:  r.instanceID,
		ConnectedAt: time.Now().Unix(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	if err := r.client.Set(ctx, r.userKey(userID), data, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to register presence: %w", err)
	}

	instanceKey := instancePresenceKey + r.instanceID
	if err := r.client.SAdd(ctx, instanceKey, string(userID)).Err(); err != nil {
		return fmt.Errorf("failed to add user to instance set: %w", err)
	}
	r.client.Expire(ctx, instanceKey, 2*presenceTTL)

	go r.refreshLoop(ctx, userID)
	return nil
}

// Deregister marks the user offline.
func (r *PresenceRegistry) Deregister(ctx context.Context, userID domain.UserID) error {
	if err := r.client.Del(ctx, r.userKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to deregister presence: %w", err)
	}
	r.client.SRem(ctx, instancePresenceKey+r.instanceID, string(userID))
	return nil
}

// IsOnline reports whether any instance currently holds a connection for
// the user.
func (r *PresenceRegistry) IsOnline(ctx context.Context, userID domain.UserID) (bool, error) {
	n, err := r.client.Exists(ctx, r.userKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return n > 0, nil
}

// Lookup returns the presence record for a user, or nil when offline.
func (r *PresenceRegistry) Lookup(ctx context.Context, userID domain.UserID) (*PresenceRecord, error) {
	data, err := r.client.Get(ctx, r.userKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up presence: %w", err)
	}

	var record PresenceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence record: %w", err)
	}
	return &record, nil
}

// CleanupInstance removes every presence entry registered by the given
// instance. Run on startup to clear entries left by an unclean shutdown
// of a previous process with the same id.
func (r *PresenceRegistry) CleanupInstance(ctx context.Context, instanceID string) error {
	instanceKey := instancePresenceKey + instanceID
	users, err := r.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list instance users: %w", err)
	}

	for _, user := range users {
		if err := r.client.Del(ctx, r.userKey(domain.UserID(user))).Err(); err != nil {
			r.logger.Warnw("failed to remove stale presence entry",
				"user_id", user,
				"error", err,
			)
		}
	}
	return r.client.Del(ctx, instanceKey).Err()
}

func (r *PresenceRegistry) refreshLoop(ctx context.Context, userID domain.UserID) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Expire(ctx, r.userKey(userID), presenceTTL).Err(); err != nil {
				r.logger.Warnw("failed to refresh presence",
					"user_id", userID,
					"error", err,
				)
			}
		}
	}
}

func (r *PresenceRegistry) userKey(userID domain.UserID) string {
	return presencePrefix + string(userID)
}
