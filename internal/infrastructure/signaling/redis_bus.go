package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/retry"
)

// RedisBus carries signaling traffic over redis pub/sub. Messages are
// fire-and-forget broadcasts: redis delivers only to currently-subscribed
// connections, which matches the transient semantics of signaling.
type RedisBus struct {
	client   *redis.Client
	retryCfg retry.Config
	logger   *zap.SugaredLogger
}

func NewRedisBus(client *redis.Client, retryCfg retry.Config, logger *zap.SugaredLogger) *RedisBus {
	return &RedisBus{
		client:   client,
		retryCfg: retryCfg,
		logger:   logger,
	}
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (b *RedisBus) OpenChannel(name string, self domain.UserID) ports.SignalChannel {
	return &redisChannel{
		bus:  b,
		name: name,
		self: self,
	}
}

func (b *RedisBus) AnnounceInvite(ctx context.Context, invite domain.GroupInvite) error {
	data, err := json.Marshal(invite)
	if err != nil {
		return fmt.Errorf("failed to marshal invite: %w", err)
	}
	if err := b.client.Publish(ctx, domain.InviteChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invite: %w", err)
	}
	b.logger.Debugw("announced group invite",
		"group_call_id", invite.GroupCallID,
		"invitees", len(invite.InviteeIDs),
	)
	return nil
}

func (b *RedisBus) WatchInvites(ctx context.Context, self domain.UserID, handler func(domain.GroupInvite)) error {
	return b.watch(ctx, domain.InviteChannel, func(payload string) {
		var invite domain.GroupInvite
		if err := json.Unmarshal([]byte(payload), &invite); err != nil {
			b.logger.Warnw("failed to unmarshal invite", "error", err, "payload", payload)
			return
		}
		if invite.InitiatorID == self || !invitesUser(invite, self) {
			return
		}
		handler(invite)
	})
}

func (b *RedisBus) PublishRoster(ctx context.Context, ev domain.RosterEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal roster event: %w", err)
	}
	channel := domain.RosterChannelName(ev.GroupCallID)
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish roster event: %w", err)
	}
	return nil
}

func (b *RedisBus) WatchRoster(ctx context.Context, id domain.GroupCallID, handler func(domain.RosterEvent)) error {
	return b.watch(ctx, domain.RosterChannelName(id), func(payload string) {
		var ev domain.RosterEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			b.logger.Warnw("failed to unmarshal roster event", "error", err, "payload", payload)
			return
		}
		handler(ev)
	})
}

// watch subscribes to a channel, confirms the subscription, and then
// dispatches raw payloads in the background until ctx is done. By the time
// it returns nil the subscription is registered server-side, so nothing
// published afterwards is missed.
func (b *RedisBus) watch(ctx context.Context, channel string, dispatch func(payload string)) error {
	pubsub, err := b.subscribe(ctx, channel)
	if err != nil {
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				dispatch(msg.Payload)
			}
		}
	}()
	return nil
}

// subscribe opens a redis subscription and waits for the server confirmation,
// retrying transient failures. Returning a non-nil pubsub guarantees redis has
// registered the subscription, so nothing published afterwards is missed.
func (b *RedisBus) subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	return retry.RetryWithResult(ctx, b.retryCfg, func() (*redis.PubSub, error) {
		pubsub := b.client.Subscribe(ctx, channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("failed to confirm subscription to %s: %w", channel, err)
		}
		return pubsub, nil
	})
}

func invitesUser(invite domain.GroupInvite, self domain.UserID) bool {
	for _, id := range invite.InviteeIDs {
		if id == self {
			return true
		}
	}
	return false
}

// redisChannel is one session-scoped signaling channel. Outgoing messages are
// stamped with the owner's id, and incoming messages from the owner are
// dropped so a publisher never hears its own traffic.
type redisChannel struct {
	bus  *RedisBus
	name string
	self domain.UserID

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (c *redisChannel) Send(ctx context.Context, msg domain.SignalMessage) error {
	msg.SenderID = c.self
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	if err := c.bus.client.Publish(ctx, c.name, data).Err(); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

func (c *redisChannel) Subscribe(ctx context.Context, handler func(domain.SignalMessage)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubsub != nil {
		return fmt.Errorf("already subscribed to %s", c.name)
	}

	pubsub, err := c.bus.subscribe(ctx, c.name)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.pubsub = pubsub
	c.cancel = cancel

	go c.readLoop(loopCtx, pubsub, handler)
	return nil
}

func (c *redisChannel) readLoop(ctx context.Context, pubsub *redis.PubSub, handler func(domain.SignalMessage)) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var signal domain.SignalMessage
			if err := json.Unmarshal([]byte(msg.Payload), &signal); err != nil {
				c.bus.logger.Warnw("failed to unmarshal signal",
					"channel", c.name,
					"error", err,
				)
				continue
			}
			if signal.SenderID == c.self {
				continue
			}
			handler(signal)
		}
	}
}

func (c *redisChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubsub == nil {
		return nil
	}
	c.cancel()
	err := c.pubsub.Close()
	c.pubsub = nil
	c.cancel = nil
	return err
}
