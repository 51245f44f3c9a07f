package ports

import (
	"context"

	"meshcall/internal/core/domain"
)

// SignalChannel is one named, session-scoped message bus. Send is a
// fire-and-forget broadcast to all current subscribers except the sender;
// there is no delivery guarantee beyond "delivered to currently-subscribed
// peers". Subscribe returns only after the subscription is confirmed ready,
// so a returned nil error is the "safe to publish candidates" signal.
type SignalChannel interface {
	Send(ctx context.Context, msg domain.SignalMessage) error
	Subscribe(ctx context.Context, handler func(domain.SignalMessage)) error
	Close() error
}

// SignalBus opens session-scoped channels and the globally-scoped feeds.
// A channel is exclusively owned by the session that opened it and is
// destroyed with it.
type SignalBus interface {
	OpenChannel(name string, self domain.UserID) SignalChannel

	// AnnounceInvite broadcasts a new group call on the global invite channel.
	AnnounceInvite(ctx context.Context, invite domain.GroupInvite) error
	// WatchInvites delivers invites addressed to the user until ctx is done.
	// It returns once the subscription is confirmed; invites published after
	// it returns are not missed.
	WatchInvites(ctx context.Context, self domain.UserID, handler func(domain.GroupInvite)) error

	// PublishRoster emits a participant insert/update event for a group call.
	PublishRoster(ctx context.Context, ev domain.RosterEvent) error
	// WatchRoster delivers roster events for one group call until ctx is
	// done. It returns once the subscription is confirmed; events published
	// after it returns are not missed.
	WatchRoster(ctx context.Context, id domain.GroupCallID, handler func(domain.RosterEvent)) error
}
