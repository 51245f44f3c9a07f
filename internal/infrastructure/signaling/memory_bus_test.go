package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshcall/internal/core/domain"
)

func TestChannelDropsOwnMessages(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	alice := bus.OpenChannel("signal:call:c1", "alice")
	bob := bus.OpenChannel("signal:call:c1", "bob")

	var aliceGot, bobGot []domain.SignalMessage
	require.NoError(t, alice.Subscribe(ctx, func(m domain.SignalMessage) { aliceGot = append(aliceGot, m) }))
	require.NoError(t, bob.Subscribe(ctx, func(m domain.SignalMessage) { bobGot = append(bobGot, m) }))

	require.NoError(t, alice.Send(ctx, domain.SignalMessage{Kind: domain.SignalOffer, SDP: "v=0"}))

	require.Len(t, bobGot, 1)
	assert.Equal(t, domain.SignalOffer, bobGot[0].Kind)
	assert.Equal(t, domain.UserID("alice"), bobGot[0].SenderID)
	assert.Empty(t, aliceGot, "sender must not hear its own message")
}

func TestSendReachesOnlyCurrentSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	alice := bus.OpenChannel("signal:call:c1", "alice")
	bob := bus.OpenChannel("signal:call:c1", "bob")

	// Bob has not subscribed yet: the message is lost, not queued.
	require.NoError(t, alice.Send(ctx, domain.SignalMessage{Kind: domain.SignalPeerReady}))

	var bobGot []domain.SignalMessage
	require.NoError(t, bob.Subscribe(ctx, func(m domain.SignalMessage) { bobGot = append(bobGot, m) }))
	assert.Empty(t, bobGot)

	require.NoError(t, alice.Send(ctx, domain.SignalMessage{Kind: domain.SignalPeerReady}))
	assert.Len(t, bobGot, 1)
}

func TestClosedChannelStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	alice := bus.OpenChannel("signal:call:c1", "alice")
	bob := bus.OpenChannel("signal:call:c1", "bob")

	var bobGot []domain.SignalMessage
	require.NoError(t, bob.Subscribe(ctx, func(m domain.SignalMessage) { bobGot = append(bobGot, m) }))
	require.NoError(t, bob.Close())
	require.NoError(t, bob.Close(), "close is idempotent")

	require.NoError(t, alice.Send(ctx, domain.SignalMessage{Kind: domain.SignalEndCall}))
	assert.Empty(t, bobGot)
}

func TestInvitesReachOnlyInvitees(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	invites := make(chan domain.GroupInvite, 2)
	bystander := make(chan domain.GroupInvite, 2)
	initiator := make(chan domain.GroupInvite, 2)

	// The watch contract: once the call returns, the handler is live.
	require.NoError(t, bus.WatchInvites(ctx, "bob", func(inv domain.GroupInvite) { invites <- inv }))
	require.NoError(t, bus.WatchInvites(ctx, "mallory", func(inv domain.GroupInvite) { bystander <- inv }))
	require.NoError(t, bus.WatchInvites(ctx, "alice", func(inv domain.GroupInvite) { initiator <- inv }))

	require.NoError(t, bus.AnnounceInvite(ctx, domain.GroupInvite{
		GroupCallID: "g1",
		InitiatorID: "alice",
		CallType:    domain.CallTypeVideo,
		InviteeIDs:  []domain.UserID{"bob", "carol"},
	}))

	select {
	case inv := <-invites:
		assert.Equal(t, domain.GroupCallID("g1"), inv.GroupCallID)
	case <-time.After(time.Second):
		t.Fatal("invitee did not receive invite")
	}
	assert.Empty(t, bystander, "non-invitee must not see the invite")
	assert.Empty(t, initiator, "initiator must not be re-notified")
}

func TestRosterEventsScopedToGroupCall(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g1 := make(chan domain.RosterEvent, 2)
	g2 := make(chan domain.RosterEvent, 2)
	require.NoError(t, bus.WatchRoster(ctx, "g1", func(ev domain.RosterEvent) { g1 <- ev }))
	require.NoError(t, bus.WatchRoster(ctx, "g2", func(ev domain.RosterEvent) { g2 <- ev }))

	require.NoError(t, bus.PublishRoster(ctx, domain.RosterEvent{
		Kind:        domain.RosterJoined,
		GroupCallID: "g1",
		UserID:      "bob",
	}))

	select {
	case ev := <-g1:
		assert.Equal(t, domain.RosterJoined, ev.Kind)
		assert.Equal(t, domain.UserID("bob"), ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("roster watcher did not receive event")
	}
	assert.Empty(t, g2, "events must not leak across group calls")
}
