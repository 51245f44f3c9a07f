package signaling

import (
	"context"
	"fmt"
	"sync"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
)

// MemoryBus is an in-process SignalBus with the same delivery contract as
// RedisBus: broadcasts reach only current subscribers, and a channel owner
// never receives its own messages. Used for single-node deployments and
// tests.
type MemoryBus struct {
	mu       sync.RWMutex
	channels map[string][]*memorySub
	invites  []*inviteSub
	rosters  map[domain.GroupCallID][]*rosterSub
}

type memorySub struct {
	self    domain.UserID
	handler func(domain.SignalMessage)
}

type inviteSub struct {
	self    domain.UserID
	handler func(domain.GroupInvite)
}

type rosterSub struct {
	handler func(domain.RosterEvent)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		channels: make(map[string][]*memorySub),
		rosters:  make(map[domain.GroupCallID][]*rosterSub),
	}
}

func (b *MemoryBus) OpenChannel(name string, self domain.UserID) ports.SignalChannel {
	return &memoryChannel{bus: b, name: name, self: self}
}

func (b *MemoryBus) AnnounceInvite(_ context.Context, invite domain.GroupInvite) error {
	b.mu.RLock()
	subs := make([]*inviteSub, len(b.invites))
	copy(subs, b.invites)
	b.mu.RUnlock()

	for _, sub := range subs {
		if invite.InitiatorID == sub.self || !invitesUser(invite, sub.self) {
			continue
		}
		sub.handler(invite)
	}
	return nil
}

// WatchInvites registers the handler and returns; the subscription is live
// once it does. Delivery continues until ctx is done.
func (b *MemoryBus) WatchInvites(ctx context.Context, self domain.UserID, handler func(domain.GroupInvite)) error {
	sub := &inviteSub{self: self, handler: handler}
	b.mu.Lock()
	b.invites = append(b.invites, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.invites = removeInviteSub(b.invites, sub)
		b.mu.Unlock()
	}()
	return nil
}

func (b *MemoryBus) PublishRoster(_ context.Context, ev domain.RosterEvent) error {
	b.mu.RLock()
	subs := make([]*rosterSub, len(b.rosters[ev.GroupCallID]))
	copy(subs, b.rosters[ev.GroupCallID])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(ev)
	}
	return nil
}

// WatchRoster registers the handler and returns; the subscription is live
// once it does. Delivery continues until ctx is done.
func (b *MemoryBus) WatchRoster(ctx context.Context, id domain.GroupCallID, handler func(domain.RosterEvent)) error {
	sub := &rosterSub{handler: handler}
	b.mu.Lock()
	b.rosters[id] = append(b.rosters[id], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.rosters[id] = removeRosterSub(b.rosters[id], sub)
		if len(b.rosters[id]) == 0 {
			delete(b.rosters, id)
		}
		b.mu.Unlock()
	}()
	return nil
}

func removeInviteSub(subs []*inviteSub, target *inviteSub) []*inviteSub {
	out := subs[:0]
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func removeRosterSub(subs []*rosterSub, target *rosterSub) []*rosterSub {
	out := subs[:0]
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

type memoryChannel struct {
	bus  *MemoryBus
	name string
	self domain.UserID

	mu  sync.Mutex
	sub *memorySub
}

func (c *memoryChannel) Send(_ context.Context, msg domain.SignalMessage) error {
	msg.SenderID = c.self

	c.bus.mu.RLock()
	subs := make([]*memorySub, len(c.bus.channels[c.name]))
	copy(subs, c.bus.channels[c.name])
	c.bus.mu.RUnlock()

	for _, sub := range subs {
		if sub.self == c.self {
			continue
		}
		sub.handler(msg)
	}
	return nil
}

func (c *memoryChannel) Subscribe(_ context.Context, handler func(domain.SignalMessage)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return fmt.Errorf("already subscribed to %s", c.name)
	}
	c.sub = &memorySub{self: c.self, handler: handler}

	c.bus.mu.Lock()
	c.bus.channels[c.name] = append(c.bus.channels[c.name], c.sub)
	c.bus.mu.Unlock()
	return nil
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub == nil {
		return nil
	}

	c.bus.mu.Lock()
	subs := c.bus.channels[c.name][:0]
	for _, s := range c.bus.channels[c.name] {
		if s != sub {
			subs = append(subs, s)
		}
	}
	if len(subs) == 0 {
		delete(c.bus.channels, c.name)
	} else {
		c.bus.channels[c.name] = subs
	}
	c.bus.mu.Unlock()
	return nil
}
