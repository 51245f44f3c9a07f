package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
)

// MeshCoordinator owns one participant's side of a full-mesh group call:
// the shared local media source and one peer link per other active
// participant, keyed by user id. One coordinator exists per active
// membership; it reacts to roster events to keep the live-link set equal to
// the set of other participants with left_at = null.
type MeshCoordinator struct {
	groupID  domain.GroupCallID
	self     domain.UserID
	callType domain.CallType

	media ports.MediaSource
	links ports.PeerLinkFactory
	bus   ports.SignalBus

	mu     sync.Mutex
	peers  map[domain.UserID]ports.PeerLink
	closed bool
	cancel context.CancelFunc

	logger *zap.SugaredLogger
}

// RosterSnapshot resolves the group call's currently active participants.
// JoinMesh calls it only after the roster watch is live.
type RosterSnapshot func(ctx context.Context) ([]*domain.GroupCallParticipant, error)

// JoinMesh acquires local media and stands up this participant's corner of
// the mesh: answerer links toward every already-active participant, a
// roster watch that opens initiator links toward later joiners and tears
// down links of leavers. The watch is subscribed before the roster snapshot
// is taken, so a join landing in between is seen by at least one of the two
// paths; openLink deduplicates the overlap. For the group creator, roster is
// nil and the invitees connect back through the roster path.
func JoinMesh(ctx context.Context, groupID domain.GroupCallID, self domain.UserID, callType domain.CallType, roster RosterSnapshot, provider ports.MediaProvider, links ports.PeerLinkFactory, bus ports.SignalBus, logger *zap.SugaredLogger) (*MeshCoordinator, error) {
	media, err := provider.Acquire(ctx, callType)
	if err != nil {
		return nil, err
	}

	c := &MeshCoordinator{
		groupID:  groupID,
		self:     self,
		callType: callType,
		media:    media,
		links:    links,
		bus:      bus,
		peers:    make(map[domain.UserID]ports.PeerLink),
		logger:   logger,
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if err := bus.WatchRoster(watchCtx, groupID, c.onRoster); err != nil {
		cancel()
		media.Close()
		return nil, fmt.Errorf("failed to watch roster of %s: %w", groupID, err)
	}

	var existing []*domain.GroupCallParticipant
	if roster != nil {
		existing, err = roster(ctx)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to load participants of %s: %w", groupID, err)
		}
	}

	for _, p := range existing {
		if p.UserID == self {
			continue
		}
		if err := c.openLink(ctx, p.UserID, false); err != nil {
			// Partial mesh failure is isolated: the other pairwise links
			// are unaffected, this participant's tile stays empty.
			logger.Warnw("pairwise link failed",
				"group_call_id", groupID,
				"remote_id", p.UserID,
				"error", err,
			)
		}
	}

	logger.Infow("joined mesh",
		"group_call_id", groupID,
		"self_id", self,
		"existing_links", len(c.peers),
	)
	return c, nil
}

// onRoster keeps the link set consistent with the active roster.
func (c *MeshCoordinator) onRoster(ev domain.RosterEvent) {
	if ev.UserID == c.self {
		return
	}

	switch ev.Kind {
	case domain.RosterJoined:
		if err := c.openLink(context.Background(), ev.UserID, true); err != nil {
			c.logger.Warnw("pairwise link failed",
				"group_call_id", c.groupID,
				"remote_id", ev.UserID,
				"error", err,
			)
		}
	case domain.RosterLeft:
		c.closeLink(ev.UserID)
	}
}

// openLink creates the pairwise link toward remote unless one already
// exists. Both ends derive the identical channel name from the sorted pair.
func (c *MeshCoordinator) openLink(ctx context.Context, remote domain.UserID, initiator bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrLinkClosed
	}
	if _, exists := c.peers[remote]; exists {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	link, err := c.links.NewLink(ports.LinkConfig{
		SelfID:      c.self,
		RemoteID:    remote,
		ChannelName: domain.PairChannelName(c.groupID, c.self, remote),
		Initiator:   initiator,
		Media:       c.media,
		OnClosed:    c.dropLink,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		link.Close()
		return domain.ErrLinkClosed
	}
	if _, exists := c.peers[remote]; exists {
		// A concurrent join already produced this link.
		c.mu.Unlock()
		link.Close()
		return nil
	}
	c.peers[remote] = link
	c.mu.Unlock()

	if err := link.Open(ctx); err != nil {
		c.closeLink(remote)
		return err
	}

	c.logger.Infow("pairwise link open",
		"group_call_id", c.groupID,
		"remote_id", remote,
		"initiator", initiator,
	)
	return nil
}

// closeLink tears down the link toward one departed participant.
func (c *MeshCoordinator) closeLink(remote domain.UserID) {
	c.mu.Lock()
	link, ok := c.peers[remote]
	delete(c.peers, remote)
	c.mu.Unlock()

	if !ok {
		return
	}
	if err := link.Close(); err != nil {
		c.logger.Warnw("pairwise link close failed",
			"group_call_id", c.groupID,
			"remote_id", remote,
			"error", err,
		)
	}
}

// dropLink is the OnClosed callback: the remote side ended the pair.
func (c *MeshCoordinator) dropLink(remote domain.UserID) {
	c.mu.Lock()
	delete(c.peers, remote)
	c.mu.Unlock()
}

func (c *MeshCoordinator) GroupID() domain.GroupCallID {
	return c.groupID
}

// LiveLinks reports the number of currently held pairwise links.
func (c *MeshCoordinator) LiveLinks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

func (c *MeshCoordinator) ToggleMute() bool {
	enabled := !c.media.AudioEnabled()
	c.media.SetAudioEnabled(enabled)
	return enabled
}

func (c *MeshCoordinator) ToggleVideo() bool {
	enabled := !c.media.VideoEnabled()
	c.media.SetVideoEnabled(enabled)
	return enabled
}

// Close releases every owned link, the roster watch and the media source.
// Idempotent; repeated teardown is a no-op.
func (c *MeshCoordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	links := make([]ports.PeerLink, 0, len(c.peers))
	for _, link := range c.peers {
		links = append(links, link)
	}
	c.peers = make(map[domain.UserID]ports.PeerLink)
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	for _, link := range links {
		if err := link.Close(); err != nil {
			c.logger.Warnw("pairwise link close failed", "group_call_id", c.groupID, "error", err)
		}
	}
	if err := c.media.Close(); err != nil {
		c.logger.Warnw("media source close failed", "group_call_id", c.groupID, "error", err)
	}

	c.logger.Infow("left mesh", "group_call_id", c.groupID, "self_id", c.self)
	return nil
}
