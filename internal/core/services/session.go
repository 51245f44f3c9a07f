package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
)

// CallSession owns the runtime side of one accepted 1:1 call for one party:
// the acquired media source and the single peer link. It is created only
// after the callee answers; no negotiation happens while the call is still
// ringing.
type CallSession struct {
	call *domain.Call
	self domain.UserID

	media ports.MediaSource
	link  ports.PeerLink

	mu     sync.Mutex
	closed bool

	logger *zap.SugaredLogger
}

// DialCallSession acquires local media and opens the peer link for the
// call. The caller side joins as initiator, the callee as answerer. A media
// acquisition failure aborts before any channel is opened and is fatal for
// this call attempt.
func DialCallSession(ctx context.Context, call *domain.Call, self domain.UserID, provider ports.MediaProvider, links ports.PeerLinkFactory, onClosed func(), logger *zap.SugaredLogger) (*CallSession, error) {
	remote := call.CalleeID
	initiator := true
	if self == call.CalleeID {
		remote = call.CallerID
		initiator = false
	}

	media, err := provider.Acquire(ctx, call.CallType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}

	link, err := links.NewLink(ports.LinkConfig{
		SelfID:      self,
		RemoteID:    remote,
		ChannelName: domain.CallChannelName(call.ID),
		Initiator:   initiator,
		Media:       media,
		OnClosed: func(domain.UserID) {
			if onClosed != nil {
				onClosed()
			}
		},
	})
	if err != nil {
		media.Close()
		return nil, fmt.Errorf("failed to build peer link for call %s: %w", call.ID, err)
	}

	session := &CallSession{
		call:   call,
		self:   self,
		media:  media,
		link:   link,
		logger: logger,
	}

	if err := link.Open(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open peer link for call %s: %w", call.ID, err)
	}

	logger.Infow("call session established",
		"call_id", call.ID,
		"self_id", self,
		"remote_id", remote,
		"initiator", initiator,
	)
	return session, nil
}

func (s *CallSession) CallID() domain.CallID {
	return s.call.ID
}

func (s *CallSession) ToggleMute() bool {
	enabled := !s.media.AudioEnabled()
	s.media.SetAudioEnabled(enabled)
	return enabled
}

func (s *CallSession) ToggleVideo() bool {
	enabled := !s.media.VideoEnabled()
	s.media.SetVideoEnabled(enabled)
	return enabled
}

// Close releases the peer link and the media source. It is idempotent;
// repeated teardown is a no-op.
func (s *CallSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.link.Close(); err != nil {
		s.logger.Warnw("peer link close failed", "call_id", s.call.ID, "error", err)
	}
	if err := s.media.Close(); err != nil {
		s.logger.Warnw("media source close failed", "call_id", s.call.ID, "error", err)
	}

	s.logger.Infow("call session closed", "call_id", s.call.ID, "self_id", s.self)
	return nil
}
