package ports

import (
	"context"

	"github.com/pion/webrtc/v3"

	"meshcall/internal/core/domain"
)

// PeerLink wraps one bidirectional media connection to exactly one remote
// party. A link is exclusively owned by the session or mesh coordinator
// that created it. Close tears the link down, broadcasts end-call on its
// channel, and is idempotent.
type PeerLink interface {
	RemoteID() domain.UserID
	Open(ctx context.Context) error
	// RemoteTracks returns the remote media tracks received so far, grouped
	// by stream id. Tracks that arrive without a stream grouping are
	// collected under one composite stream.
	RemoteTracks() map[string][]*webrtc.TrackRemote
	Close() error
}

// LinkConfig describes one pairwise link to establish.
type LinkConfig struct {
	SelfID      domain.UserID
	RemoteID    domain.UserID
	ChannelName string
	Initiator   bool
	Media       MediaSource
	// OnRemoteTrack, when set, is invoked as each remote track starts, with
	// the stream id the track was grouped under.
	OnRemoteTrack func(remote domain.UserID, streamID string, track *webrtc.TrackRemote)
	// OnClosed, when set, is invoked once when the link is torn down
	// (locally or by a remote end-call).
	OnClosed func(remote domain.UserID)
}

type PeerLinkFactory interface {
	NewLink(cfg LinkConfig) (PeerLink, error)
}
