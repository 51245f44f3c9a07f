package ports

import (
	"context"

	"github.com/pion/webrtc/v3"

	"meshcall/internal/core/domain"
)

// MediaSource is one acquired local capture handle: an audio track and, for
// video calls, a video track. Toggling enabled flags gates the media flow
// without renegotiating any peer link. Close is idempotent.
type MediaSource interface {
	AudioTrack() webrtc.TrackLocal
	// VideoTrack returns nil for voice-only sources.
	VideoTrack() webrtc.TrackLocal

	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	AudioEnabled() bool
	VideoEnabled() bool

	Close() error
}

// MediaProvider acquires the local media source. Acquisition failure is
// fatal for the call attempt that requested it; callers must not retry.
type MediaProvider interface {
	Acquire(ctx context.Context, callType domain.CallType) (MediaSource, error)
}
