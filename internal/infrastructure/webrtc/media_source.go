package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
)

// StaticProvider acquires RTP-fed local media sources. The embedding
// application pushes captured packets in through WriteAudioRTP and
// WriteVideoRTP; every peer link sharing the source carries the same
// tracks.
type StaticProvider struct{}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

func (p *StaticProvider) Acquire(_ context.Context, callType domain.CallType) (ports.MediaSource, error) {
	streamID := uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	source := &staticSource{
		audio:        audio,
		audioEnabled: true,
	}

	if callType == domain.CallTypeVideo {
		video, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video",
			streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		source.video = video
		source.videoEnabled = true
	}

	return source, nil
}

// staticSource gates packet flow on the enabled flags. Muting drops
// packets at the source instead of renegotiating any link.
type staticSource struct {
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	mu           sync.Mutex
	audioEnabled bool
	videoEnabled bool
	closed       bool
}

func (s *staticSource) AudioTrack() webrtc.TrackLocal {
	return s.audio
}

func (s *staticSource) VideoTrack() webrtc.TrackLocal {
	if s.video == nil {
		return nil
	}
	return s.video
}

// WriteAudioRTP forwards one captured audio packet to every bound link.
// Packets are silently dropped while audio is muted.
func (s *staticSource) WriteAudioRTP(packet *rtp.Packet) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrMediaUnavailable
	}
	enabled := s.audioEnabled
	s.mu.Unlock()

	if !enabled {
		return nil
	}
	return s.audio.WriteRTP(packet)
}

// WriteVideoRTP forwards one captured video packet. Dropped while video is
// disabled; an error for voice-only sources.
func (s *staticSource) WriteVideoRTP(packet *rtp.Packet) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrMediaUnavailable
	}
	if s.video == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: source has no video track", domain.ErrMediaUnavailable)
	}
	enabled := s.videoEnabled
	s.mu.Unlock()

	if !enabled {
		return nil
	}
	return s.video.WriteRTP(packet)
}

func (s *staticSource) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audioEnabled = enabled
	s.mu.Unlock()
}

func (s *staticSource) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.videoEnabled = enabled
	s.mu.Unlock()
}

func (s *staticSource) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioEnabled
}

func (s *staticSource) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoEnabled
}

func (s *staticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
