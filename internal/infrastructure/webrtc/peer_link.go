package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/negotiation"
	"meshcall/internal/core/ports"
	"meshcall/internal/infrastructure/monitoring"
)

// Config holds the WebRTC engine settings shared by all links.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// OfferFallbackDelay bounds how long an initiator waits for the remote
	// peer-ready broadcast before sending the offer anyway.
	OfferFallbackDelay time.Duration
}

// LinkFactory builds pion-backed peer links on channels opened from the
// signal bus.
type LinkFactory struct {
	config  Config
	bus     ports.SignalBus
	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger
}

func NewLinkFactory(config Config, bus ports.SignalBus, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *LinkFactory {
	return &LinkFactory{
		config:  config,
		bus:     bus,
		metrics: metrics,
		logger:  logger,
	}
}

func (f *LinkFactory) NewLink(cfg ports.LinkConfig) (ports.PeerLink, error) {
	pc, err := f.createPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	return &peerLink{
		cfg:           cfg,
		pc:            pc,
		channel:       f.bus.OpenChannel(cfg.ChannelName, cfg.SelfID),
		handshake:     negotiation.NewHandshake(cfg.Initiator),
		candidates:    negotiation.NewCandidateBuffer(),
		remote:        make(map[string][]*webrtc.TrackRemote),
		fallbackDelay: f.config.OfferFallbackDelay,
		metrics:       f.metrics,
		logger: f.logger.With(
			"channel", cfg.ChannelName,
			"self", cfg.SelfID,
			"remote", cfg.RemoteID,
		),
	}, nil
}

func (f *LinkFactory) createPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max)
	}

	// The engine must know the codecs before tracks are added, or offers
	// for locally attached tracks cannot be created.
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)
	return api.NewPeerConnection(config)
}

// peerLink is one pairwise media connection. The initiator end sends the
// offer, the other end answers; both ends exchange ICE candidates on the
// link's signaling channel. Remote candidates arriving before the remote
// description are buffered and applied in arrival order.
type peerLink struct {
	cfg           ports.LinkConfig
	pc            *webrtc.PeerConnection
	channel       ports.SignalChannel
	handshake     *negotiation.Handshake
	candidates    *negotiation.CandidateBuffer
	fallbackDelay time.Duration
	metrics       *monitoring.PrometheusCollector
	logger        *zap.SugaredLogger

	openedAt time.Time

	remoteMu sync.Mutex
	remote   map[string][]*webrtc.TrackRemote

	mu       sync.Mutex
	opened   bool
	closed   bool
	fallback *time.Timer
}

// compositeStreamID groups remote tracks that arrive without a stream id of
// their own, so callers always see tracks through stream-keyed groups.
const compositeStreamID = "composite"

func (l *peerLink) RemoteID() domain.UserID {
	return l.cfg.RemoteID
}

func (l *peerLink) Open(ctx context.Context) error {
	l.openedAt = time.Now()

	if _, err := l.addTrack(l.cfg.Media.AudioTrack()); err != nil {
		l.pc.Close()
		return fmt.Errorf("failed to add audio track: %w", err)
	}
	if video := l.cfg.Media.VideoTrack(); video != nil {
		if _, err := l.addTrack(video); err != nil {
			l.pc.Close()
			return fmt.Errorf("failed to add video track: %w", err)
		}
	}

	l.pc.OnICECandidate(l.handleLocalCandidate)
	l.pc.OnTrack(l.handleRemoteTrack)
	l.pc.OnConnectionStateChange(l.handleConnectionState)

	// Subscribe returns only once the subscription is confirmed, so from
	// here on nothing broadcast on the channel is missed.
	if err := l.channel.Subscribe(ctx, l.handleSignal); err != nil {
		l.pc.Close()
		return fmt.Errorf("failed to subscribe to signal channel: %w", err)
	}

	if l.handshake.ChannelConfirmed() {
		l.sendOffer(ctx)
	}

	// Tell the other end we are listening. Delivery is not guaranteed, the
	// fallback timer below covers the lost case.
	if err := l.sendSignal(ctx, domain.SignalMessage{Kind: domain.SignalPeerReady}); err != nil {
		l.logger.Warnw("failed to broadcast peer-ready", "error", err)
	}

	if l.handshake.IsInitiator() {
		l.mu.Lock()
		if !l.closed {
			l.fallback = time.AfterFunc(l.fallbackDelay, func() {
				if l.handshake.FallbackFired() {
					l.logger.Debugw("peer-ready not seen, sending offer on fallback")
					l.sendOffer(context.Background())
				}
			})
		}
		l.mu.Unlock()
	}

	l.mu.Lock()
	l.opened = true
	l.mu.Unlock()
	l.metrics.RecordLinkOpened()
	return nil
}

// sendSignal publishes one control message and counts it.
func (l *peerLink) sendSignal(ctx context.Context, msg domain.SignalMessage) error {
	if err := l.channel.Send(ctx, msg); err != nil {
		return err
	}
	l.metrics.RecordSignal(msg.Kind)
	return nil
}

// addTrack registers a local track and starts draining RTCP feedback for
// its sender.
func (l *peerLink) addTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go l.readSenderReports(sender)
	return sender, nil
}

func (l *peerLink) handleSignal(msg domain.SignalMessage) {
	ctx := context.Background()

	switch msg.Kind {
	case domain.SignalPeerReady:
		if l.handshake.PeerReadyReceived() {
			l.sendOffer(ctx)
		}

	case domain.SignalOffer:
		if l.handshake.IsInitiator() {
			l.logger.Warnw("ignoring offer received on initiator end")
			return
		}
		l.handleOffer(ctx, msg.SDP)

	case domain.SignalAnswer:
		if !l.handshake.IsInitiator() {
			l.logger.Warnw("ignoring answer received on answerer end")
			return
		}
		l.applyRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  msg.SDP,
		})

	case domain.SignalCandidate:
		l.handleRemoteCandidate(msg.Candidate)

	case domain.SignalEndCall:
		l.logger.Infow("remote ended the call")
		l.teardown(false)

	default:
		l.logger.Warnw("unknown signal kind", "kind", msg.Kind)
	}
}

// sendOffer creates and broadcasts the offer. On failure the handshake's
// offer claim is released so a late peer-ready or the fallback timer can
// retry instead of leaving the link stuck.
func (l *peerLink) sendOffer(ctx context.Context) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.handshake.OfferFailed()
		l.logger.Errorw("failed to create offer", "error", err)
		return
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.handshake.OfferFailed()
		l.logger.Errorw("failed to set local description", "error", err)
		return
	}
	if err := l.sendSignal(ctx, domain.SignalMessage{
		Kind: domain.SignalOffer,
		SDP:  offer.SDP,
	}); err != nil {
		l.handshake.OfferFailed()
		l.logger.Errorw("failed to send offer", "error", err)
		return
	}
	l.logger.Debugw("offer sent")
}

func (l *peerLink) handleOffer(ctx context.Context, sdp string) {
	if !l.applyRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}) {
		return
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		l.logger.Errorw("failed to create answer", "error", err)
		return
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		l.logger.Errorw("failed to set local description", "error", err)
		return
	}
	if err := l.sendSignal(ctx, domain.SignalMessage{
		Kind: domain.SignalAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		l.logger.Errorw("failed to send answer", "error", err)
		return
	}
	l.logger.Debugw("answer sent")
}

// applyRemoteDescription sets the remote description and flushes any
// candidates that arrived before it, in arrival order.
func (l *peerLink) applyRemoteDescription(desc webrtc.SessionDescription) bool {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		l.logger.Errorw("failed to set remote description", "type", desc.Type, "error", err)
		return false
	}
	for _, c := range l.candidates.RemoteDescriptionSet() {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.logger.Warnw("failed to add buffered candidate", "error", err)
		}
	}
	return true
}

func (l *peerLink) handleRemoteCandidate(payload string) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &candidate); err != nil {
		l.logger.Warnw("failed to unmarshal remote candidate", "error", err)
		return
	}
	if !l.candidates.Add(candidate) {
		return
	}
	if err := l.pc.AddICECandidate(candidate); err != nil {
		l.logger.Warnw("failed to add remote candidate", "error", err)
	}
}

func (l *peerLink) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	// Candidates generated before our subscription is confirmed are
	// dropped; the remote end could not be listening for them yet either.
	if !l.handshake.CanPublishCandidates() {
		l.logger.Debugw("dropping candidate generated before channel ready")
		return
	}

	payload, err := json.Marshal(c.ToJSON())
	if err != nil {
		l.logger.Warnw("failed to marshal local candidate", "error", err)
		return
	}
	if err := l.sendSignal(context.Background(), domain.SignalMessage{
		Kind:      domain.SignalCandidate,
		Candidate: string(payload),
	}); err != nil {
		l.logger.Warnw("failed to publish local candidate", "error", err)
	}
}

func (l *peerLink) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	streamID := l.recordRemoteTrack(track.StreamID(), track)
	l.logger.Infow("remote track started",
		"track_id", track.ID(),
		"stream_id", streamID,
		"codec", track.Codec().MimeType,
	)
	if l.cfg.OnRemoteTrack != nil {
		l.cfg.OnRemoteTrack(l.cfg.RemoteID, streamID, track)
	}
	go l.readReceiverReports(receiver)
	go l.drainRemoteTrack(track)
}

// recordRemoteTrack accumulates a remote track under its stream id. Some
// platforms deliver tracks loose, with no stream grouping at all; those are
// collected under a single composite stream so the remote always presents
// as stream-keyed groups. Returns the id the track was grouped under.
func (l *peerLink) recordRemoteTrack(streamID string, track *webrtc.TrackRemote) string {
	if streamID == "" {
		streamID = compositeStreamID
	}
	l.remoteMu.Lock()
	l.remote[streamID] = append(l.remote[streamID], track)
	l.remoteMu.Unlock()
	return streamID
}

// RemoteTracks returns a snapshot of the remote tracks accumulated so far,
// grouped by stream id.
func (l *peerLink) RemoteTracks() map[string][]*webrtc.TrackRemote {
	l.remoteMu.Lock()
	defer l.remoteMu.Unlock()
	out := make(map[string][]*webrtc.TrackRemote, len(l.remote))
	for id, tracks := range l.remote {
		out[id] = append([]*webrtc.TrackRemote(nil), tracks...)
	}
	return out
}

// drainRemoteTrack keeps the receive path flowing. Rendering is the
// embedding application's concern; the link only consumes and accounts for
// the packets.
func (l *peerLink) drainRemoteTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	packet := &rtp.Packet{}
	var count uint64

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			l.logger.Warnw("failed to unmarshal RTP packet", "track_id", track.ID(), "error", err)
			continue
		}
		count++
		if count%500 == 0 {
			l.logger.Debugw("receiving media",
				"track_id", track.ID(),
				"packets", count,
				"sequence", packet.SequenceNumber,
			)
		}
	}
}

// readSenderReports drains RTCP feedback for an outgoing track and logs
// loss and jitter reported by the remote end.
func (l *peerLink) readSenderReports(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		l.logReceptionReports(packets)
	}
}

func (l *peerLink) readReceiverReports(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		l.logReceptionReports(packets)
	}
}

func (l *peerLink) logReceptionReports(packets []rtcp.Packet) {
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				l.logger.Debugw("reception report",
					"fraction_lost", report.FractionLost,
					"jitter", report.Jitter,
				)
			}
		case *rtcp.PictureLossIndication:
			l.logger.Debugw("keyframe requested by remote")
		}
	}
}

func (l *peerLink) handleConnectionState(state webrtc.PeerConnectionState) {
	l.logger.Infow("link connection state changed", "state", state)
	switch state {
	case webrtc.PeerConnectionStateConnected:
		l.metrics.RecordLinkSetup(time.Since(l.openedAt))
	case webrtc.PeerConnectionStateFailed:
		go l.teardown(true)
	}
}

// Close tears the link down and broadcasts end-call so the remote end
// releases its half immediately.
func (l *peerLink) Close() error {
	l.teardown(true)
	return nil
}

func (l *peerLink) teardown(broadcast bool) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	opened := l.opened
	fallback := l.fallback
	l.mu.Unlock()

	if fallback != nil {
		fallback.Stop()
	}

	if broadcast {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := l.sendSignal(ctx, domain.SignalMessage{Kind: domain.SignalEndCall}); err != nil {
			l.logger.Debugw("failed to broadcast end-call", "error", err)
		}
		cancel()
	}

	if err := l.channel.Close(); err != nil {
		l.logger.Warnw("failed to close signal channel", "error", err)
	}
	if err := l.pc.Close(); err != nil {
		l.logger.Warnw("failed to close peer connection", "error", err)
	}

	if opened {
		l.metrics.RecordLinkClosed()
	}
	if l.cfg.OnClosed != nil {
		l.cfg.OnClosed(l.cfg.RemoteID)
	}
	l.logger.Infow("link closed")
}
