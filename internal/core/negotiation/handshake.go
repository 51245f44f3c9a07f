// Package negotiation holds the race-sensitive parts of the peer link
// handshake as plain guarded state, independent of any transport or
// webrtc engine, so interleavings can be tested directly.
package negotiation

import "sync"

// Handshake tracks the readiness flags of one peer link and decides when
// the offer may be sent. Subscription confirmation and the remote
// peer-ready broadcast arrive in either order, so the offer-send check is
// evaluated on both triggers and guarded to fire at most once.
type Handshake struct {
	mu sync.Mutex

	initiator    bool
	channelReady bool
	peerReady    bool
	offerSent    bool
}

func NewHandshake(initiator bool) *Handshake {
	return &Handshake{initiator: initiator}
}

func (h *Handshake) IsInitiator() bool {
	return h.initiator
}

// ChannelConfirmed records that our own channel subscription is ready.
// It returns true when the initiator should send the offer now.
func (h *Handshake) ChannelConfirmed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channelReady = true
	return h.claimOffer()
}

// PeerReadyReceived records the remote party's peer-ready broadcast.
// It returns true when the initiator should send the offer now.
func (h *Handshake) PeerReadyReceived() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peerReady = true
	return h.claimOffer()
}

// FallbackFired is invoked by the bounded fallback timer armed after our
// own subscription is confirmed. The remote peer-ready may have been lost
// (the channel gives no delivery guarantee), so the offer is sent without
// waiting for it, still at most once and never before the channel is
// ready.
func (h *Handshake) FallbackFired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initiator || !h.channelReady || h.offerSent {
		return false
	}
	h.offerSent = true
	return true
}

// OfferFailed releases the offer claim after a failed create or send, so
// the next trigger (a late peer-ready or the fallback timer) may retry
// instead of the link staying stuck with an offer that never went out.
func (h *Handshake) OfferFailed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offerSent = false
}

// CanPublishCandidates reports whether locally generated ICE candidates may
// be broadcast. Candidates generated before the subscription is confirmed
// are dropped; the transport would discard them anyway.
func (h *Handshake) CanPublishCandidates() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channelReady
}

func (h *Handshake) OfferSent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offerSent
}

// claimOffer flips offerSent when both readiness flags hold on the
// initiator side. Callers must hold mu.
func (h *Handshake) claimOffer() bool {
	if !h.initiator || !h.channelReady || !h.peerReady || h.offerSent {
		return false
	}
	h.offerSent = true
	return true
}
