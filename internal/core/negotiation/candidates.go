package negotiation

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// CandidateBuffer queues remote ICE candidates that arrive before the
// remote description is set. Candidate generation can outrace the
// offer/answer round-trip, so early arrivals are held in arrival order and
// drained FIFO the instant the remote description is applied. Later
// arrivals bypass the queue.
type CandidateBuffer struct {
	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

// Add offers a remote candidate. It returns true when the candidate should
// be applied immediately; false means it was queued.
func (b *CandidateBuffer) Add(c webrtc.ICECandidateInit) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remoteSet {
		return true
	}
	b.pending = append(b.pending, c)
	return false
}

// RemoteDescriptionSet marks the remote description as applied and returns
// the queued candidates in arrival order. Subsequent Add calls apply
// immediately.
func (b *CandidateBuffer) RemoteDescriptionSet() []webrtc.ICECandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remoteSet = true
	drained := b.pending
	b.pending = nil
	return drained
}

// Pending reports how many candidates are waiting for a remote description.
func (b *CandidateBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
