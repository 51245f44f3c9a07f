package domain

import (
	"fmt"
	"sort"
)

// SignalKind discriminates the closed set of control messages carried on a
// signaling channel. Handlers switch over it exhaustively.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
	SignalPeerReady SignalKind = "peer-ready"
	SignalEndCall   SignalKind = "end-call"
)

// SignalMessage is one control message on a signaling channel. Only the
// field matching Kind is populated: SDP for offer/answer, Candidate for
// ice-candidate. Messages are transient and never persisted.
type SignalMessage struct {
	Kind      SignalKind `json:"kind"`
	SenderID  UserID     `json:"sender_id"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"`
}

// InviteChannel is the single globally-scoped channel used only to announce
// new group calls to invitees.
const InviteChannel = "signal:invites"

// CallChannelName returns the signaling channel name for a 1:1 call.
func CallChannelName(id CallID) string {
	return fmt.Sprintf("signal:call:%s", id)
}

// PairChannelName returns the signaling channel name for one pairwise link
// inside a group call. The user ids are sorted lexicographically so both
// ends compute the identical name regardless of join order.
func PairChannelName(groupID GroupCallID, a, b UserID) string {
	pair := []string{string(a), string(b)}
	sort.Strings(pair)
	return fmt.Sprintf("signal:group:%s:%s:%s", groupID, pair[0], pair[1])
}

// RosterChannelName returns the channel carrying participant roster events
// for one group call.
func RosterChannelName(groupID GroupCallID) string {
	return fmt.Sprintf("signal:group:%s:roster", groupID)
}
