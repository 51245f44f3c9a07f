package domain

import "time"

type UserID string

type CallID string

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// CallStatus is the lifecycle state of a 1:1 call record. Values are
// persisted, keep them stable.
type CallStatus string

const (
	CallStatusCalling  CallStatus = "calling"
	CallStatusAccepted CallStatus = "accepted"
	CallStatusRejected CallStatus = "rejected"
	CallStatusMissed   CallStatus = "missed"
	CallStatusEnded    CallStatus = "ended"
)

// IsTerminal reports whether no further transition may leave the status.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusRejected, CallStatusMissed, CallStatusEnded:
		return true
	}
	return false
}

// CanTransitionTo enforces the monotonic lifecycle:
// calling -> accepted|rejected|missed, accepted -> ended.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallStatusCalling:
		return next == CallStatusAccepted || next == CallStatusRejected || next == CallStatusMissed
	case CallStatusAccepted:
		return next == CallStatusEnded
	}
	return false
}

// Call is a single 1:1 call record. Immutable once the status is terminal.
type Call struct {
	ID              CallID
	CallerID        UserID
	CalleeID        UserID
	CallType        CallType
	Status          CallStatus
	CreatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
}

// CallLogEntry is the one-time record of a terminal call outcome, appended
// exactly once per call. It is the system of record for history and billing.
type CallLogEntry struct {
	CallID          CallID
	CallerID        UserID
	CalleeID        UserID
	CallType        CallType
	Status          CallStatus
	DurationSeconds int
	CreatedAt       time.Time
}
