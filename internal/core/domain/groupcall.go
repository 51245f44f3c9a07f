package domain

import "time"

type GroupCallID string

type GroupCallStatus string

const (
	GroupCallStatusActive GroupCallStatus = "active"
	GroupCallStatusEnded  GroupCallStatus = "ended"
)

// GroupCall is an N-way mesh session record.
type GroupCall struct {
	ID              GroupCallID
	InitiatorID     UserID
	CallType        CallType
	Status          GroupCallStatus
	Title           string
	MaxParticipants int
	StartedAt       time.Time
	EndedAt         *time.Time
}

// GroupCallParticipant is one membership row. LeftAt == nil means the
// participant is currently in the call.
type GroupCallParticipant struct {
	ID          string
	GroupCallID GroupCallID
	UserID      UserID
	JoinedAt    time.Time
	LeftAt      *time.Time
}

// GroupInvite is the out-of-band event that notifies invitees of a new
// group call. It travels on the global invite channel, never on the
// per-pair signaling channels.
type GroupInvite struct {
	GroupCallID GroupCallID `json:"group_call_id"`
	InitiatorID UserID      `json:"initiator_id"`
	CallType    CallType    `json:"call_type"`
	InviteeIDs  []UserID    `json:"invitee_ids"`
	Title       string      `json:"title,omitempty"`
}

type RosterEventKind string

const (
	RosterJoined RosterEventKind = "joined"
	RosterLeft   RosterEventKind = "left"
)

// RosterEvent is a row-level change on the participant relation of one
// group call, consumed by mesh coordinators to open and tear down
// pairwise links.
type RosterEvent struct {
	Kind        RosterEventKind `json:"kind"`
	GroupCallID GroupCallID     `json:"group_call_id"`
	UserID      UserID          `json:"user_id"`
}
