package domain

import "errors"

var (
	ErrCallNotFound        = errors.New("call not found")
	ErrStatusConflict      = errors.New("call status changed concurrently")
	ErrGroupCallNotFound   = errors.New("group call not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidTransition   = errors.New("invalid call status transition")
	ErrGroupCallEnded      = errors.New("group call already ended")
	ErrGroupCallFull       = errors.New("group call participant limit reached")
	ErrMediaUnavailable    = errors.New("local media source unavailable")
	ErrChannelClosed       = errors.New("signaling channel closed")
	ErrLinkClosed          = errors.New("peer link closed")
)
