package chat

import "errors"

var (
	// Caller contract violations
	ErrMissingUserID  = errors.New("missing user id")
	ErrMissingContent = errors.New("missing message content")
	ErrNoConversation = errors.New("no active conversation")
	ErrBothTargets    = errors.New("message cannot address both a peer and a room")
	ErrUnknownMessage = errors.New("unknown local message")

	// Connection state
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("session closed")
)
