package chat

import "errors"

var (
	// ErrValidation marks bad input shape or content, rejected before any write.
	ErrValidation = errors.New("invalid input")
	// ErrForbidden marks a caller that is not a participant of the conversation.
	ErrForbidden = errors.New("not a participant")
	// ErrNotFound marks a conversation or user that does not resolve.
	ErrNotFound = errors.New("not found")
)
