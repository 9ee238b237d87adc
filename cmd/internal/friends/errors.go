package friends

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrSelfRequest      = errors.New("cannot send a friend request to yourself")
	ErrAlreadyFriends   = errors.New("already friends")
	ErrAlreadyRequested = errors.New("friend request already pending")
	ErrNoRequest        = errors.New("no pending friend request")
)
