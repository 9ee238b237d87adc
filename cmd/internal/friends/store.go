// Package friends manages friend requests and the friendship graph backing
// the chat and friend lists.
package friends

import "context"

// Store is the persistence boundary for requests and friendships. The
// friendship relation is symmetric: AddFriendship records both directions.
type Store interface {
	AddRequest(ctx context.Context, toID, fromID string) error
	HasRequest(ctx context.Context, toID, fromID string) (bool, error)
	RemoveRequest(ctx context.Context, toID, fromID string) error

	AddFriendship(ctx context.Context, a, b string) error
	IsFriend(ctx context.Context, userID, otherID string) (bool, error)
	Friends(ctx context.Context, userID string) ([]string, error)
}

// RequestsKey is the pending-request set for a user.
func RequestsKey(userID string) string {
	return "user:" + userID + ":incoming_friend_requests"
}

// FriendsKey is the friendship set for a user.
func FriendsKey(userID string) string {
	return "user:" + userID + ":friends"
}
