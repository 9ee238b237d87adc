package chat

import (
	"errors"
	"strings"
)

// conversation ids join the two participant ids with this separator.
// Participant ids must not contain it.
const idSeparator = "--"

// ConversationID derives the deterministic, order-independent id for a
// two-party conversation: the participant ids sorted lexicographically and
// joined with "--". ConversationID(a, b) == ConversationID(b, a).
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + idSeparator + b
}

// Participants splits a conversation id into its two participant ids.
func Participants(conversationID string) (string, string, error) {
	parts := strings.Split(conversationID, idSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("malformed conversation id")
	}
	return parts[0], parts[1], nil
}

// IsParticipant reports whether userID is one of the two ids encoded in
// conversationID.
func IsParticipant(conversationID, userID string) bool {
	a, b, err := Participants(conversationID)
	if err != nil {
		return false
	}
	return userID == a || userID == b
}

// Partner returns the other participant of a conversation.
func Partner(conversationID, userID string) (string, error) {
	a, b, err := Participants(conversationID)
	if err != nil {
		return "", err
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	default:
		return "", errors.New("not a participant")
	}
}
