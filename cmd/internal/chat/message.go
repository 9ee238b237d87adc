// Package chat holds the direct-messaging domain model: conversation ids,
// messages, and the error taxonomy shared by the services built on top.
package chat

import (
	"strings"
	"time"

	"ripple/cmd/internal/ids"
)

// Max message text length (runes).
const MaxMessageChars = 4000

// Message is one immutable entry of a conversation log.
// JSON field names are wire-stable: persisted log entries and live events
// share this exact shape.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// NewMessage constructs a message with a fresh ULID and the given send time
// (epoch milliseconds).
func NewMessage(senderID, receiverID, text string, now time.Time) (Message, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Timestamp:  now.UnixMilli(),
	}, nil
}

// ValidateText checks message text constraints: non-empty after trimming,
// bounded length. It returns the trimmed text.
func ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrValidation
	}
	if len([]rune(text)) > MaxMessageChars {
		return "", ErrValidation
	}
	return text, nil
}
