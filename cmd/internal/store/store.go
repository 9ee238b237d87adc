// Package store contains the durable side of the messaging core: the
// append-only per-conversation message log and the per-conversation seen
// cursors, backed by a Redis-compatible key/value + sorted-set service.
package store

import (
	"context"
	"errors"
	"fmt"

	"ripple/cmd/internal/chat"
)

var (
	// ErrUnavailable marks a backend I/O failure. The operation was aborted
	// with no partial state; the caller decides whether to retry.
	ErrUnavailable = errors.New("store unavailable")
	// ErrSeenNotFound is the not-found sentinel for seen-cursor lookups.
	ErrSeenNotFound = errors.New("seen cursor not found")
)

// MessageStore persists and queries conversation logs and seen cursors.
//
// Requirements:
//   - Append-only log, retrieval preserves append order
//   - Range supports the negative-index convention (0,-1 = all; -n,-1 = last n)
//   - RecordSeen is idempotent and never regresses the cursor
type MessageStore interface {
	Append(ctx context.Context, conversationID string, msg chat.Message) error
	Range(ctx context.Context, conversationID string, start, stop int64) ([]chat.Message, error)
	RecordSeen(ctx context.Context, conversationID, userID, messageID string) error
	GetSeen(ctx context.Context, conversationID, userID string) (string, error)
	Close() error
}

// MessagesKey is the sorted-set key holding a conversation's log.
func MessagesKey(conversationID string) string {
	return "chat:" + conversationID + ":messages"
}

// SeenKey is the hash key holding a conversation's seen cursors.
func SeenKey(conversationID string) string {
	return "chat:" + conversationID + ":seen"
}

func validateAppend(conversationID string, msg chat.Message) error {
	if conversationID == "" {
		return fmt.Errorf("%w: missing conversation id", chat.ErrValidation)
	}
	if msg.ID == "" || msg.SenderID == "" || msg.ReceiverID == "" || msg.Text == "" {
		return fmt.Errorf("%w: incomplete message", chat.ErrValidation)
	}
	if msg.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", chat.ErrValidation)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrUnavailable, err))
}
