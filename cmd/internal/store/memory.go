package store

import (
	"context"
	"sync"

	"ripple/cmd/internal/chat"
)

const memMaxMessagesPerConversation = 10_000

// InMemoryStore is a dev/test fallback used when Redis is not configured.
// It mirrors the RedisStore semantics: append-order retrieval, negative-index
// ranges, idempotent monotonic seen cursors.
type InMemoryStore struct {
	mu    sync.Mutex
	convs map[string]*memConv
}

type memConv struct {
	msgs []chat.Message
	seen map[string]string // user id -> message id
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{convs: make(map[string]*memConv)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) conv(conversationID string) *memConv {
	c := s.convs[conversationID]
	if c == nil {
		c = &memConv{seen: make(map[string]string)}
		s.convs[conversationID] = c
	}
	return c
}

// Append persists msg at the end of the conversation's log.
func (s *InMemoryStore) Append(ctx context.Context, conversationID string, msg chat.Message) error {
	if err := validateAppend(conversationID, msg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conv(conversationID)
	c.msgs = append(c.msgs, msg)

	// Bound memory to avoid unbounded growth in dev.
	if len(c.msgs) > memMaxMessagesPerConversation {
		c.msgs = c.msgs[len(c.msgs)-memMaxMessagesPerConversation:]
	}
	return nil
}

// Range returns messages by position with the Redis negative-index convention.
func (s *InMemoryStore) Range(ctx context.Context, conversationID string, start, stop int64) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil || len(c.msgs) == 0 {
		return nil, nil
	}

	n := int64(len(c.msgs))
	lo, hi := start, stop
	if lo < 0 {
		lo += n
	}
	if hi < 0 {
		hi += n
	}
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	if lo > hi || lo >= n {
		return nil, nil
	}

	out := make([]chat.Message, hi-lo+1)
	copy(out, c.msgs[lo:hi+1])
	return out, nil
}

// RecordSeen upserts the seen cursor; older ids never overwrite newer ones.
func (s *InMemoryStore) RecordSeen(ctx context.Context, conversationID, userID, messageID string) error {
	if conversationID == "" || userID == "" || messageID == "" {
		return chat.ErrValidation
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conv(conversationID)
	if current, ok := c.seen[userID]; ok && messageID < current {
		return nil
	}
	c.seen[userID] = messageID
	return nil
}

// GetSeen returns the recorded cursor or ErrSeenNotFound.
func (s *InMemoryStore) GetSeen(ctx context.Context, conversationID, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return "", ErrSeenNotFound
	}
	id, ok := c.seen[userID]
	if !ok {
		return "", ErrSeenNotFound
	}
	return id, nil
}
