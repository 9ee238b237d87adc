package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ripple/cmd/internal/chat"
)

// RedisStore is a MessageStore backed by a Redis-compatible service.
//
// Layout (wire-stable, shared with the original web deployment):
//   - chat:{conversationID}:messages  sorted set, score = timestamp (ms),
//     member = JSON-serialized message
//   - chat:{conversationID}:seen      hash, field = user id, value = message id
//
// Ownership model:
//   - RedisStore does NOT own the client. The caller must close it.
//   - Close() is therefore a no-op.
type RedisStore struct {
	rdb *redis.Client
}

// Message ids are ULIDs, so lexicographic comparison is a send-time
// comparison. The script refuses to move a seen cursor backwards while
// keeping re-recording the same id a silent success.
var recordSeenScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == false or ARGV[2] >= current then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

// NewRedisStore constructs a Redis-backed MessageStore.
func NewRedisStore(rdb *redis.Client) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("store: nil redis client")
	}
	return &RedisStore{rdb: rdb}, nil
}

// Close is a no-op because the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }

// Append persists msg at the end of the conversation's log.
// The zset score is the message timestamp; ULID members keep insertion order
// for same-millisecond appends because ZRANGE breaks score ties
// lexicographically.
func (s *RedisStore) Append(ctx context.Context, conversationID string, msg chat.Message) error {
	if err := validateAppend(conversationID, msg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}

	err = s.rdb.ZAdd(ctx, MessagesKey(conversationID), redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(raw),
	}).Err()
	if err != nil {
		return unavailable("append", err)
	}
	return nil
}

// Range returns the ordered message window [start, stop] by position.
// Negative indices follow the Redis convention; an unknown conversation
// yields an empty slice, not an error.
func (s *RedisStore) Range(ctx context.Context, conversationID string, start, stop int64) ([]chat.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: missing conversation id", chat.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := s.rdb.ZRange(ctx, MessagesKey(conversationID), start, stop).Result()
	if err != nil {
		return nil, unavailable("range", err)
	}

	out := make([]chat.Message, 0, len(raw))
	for _, entry := range raw {
		var msg chat.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			return nil, fmt.Errorf("range: corrupt log entry: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// RecordSeen upserts the seen cursor for userID. Idempotent; an id older
// than the stored cursor is a silent no-op so progress never regresses.
func (s *RedisStore) RecordSeen(ctx context.Context, conversationID, userID, messageID string) error {
	if conversationID == "" || userID == "" || messageID == "" {
		return fmt.Errorf("%w: missing field", chat.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := recordSeenScript.Run(ctx, s.rdb, []string{SeenKey(conversationID)}, userID, messageID).Err()
	if err != nil {
		return unavailable("record seen", err)
	}
	return nil
}

// GetSeen returns the last recorded message id for userID, or ErrSeenNotFound.
func (s *RedisStore) GetSeen(ctx context.Context, conversationID, userID string) (string, error) {
	if conversationID == "" || userID == "" {
		return "", fmt.Errorf("%w: missing field", chat.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := s.rdb.HGet(ctx, SeenKey(conversationID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSeenNotFound
	}
	if err != nil {
		return "", unavailable("get seen", err)
	}
	return id, nil
}
