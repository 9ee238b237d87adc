package friends

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps requests and friendships in Redis sets.
//
// Layout (wire-stable, shared with the original web deployment):
//   - user:{id}:incoming_friend_requests  set of requester ids
//   - user:{id}:friends                   set of friend ids
//
// The store does not own the client; the caller closes it.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore constructs a Redis-backed friend store.
func NewRedisStore(rdb *redis.Client) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("friends: nil redis client")
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) AddRequest(ctx context.Context, toID, fromID string) error {
	if toID == "" || fromID == "" {
		return ErrInvalidInput
	}
	if err := s.rdb.SAdd(ctx, RequestsKey(toID), fromID).Err(); err != nil {
		return fmt.Errorf("friends: add request: %w", err)
	}
	return nil
}

func (s *RedisStore) HasRequest(ctx context.Context, toID, fromID string) (bool, error) {
	if toID == "" || fromID == "" {
		return false, ErrInvalidInput
	}
	ok, err := s.rdb.SIsMember(ctx, RequestsKey(toID), fromID).Result()
	if err != nil {
		return false, fmt.Errorf("friends: has request: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) RemoveRequest(ctx context.Context, toID, fromID string) error {
	if toID == "" || fromID == "" {
		return ErrInvalidInput
	}
	if err := s.rdb.SRem(ctx, RequestsKey(toID), fromID).Err(); err != nil {
		return fmt.Errorf("friends: remove request: %w", err)
	}
	return nil
}

// AddFriendship records both directions in one round trip.
func (s *RedisStore) AddFriendship(ctx context.Context, a, b string) error {
	if a == "" || b == "" {
		return ErrInvalidInput
	}
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, FriendsKey(a), b)
	pipe.SAdd(ctx, FriendsKey(b), a)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("friends: add friendship: %w", err)
	}
	return nil
}

func (s *RedisStore) IsFriend(ctx context.Context, userID, otherID string) (bool, error) {
	if userID == "" || otherID == "" {
		return false, ErrInvalidInput
	}
	ok, err := s.rdb.SIsMember(ctx, FriendsKey(userID), otherID).Result()
	if err != nil {
		return false, fmt.Errorf("friends: is friend: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Friends(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	ids, err := s.rdb.SMembers(ctx, FriendsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("friends: list friends: %w", err)
	}
	return ids, nil
}
