package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	v1 "ripple/shared/contracts/chat/v1"
)

// RedisBus is a Bus over Redis Pub/Sub.
//
// Redis Pub/Sub matches the required relay semantics exactly: no persistence,
// no replay, at-most-once to currently connected subscribers, FIFO per
// channel for a single publishing connection.
//
// Ownership model:
//   - RedisBus does NOT own the client. The caller must close it.
//   - Close() detaches the bus's own subscriptions only.
type RedisBus struct {
	log *slog.Logger
	rdb *redis.Client

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

type redisSub struct {
	bus    *RedisBus
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

// NewRedisBus constructs a Redis-backed Bus.
func NewRedisBus(log *slog.Logger, rdb *redis.Client) (*RedisBus, error) {
	if rdb == nil {
		return nil, errors.New("bus: nil redis client")
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisBus{
		log:  log,
		rdb:  rdb,
		subs: make(map[*redisSub]struct{}),
	}, nil
}

// Publish delivers the event to current subscribers of topic.
func (b *RedisBus) Publish(ctx context.Context, topic, eventType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env, err := NewEnvelope(topic, eventType, payload, time.Now().UTC())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := b.rdb.Publish(ctx, topic, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, errors.Join(ErrUnavailable, err))
	}
	return nil
}

// Subscribe attaches h to topic. The handler runs on a dedicated goroutine
// fed by the Redis subscription; malformed frames are logged and skipped.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrUnavailable
	}
	b.mu.Unlock()

	pubsub := b.rdb.Subscribe(ctx, topic)

	// Wait for the SUBSCRIBE ack so "no retroactive delivery" has a crisp
	// start point: everything published after Subscribe returns is eligible.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, errors.Join(ErrUnavailable, err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSub{
		bus:    b,
		pubsub: pubsub,
		cancel: cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		_ = pubsub.Close()
		return nil, ErrUnavailable
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env v1.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Warn("bus.frame.bad_json", "topic", topic, "err", err)
					continue
				}
				if err := env.Validate(); err != nil {
					b.log.Warn("bus.frame.bad_envelope", "topic", topic, "err", err)
					continue
				}
				h(env)
			}
		}
	}()

	return sub, nil
}

// Close detaches every live subscription created through this bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSub, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*redisSub]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.detach()
	}
	return nil
}

func (s *redisSub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()

	s.detach()
	return nil
}

func (s *redisSub) detach() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
	})
}
