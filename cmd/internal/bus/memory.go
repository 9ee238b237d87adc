package bus

import (
	"context"
	"sync"
	"time"

	v1 "ripple/shared/contracts/chat/v1"
)

const memSubQueueSize = 64

// InMemoryBus is a single-process Bus used in tests and when no broker is
// configured. It reproduces the relay's weak guarantees: per-subscriber
// buffered queues, drop on backpressure, no replay.
type InMemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[*memSub]struct{}
	closed bool
}

type memSub struct {
	bus   *InMemoryBus
	topic string
	ch    chan v1.Envelope
	done  chan struct{}
	once  sync.Once
}

// NewInMemoryBus constructs an in-memory Bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{topics: make(map[string]map[*memSub]struct{})}
}

// Publish fans the event out to current subscribers of topic.
// Full subscriber queues are skipped rather than blocking the publisher.
func (b *InMemoryBus) Publish(ctx context.Context, topic, eventType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env, err := NewEnvelope(topic, eventType, payload, time.Now().UTC())
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrUnavailable
	}

	for sub := range b.topics[topic] {
		select {
		case <-sub.done:
			continue
		default:
		}

		select {
		case sub.ch <- env:
		default:
			// Drop rather than block the whole topic.
		}
	}
	return nil
}

// Subscribe attaches h to topic. Events published before this call are never
// delivered.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memSub{
		bus:   b,
		topic: topic,
		ch:    make(chan v1.Envelope, memSubQueueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrUnavailable
	}
	set := b.topics[topic]
	if set == nil {
		set = make(map[*memSub]struct{})
		b.topics[topic] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case env := <-sub.ch:
				h(env)
			}
		}
	}()

	return sub, nil
}

// Close tears down all subscriptions.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.topics {
		for sub := range set {
			sub.close()
		}
	}
	b.topics = make(map[string]map[*memSub]struct{})
	return nil
}

func (s *memSub) Unsubscribe() error {
	s.bus.mu.Lock()
	if set := s.bus.topics[s.topic]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	s.bus.mu.Unlock()

	s.close()
	return nil
}

func (s *memSub) close() {
	s.once.Do(func() { close(s.done) })
}
