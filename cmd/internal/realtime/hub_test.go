package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ripple/cmd/internal/bus"
	v1 "ripple/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingSubscriber tracks subscription lifecycle per topic.
type countingSubscriber struct {
	mu         sync.Mutex
	subscribed map[string]int
	active     map[string]int
}

func newCountingSubscriber() *countingSubscriber {
	return &countingSubscriber{
		subscribed: make(map[string]int),
		active:     make(map[string]int),
	}
}

func (s *countingSubscriber) Subscribe(_ context.Context, topic string, _ bus.Handler) (bus.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed[topic]++
	s.active[topic]++
	return &countingSub{owner: s, topic: topic}, nil
}

func (s *countingSubscriber) counts(topic string) (subscribed, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[topic], s.active[topic]
}

type countingSub struct {
	owner *countingSubscriber
	topic string
	once  sync.Once
}

func (s *countingSub) Unsubscribe() error {
	s.once.Do(func() {
		s.owner.mu.Lock()
		s.owner.active[s.topic]--
		s.owner.mu.Unlock()
	})
	return nil
}

func TestHubOneSubscriptionPerTopic(t *testing.T) {
	t.Parallel()

	sub := newCountingSubscriber()
	h := NewHub(testLogger(), sub)
	ctx := context.Background()

	a := NewClient("alice", "sess-a", 8)
	b := NewClient("bob", "sess-b", 8)

	topic := v1.ChatTopic("alice--bob")
	if err := h.Join(ctx, topic, a); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if err := h.Join(ctx, topic, b); err != nil {
		t.Fatalf("join b: %v", err)
	}

	if subscribed, active := sub.counts(topic); subscribed != 1 || active != 1 {
		t.Fatalf("subscribed=%d active=%d, want one shared subscription", subscribed, active)
	}

	// First leave keeps the subscription, last leave drops it.
	h.Leave(topic, "sess-a")
	if _, active := sub.counts(topic); active != 1 {
		t.Fatalf("subscription dropped while a member remains")
	}
	h.Leave(topic, "sess-b")
	if _, active := sub.counts(topic); active != 0 {
		t.Fatalf("subscription not dropped after last leave")
	}

	// Rejoining re-subscribes.
	if err := h.Join(ctx, topic, a); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if subscribed, active := sub.counts(topic); subscribed != 2 || active != 1 {
		t.Fatalf("rejoin: subscribed=%d active=%d", subscribed, active)
	}
}

func TestHubDeliversBusEvents(t *testing.T) {
	t.Parallel()

	b := bus.NewInMemoryBus()
	defer b.Close()

	h := NewHub(testLogger(), b)
	ctx := context.Background()

	client := NewClient("alice", "sess-1", 8)
	topic := v1.UserChatsTopic("alice")
	if err := h.Join(ctx, topic, client); err != nil {
		t.Fatalf("join: %v", err)
	}

	payload := v1.MessagePayload{ID: "m1", SenderID: "bob", ReceiverID: "alice", Text: "hi", Timestamp: 1}
	if err := b.Publish(ctx, topic, v1.TypeNewMessage, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-client.Send:
		if env.Type != v1.TypeNewMessage || env.Topic != topic {
			t.Fatalf("delivered envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestTopicBroadcastDropsOnBackpressure(t *testing.T) {
	t.Parallel()

	topic := NewTopic(testLogger(), "user:alice:chats")
	client := NewClient("alice", "sess-1", 1)
	topic.Join(client)

	env := v1.Envelope{V: v1.Version, Type: v1.TypeNewMessage}
	topic.Broadcast(env) // fills the queue
	topic.Broadcast(env) // must drop, not block

	if got := len(client.Send); got != 1 {
		t.Fatalf("queue len=%d, want 1 (second broadcast dropped)", got)
	}
}

func TestTopicSkipsClosedClients(t *testing.T) {
	t.Parallel()

	topic := NewTopic(testLogger(), "user:alice:chats")
	client := NewClient("alice", "sess-1", 8)
	topic.Join(client)
	client.Close()

	topic.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeNewMessage})
	if got := len(client.Send); got != 0 {
		t.Fatalf("closed client received %d envelopes", got)
	}
}
