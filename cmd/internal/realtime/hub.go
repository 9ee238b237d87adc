package realtime

import (
	"context"
	"log/slog"
	"sync"

	"ripple/cmd/internal/bus"
)

// Hub bridges the event bus to connected websocket sessions. It maintains
// exactly one bus subscription per topic with at least one member, and tears
// the subscription down when the last member leaves.
type Hub struct {
	log *slog.Logger
	sub bus.Subscriber

	mu     sync.Mutex
	topics map[string]*topicEntry
}

type topicEntry struct {
	topic *Topic
	sub   bus.Subscription
}

// NewHub constructs a Hub over the given bus subscriber.
func NewHub(log *slog.Logger, sub bus.Subscriber) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		sub:    sub,
		topics: make(map[string]*topicEntry),
	}
}

// Join adds the client to the topic's fanout, establishing the backing bus
// subscription on first join.
func (h *Hub) Join(ctx context.Context, name string, client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.topics[name]
	if !ok {
		t := NewTopic(h.log, name)
		sub, err := h.sub.Subscribe(ctx, name, t.Broadcast)
		if err != nil {
			return err
		}
		entry = &topicEntry{topic: t, sub: sub}
		h.topics[name] = entry
	}
	entry.topic.Join(client)
	return nil
}

// Leave removes the session from the topic and drops the bus subscription
// when nobody is left listening.
func (h *Hub) Leave(name, sessionID string) {
	h.mu.Lock()
	entry, ok := h.topics[name]
	if !ok {
		h.mu.Unlock()
		return
	}
	remaining := entry.topic.Leave(sessionID)
	if remaining == 0 {
		delete(h.topics, name)
	}
	h.mu.Unlock()

	if remaining == 0 {
		if err := entry.sub.Unsubscribe(); err != nil {
			h.log.Warn("hub.unsubscribe.fail", "topic", name, "err", err)
		}
	}
}

// Close drops every subscription. Connected clients are closed by their
// gateways, not here.
func (h *Hub) Close() error {
	h.mu.Lock()
	entries := make([]*topicEntry, 0, len(h.topics))
	for _, e := range h.topics {
		entries = append(entries, e)
	}
	h.topics = make(map[string]*topicEntry)
	h.mu.Unlock()

	for _, e := range entries {
		_ = e.sub.Unsubscribe()
	}
	return nil
}
