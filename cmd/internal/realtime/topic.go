package realtime

import (
	"log/slog"
	"sync"

	v1 "ripple/shared/contracts/chat/v1"
)

// Topic is an in-memory membership + broadcast fanout primitive for one
// pub/sub topic.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Topic struct {
	log  *slog.Logger
	Name string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewTopic constructs a topic fanout.
func NewTopic(log *slog.Logger, name string) *Topic {
	return &Topic{
		log:     log,
		Name:    name,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (t *Topic) Join(client *Client) {
	if t == nil || client == nil || client.SessionID == "" {
		return
	}

	t.mu.Lock()
	t.members[client.SessionID] = client
	t.mu.Unlock()

	t.log.Info("topic.member.join", "topic", t.Name, "session_id", client.SessionID)
}

// Leave removes a client from membership and returns the remaining member
// count. Unlike a session teardown, leaving one topic must not touch the
// client's other subscriptions, so the client is not closed here.
func (t *Topic) Leave(sessionID string) int {
	if t == nil || sessionID == "" {
		return 0
	}

	t.mu.Lock()
	delete(t.members, sessionID)
	remaining := len(t.members)
	t.mu.Unlock()

	t.log.Info("topic.member.leave", "topic", t.Name, "session_id", sessionID)
	return remaining
}

// Size returns the current member count.
func (t *Topic) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Broadcast fanouts an envelope to all members.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (t *Topic) Broadcast(env v1.Envelope) {
	if t == nil {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, m := range t.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			// Drop rather than block the whole topic.
		}
	}
}
