package realtime

import (
	"sync"

	v1 "ripple/shared/contracts/chat/v1"
)

// Client is one connected websocket session at the topic edge. A single
// client may be a member of many topics at once (its chat list, its friend
// topics, any number of open conversations); topics fan envelopes into the
// shared Send queue.
//
// Lifecycle invariants:
// - Send is never closed by the server, so concurrent topic broadcasters cannot panic.
// - done signals the writer/heartbeat goroutines to stop.
// - Close is idempotent.
type Client struct {
	SessionID string
	UserID    string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = wsMinSendQueueSize
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send; topics drop envelopes for closed clients instead.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
