// Package bus is the volatile publish/subscribe relay between the messaging
// services and connected clients.
//
// Delivery contract (intentionally weak, matching a hosted channel broker):
//   - best-effort fan-out to currently subscribed listeners only
//   - at-most-once per subscriber; nothing is persisted or replayed
//   - per-topic FIFO for events from a single publisher
//   - subscribing never retroactively delivers earlier events
//
// The durable message log is the correctness backstop; a lost event is
// recovered by the client's next full history load.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ripple/cmd/internal/ids"
	v1 "ripple/shared/contracts/chat/v1"
)

// ErrUnavailable marks a relay I/O failure. A publish that fails after a
// durable write must not roll the write back; callers log and move on.
var ErrUnavailable = errors.New("bus unavailable")

// Handler consumes events delivered on a subscription. Handlers must not
// block; slow consumers are dropped, not waited for.
type Handler func(env v1.Envelope)

// Subscription is a live attachment to one topic.
type Subscription interface {
	// Unsubscribe detaches the handler. Idempotent.
	Unsubscribe() error
}

// Publisher publishes events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, payload any) error
}

// Subscriber attaches handlers to topics.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
}

// Bus is the full relay contract.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// NewEnvelope wraps an event payload into the wire envelope.
func NewEnvelope(topic, eventType string, payload any, now time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return v1.Envelope{}, err
	}
	env := v1.Envelope{
		V:       v1.Version,
		Type:    eventType,
		ID:      id,
		Topic:   topic,
		TS:      now,
		Payload: raw,
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}
