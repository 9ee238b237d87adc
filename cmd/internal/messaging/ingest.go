// Package messaging implements the server-side chat operations: message
// ingest and seen receipts. Both are stateless request handlers; all shared
// state lives behind the store and the bus.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ripple/cmd/internal/bus"
	"ripple/cmd/internal/chat"
	"ripple/cmd/internal/metrics"
	"ripple/cmd/internal/store"
	v1 "ripple/shared/contracts/chat/v1"
)

// IngestService validates and persists outgoing messages, then notifies both
// sides over the relay.
type IngestService struct {
	log   *slog.Logger
	store store.MessageStore
	bus   bus.Publisher
	now   func() time.Time
}

// IngestOption configures IngestService behavior.
type IngestOption func(*IngestService)

// WithIngestClock overrides the service clock (tests).
func WithIngestClock(now func() time.Time) IngestOption {
	return func(s *IngestService) { s.now = now }
}

// NewIngestService constructs an IngestService.
func NewIngestService(log *slog.Logger, st store.MessageStore, pub bus.Publisher, opts ...IngestOption) (*IngestService, error) {
	if st == nil || pub == nil {
		return nil, errors.New("messaging: nil store or bus")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &IngestService{
		log:   log,
		store: st,
		bus:   pub,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// SendInput describes an outgoing message. The caller is authenticated; the
// service still enforces that the sender is a participant of the conversation.
type SendInput struct {
	ConversationID string
	SenderID       string
	Text           string
}

// Send validates the input, appends the message to the durable log, and then
// publishes two events: direct delivery on the conversation topic and a
// list update on the recipient's chats topic.
//
// If the append fails, nothing is published and the error propagates. If a
// publish fails after a successful append, the message stays durably stored;
// the failure is logged and counted, never surfaced as a send failure.
func (s *IngestService) Send(ctx context.Context, in SendInput) (chat.Message, error) {
	text, err := chat.ValidateText(in.Text)
	if err != nil {
		return chat.Message{}, err
	}
	if !chat.IsParticipant(in.ConversationID, in.SenderID) {
		return chat.Message{}, chat.ErrForbidden
	}
	receiver, err := chat.Partner(in.ConversationID, in.SenderID)
	if err != nil {
		return chat.Message{}, chat.ErrForbidden
	}

	msg, err := chat.NewMessage(in.SenderID, receiver, text, s.now())
	if err != nil {
		return chat.Message{}, fmt.Errorf("new message: %w", err)
	}

	if err := s.store.Append(ctx, in.ConversationID, msg); err != nil {
		return chat.Message{}, err
	}
	metrics.MessagesAppended.Inc()

	payload := v1.MessagePayload(msg)

	s.publish(ctx, v1.ChatTopic(in.ConversationID), v1.TypeIncomingMessage, payload)
	s.publish(ctx, v1.UserChatsTopic(receiver), v1.TypeNewMessage, payload)

	return msg, nil
}

// publish is fire-and-forget relative to the durable write.
func (s *IngestService) publish(ctx context.Context, topic, eventType string, payload any) {
	if err := s.bus.Publish(ctx, topic, eventType, payload); err != nil {
		metrics.BusPublishes.WithLabelValues("error").Inc()
		s.log.Warn("ingest.publish.fail", "topic", topic, "event", eventType, "err", err)
		return
	}
	metrics.BusPublishes.WithLabelValues("ok").Inc()
}
