package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"ripple/cmd/internal/bus"
	"ripple/cmd/internal/chat"
	"ripple/cmd/internal/metrics"
	"ripple/cmd/internal/store"
	v1 "ripple/shared/contracts/chat/v1"
)

// SeenService records seen cursors and notifies the other participant.
type SeenService struct {
	log   *slog.Logger
	store store.MessageStore
	bus   bus.Publisher
}

// NewSeenService constructs a SeenService.
func NewSeenService(log *slog.Logger, st store.MessageStore, pub bus.Publisher) (*SeenService, error) {
	if st == nil || pub == nil {
		return nil, errors.New("messaging: nil store or bus")
	}
	if log == nil {
		log = slog.Default()
	}
	return &SeenService{log: log, store: st, bus: pub}, nil
}

// SeenInput describes a seen receipt from an observer.
type SeenInput struct {
	ConversationID string
	ObserverID     string
	MessageID      string
}

// MarkSeen upserts the observer's seen cursor and publishes a receipt to the
// other participant's chats topic. Recording the same message twice produces
// the same stored state and a repeated, harmless event.
func (s *SeenService) MarkSeen(ctx context.Context, in SeenInput) error {
	if strings.TrimSpace(in.MessageID) == "" {
		return chat.ErrValidation
	}
	if !chat.IsParticipant(in.ConversationID, in.ObserverID) {
		return chat.ErrForbidden
	}
	partner, err := chat.Partner(in.ConversationID, in.ObserverID)
	if err != nil {
		return chat.ErrForbidden
	}

	if err := s.store.RecordSeen(ctx, in.ConversationID, in.ObserverID, in.MessageID); err != nil {
		return err
	}
	metrics.SeenRecorded.Inc()

	payload := v1.MessageSeenPayload{
		ChatID:    in.ConversationID,
		MessageID: in.MessageID,
		SeenBy:    in.ObserverID,
	}
	if err := s.bus.Publish(ctx, v1.UserChatsTopic(partner), v1.TypeMessageSeen, payload); err != nil {
		metrics.BusPublishes.WithLabelValues("error").Inc()
		s.log.Warn("seen.publish.fail", "conversation", in.ConversationID, "err", err)
		return nil
	}
	metrics.BusPublishes.WithLabelValues("ok").Inc()
	return nil
}

// LastSeen returns the partner's recorded cursor for the caller's messages,
// or "" when no receipt has been stored yet.
func (s *SeenService) LastSeen(ctx context.Context, conversationID, userID string) (string, error) {
	if !chat.IsParticipant(conversationID, userID) {
		return "", chat.ErrForbidden
	}
	id, err := s.store.GetSeen(ctx, conversationID, userID)
	if errors.Is(err, store.ErrSeenNotFound) {
		return "", nil
	}
	return id, err
}
