package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"ripple/cmd/internal/chat"
	"ripple/cmd/internal/metrics"
	"ripple/cmd/internal/store"
)

// historyTail is how many trailing messages feed the model.
const historyTail = 10

// Completer is the LLM surface the service needs. *MistralClient satisfies it.
type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	Stream(ctx context.Context, req ChatRequest, w io.Writer) error
}

// Service produces reply suggestions and rewrites for one conversation.
type Service struct {
	log    *slog.Logger
	store  store.MessageStore
	client Completer
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs a suggestion service.
func NewService(log *slog.Logger, st store.MessageStore, client Completer, opts ...Option) (*Service, error) {
	if st == nil || client == nil {
		return nil, errors.New("suggest: nil store or client")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:    log,
		store:  st,
		client: client,
		now:    func() time.Time { return time.Now() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Service) history(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return s.store.Range(ctx, conversationID, -historyTail, -1)
}

// ReplySuggestions returns three reply (or opening, when the conversation is
// empty) suggestions matching the caller's writing style.
func (s *Service) ReplySuggestions(ctx context.Context, conversationID, userID string) ([]string, error) {
	if !chat.IsParticipant(conversationID, userID) {
		return nil, chat.ErrForbidden
	}

	messages, err := s.history(ctx, conversationID)
	if err != nil {
		metrics.SuggestionRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	now := s.now()
	userPrompt := replyPrompt(now, messages, userID)
	if len(messages) == 0 {
		userPrompt = openingPrompt(now)
	}

	content, err := s.client.Complete(ctx, ChatRequest{
		Model: suggestModel,
		Messages: []ChatMessage{
			{Role: "system", Content: suggestSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	})
	if err != nil {
		metrics.SuggestionRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	suggestions, err := parseSuggestions(content)
	if err != nil {
		metrics.SuggestionRequests.WithLabelValues("error").Inc()
		s.log.Warn("suggest.parse.fail", "conversation", conversationID, "err", err)
		return nil, err
	}
	metrics.SuggestionRequests.WithLabelValues("ok").Inc()
	return suggestions, nil
}

// parseSuggestions accepts either a bare JSON array or an object wrapping one,
// since json_object mode can produce either shape.
func parseSuggestions(content string) ([]string, error) {
	content = strings.TrimSpace(content)

	var list []string
	if err := json.Unmarshal([]byte(content), &list); err == nil {
		return list, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
		return nil, fmt.Errorf("suggestions not valid JSON: %w", err)
	}
	for _, raw := range wrapped {
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
	}
	return nil, errors.New("no string array found in suggestion response")
}

// RewriteInput describes a rewrite request.
type RewriteInput struct {
	ConversationID string
	UserID         string
	Text           string
	Prompt         string
}

// Rewrite streams a rewritten version of the text to w, guided by the
// caller's instruction and the conversation tail.
func (s *Service) Rewrite(ctx context.Context, in RewriteInput, w io.Writer) error {
	if !chat.IsParticipant(in.ConversationID, in.UserID) {
		return chat.ErrForbidden
	}
	if strings.TrimSpace(in.Text) == "" {
		return chat.ErrValidation
	}

	messages, err := s.history(ctx, in.ConversationID)
	if err != nil {
		return err
	}

	return s.client.Stream(ctx, ChatRequest{
		Model: rewriteModel,
		Messages: []ChatMessage{
			{Role: "system", Content: rewriteSystemPrompt},
			{Role: "user", Content: rewritePrompt(in.Text, in.Prompt, messages, in.UserID)},
		},
	}, w)
}
