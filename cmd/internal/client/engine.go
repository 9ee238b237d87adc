// Package client implements the per-view reconciliation engine: it merges an
// initial server-fetched message page with the live event stream into one
// consistent, disposable view.
//
// Each open conversation view owns exactly one Engine. The engine is never
// shared ambient state; on view teardown it is closed and discarded.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ripple/cmd/internal/bus"
	"ripple/cmd/internal/chat"
	v1 "ripple/shared/contracts/chat/v1"
)

// State is the engine lifecycle state.
type State uint8

const (
	StateLoading State = iota
	StateSynced
	StateReceiving
	StateSendingSeen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateReceiving:
		return "receiving"
	case StateSendingSeen:
		return "sending_seen"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HistorySource supplies the durable message page on load.
type HistorySource interface {
	Range(ctx context.Context, conversationID string, start, stop int64) ([]chat.Message, error)
}

// SeenReporter records that the local user has observed a message.
type SeenReporter interface {
	MarkSeen(ctx context.Context, conversationID, messageID string) error
}

// SuggestionSource fetches AI reply suggestions for the conversation.
type SuggestionSource interface {
	ReplySuggestions(ctx context.Context, conversationID, userID string) ([]string, error)
}

const defaultRetryDelay = 2 * time.Second

// Engine reconciles one conversation view.
type Engine struct {
	log            *slog.Logger
	userID         string
	partnerID      string
	conversationID string

	history     HistorySource
	seen        SeenReporter
	suggestions SuggestionSource
	subscriber  bus.Subscriber

	retryDelay time.Duration

	mu            sync.Mutex
	state         State
	view          []chat.Message // newest-first
	known         map[string]struct{}
	partnerSeenID string
	reportedSeen  string
	suggested     []string
	subs          []bus.Subscription

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithSuggestions enables suggestion refresh through src.
func WithSuggestions(src SuggestionSource) Option {
	return func(e *Engine) { e.suggestions = src }
}

// WithInitialPartnerSeen seeds the partner's seen cursor from the server page.
func WithInitialPartnerSeen(messageID string) Option {
	return func(e *Engine) { e.partnerSeenID = messageID }
}

// WithRetryDelay overrides the suggestion retry delay (tests).
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

// NewEngine constructs an engine for one conversation view.
func NewEngine(log *slog.Logger, userID, conversationID string, history HistorySource, seen SeenReporter, sub bus.Subscriber, opts ...Option) (*Engine, error) {
	if history == nil || seen == nil || sub == nil {
		return nil, errors.New("client: nil dependency")
	}
	if !chat.IsParticipant(conversationID, userID) {
		return nil, chat.ErrForbidden
	}
	partner, err := chat.Partner(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		log:            log,
		userID:         userID,
		partnerID:      partner,
		conversationID: conversationID,
		history:        history,
		seen:           seen,
		subscriber:     sub,
		retryDelay:     defaultRetryDelay,
		state:          StateLoading,
		known:          make(map[string]struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Start loads the durable page, subscribes to the conversation and user
// topics, and performs the initial side effects (seen receipt for the
// newest partner message, suggestion refresh).
func (e *Engine) Start(ctx context.Context) error {
	page, err := e.history.Range(ctx, e.conversationID, 0, -1)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return errors.New("client: engine closed")
	}
	// History arrives oldest-first; the view keeps newest-first.
	e.view = make([]chat.Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		e.view = append(e.view, page[i])
		e.known[page[i].ID] = struct{}{}
	}
	e.state = StateSynced
	e.mu.Unlock()

	for _, topic := range []string{v1.ChatTopic(e.conversationID), v1.UserChatsTopic(e.userID)} {
		sub, err := e.subscriber.Subscribe(ctx, topic, e.handleEvent)
		if err != nil {
			e.teardownSubs()
			return err
		}
		e.mu.Lock()
		e.subs = append(e.subs, sub)
		e.mu.Unlock()
	}

	// Initial seen receipt for an already-rendered partner message.
	e.mu.Lock()
	var newestPartnerMsg string
	if len(e.view) > 0 && e.view[0].SenderID != e.userID {
		newestPartnerMsg = e.view[0].ID
	}
	e.mu.Unlock()
	if newestPartnerMsg != "" {
		e.reportSeen(newestPartnerMsg)
	}

	e.refreshSuggestions()
	return nil
}

// handleEvent applies one pushed event to the local view. It runs on the
// bus delivery goroutine and must not block.
func (e *Engine) handleEvent(env v1.Envelope) {
	decoded, err := v1.DecodePayload(env)
	if err != nil {
		e.log.Warn("view.event.bad_payload", "type", env.Type, "err", err)
		return
	}

	switch p := decoded.(type) {
	case *v1.MessagePayload:
		// incoming_message on the chat topic, new_message on the user topic:
		// the same message can arrive on both, hence the id dedupe below.
		e.applyMessage(chat.Message(*p))

	case *v1.MessageSeenPayload:
		e.applySeenReceipt(p)

	case *v1.FriendRequestPayload, *v1.FriendPayload:
		// Friend events are list-level concerns, not conversation-view state.

	case *v1.SubscribePayload, *v1.ErrorPayload:
		// Edge control frames never reach a view under normal operation.

	default:
		e.log.Warn("view.event.unhandled", "type", env.Type)
	}
}

func (e *Engine) applyMessage(msg chat.Message) {
	if chat.ConversationID(msg.SenderID, msg.ReceiverID) != e.conversationID {
		return
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	if _, dup := e.known[msg.ID]; dup {
		// Duplicate delivery from overlapping subscriptions.
		e.mu.Unlock()
		return
	}
	e.state = StateReceiving
	e.known[msg.ID] = struct{}{}
	// Prepend; existing entries are never reordered.
	e.view = append([]chat.Message{msg}, e.view...)

	fromPartner := msg.SenderID != e.userID
	if fromPartner {
		// Unknown until the partner's next receipt arrives.
		e.partnerSeenID = ""
	}
	e.state = StateSynced
	e.mu.Unlock()

	if fromPartner {
		e.reportSeen(msg.ID)
		e.refreshSuggestions()
	}
}

func (e *Engine) applySeenReceipt(p *v1.MessageSeenPayload) {
	if p.SeenBy != e.partnerID || p.ChatID != e.conversationID {
		return
	}

	e.mu.Lock()
	if e.state != StateClosed {
		e.partnerSeenID = p.MessageID
	}
	e.mu.Unlock()
}

// reportSeen asynchronously records the receipt. An in-flight call started
// before Close is allowed to complete; its result is discarded.
func (e *Engine) reportSeen(messageID string) {
	e.mu.Lock()
	if e.state == StateClosed || e.reportedSeen == messageID {
		e.mu.Unlock()
		return
	}
	e.reportedSeen = messageID
	e.state = StateSendingSeen
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.seen.MarkSeen(context.Background(), e.conversationID, messageID); err != nil {
			e.log.Warn("view.seen.fail", "conversation", e.conversationID, "err", err)
		}
		e.mu.Lock()
		if e.state == StateSendingSeen {
			e.state = StateSynced
		}
		e.mu.Unlock()
	}()
}

// refreshSuggestions fetches reply suggestions, retrying once after a fixed
// delay on failure. Failures never block messaging.
func (e *Engine) refreshSuggestions() {
	if e.suggestions == nil {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		got, err := e.suggestions.ReplySuggestions(context.Background(), e.conversationID, e.userID)
		if err != nil {
			select {
			case <-e.done:
				return
			case <-time.After(e.retryDelay):
			}
			got, err = e.suggestions.ReplySuggestions(context.Background(), e.conversationID, e.userID)
			if err != nil {
				e.log.Warn("view.suggestions.fail", "conversation", e.conversationID, "err", err)
				return
			}
		}

		e.mu.Lock()
		if e.state != StateClosed {
			e.suggested = got
		}
		e.mu.Unlock()
	}()
}

// Messages returns a copy of the local ordered view, newest first.
func (e *Engine) Messages() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]chat.Message, len(e.view))
	copy(out, e.view)
	return out
}

// PartnerSeen returns the id of the last own message the partner has seen,
// or "" while unknown.
func (e *Engine) PartnerSeen() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.partnerSeenID
}

// Suggestions returns the latest fetched reply suggestions.
func (e *Engine) Suggestions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.suggested))
	copy(out, e.suggested)
	return out
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close tears the view down: unsubscribes from all topics and drops pending
// suggestion retries. Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.state = StateClosed
		e.mu.Unlock()

		close(e.done)
		e.teardownSubs()
	})
	return nil
}

func (e *Engine) teardownSubs() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}
