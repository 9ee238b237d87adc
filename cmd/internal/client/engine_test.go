package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ripple/cmd/internal/bus"
	"ripple/cmd/internal/chat"
	"ripple/cmd/internal/messaging"
	"ripple/cmd/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

// seenAdapter bridges the engine's SeenReporter port to the server service,
// fixing the observer identity the way an authenticated HTTP call would.
type seenAdapter struct {
	svc      *messaging.SeenService
	observer string
}

func (a seenAdapter) MarkSeen(ctx context.Context, conversationID, messageID string) error {
	return a.svc.MarkSeen(ctx, messaging.SeenInput{
		ConversationID: conversationID,
		ObserverID:     a.observer,
		MessageID:      messageID,
	})
}

// noopSeen ignores receipts (sender-side views in isolated tests).
type noopSeen struct{}

func (noopSeen) MarkSeen(context.Context, string, string) error { return nil }

// flakySuggestions fails a configured number of times, then succeeds.
type flakySuggestions struct {
	mu       sync.Mutex
	failures int
	calls    int
	result   []string
}

func (f *flakySuggestions) ReplySuggestions(context.Context, string, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("rate limited")
	}
	return f.result, nil
}

func (f *flakySuggestions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	st     *store.InMemoryStore
	b      *bus.InMemoryBus
	ingest *messaging.IngestService
	seen   *messaging.SeenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewInMemoryStore()
	b := bus.NewInMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	ingest, err := messaging.NewIngestService(testLogger(), st, b)
	if err != nil {
		t.Fatalf("ingest service: %v", err)
	}
	seen, err := messaging.NewSeenService(testLogger(), st, b)
	if err != nil {
		t.Fatalf("seen service: %v", err)
	}
	return &fixture{st: st, b: b, ingest: ingest, seen: seen}
}

func startEngine(t *testing.T, f *fixture, userID, convID string, reporter SeenReporter, opts ...Option) *Engine {
	t.Helper()

	e, err := NewEngine(testLogger(), userID, convID, f.st, reporter, f.b, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestInitialLoadNewestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := f.ingest.Send(ctx, messaging.SendInput{ConversationID: convID, SenderID: "alice", Text: text}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	e := startEngine(t, f, "alice", convID, noopSeen{})

	got := e.Messages()
	if len(got) != 3 {
		t.Fatalf("view len=%d", len(got))
	}
	if got[0].Text != "three" || got[2].Text != "one" {
		t.Fatalf("view not newest-first: %+v", got)
	}
	if e.State() != StateSynced {
		t.Fatalf("state=%v want synced", e.State())
	}
}

func TestIncomingEventPrependsWithoutReorder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")
	ctx := context.Background()

	if _, err := f.ingest.Send(ctx, messaging.SendInput{ConversationID: convID, SenderID: "alice", Text: "old"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	e := startEngine(t, f, "alice", convID, noopSeen{})

	if _, err := f.ingest.Send(ctx, messaging.SendInput{ConversationID: convID, SenderID: "bob", Text: "fresh"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool { return len(e.Messages()) == 2 })
	got := e.Messages()
	if got[0].Text != "fresh" || got[1].Text != "old" {
		t.Fatalf("prepend violated: %+v", got)
	}
}

func TestDeduplication(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")
	ctx := context.Background()

	e := startEngine(t, f, "alice", convID, noopSeen{})

	// A's engine is subscribed to both chat:{conv} and user:alice:chats.
	// A message addressed to alice goes out on both topics, so the engine
	// receives it twice and must keep exactly one copy.
	if _, err := f.ingest.Send(ctx, messaging.SendInput{ConversationID: convID, SenderID: "bob", Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool { return len(e.Messages()) == 1 })
	time.Sleep(50 * time.Millisecond) // allow the duplicate to arrive
	if n := len(e.Messages()); n != 1 {
		t.Fatalf("duplicate not discarded: view len=%d", n)
	}
}

func TestSeenReceiptRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")
	ctx := context.Background()

	// Sender A's view; recipient B's view reports receipts through the
	// real seen service.
	engA := startEngine(t, f, "alice", convID, noopSeen{})
	engB := startEngine(t, f, "bob", convID, seenAdapter{svc: f.seen, observer: "bob"})

	msg, err := f.ingest.Send(ctx, messaging.SendInput{ConversationID: convID, SenderID: "alice", Text: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// B receives the message, marks it seen, and A's cursor converges.
	waitFor(t, func() bool { return len(engB.Messages()) == 1 })
	waitFor(t, func() bool { return engA.PartnerSeen() == msg.ID })

	// The durable cursor agrees.
	stored, err := f.st.GetSeen(ctx, convID, "bob")
	if err != nil || stored != msg.ID {
		t.Fatalf("stored seen=%q err=%v", stored, err)
	}
}

func TestPartnerMessageResetsSeenCursor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")
	ctx := context.Background()

	e := startEngine(t, f, "alice", convID, noopSeen{}, WithInitialPartnerSeen("some-old-id"))

	if e.PartnerSeen() != "some-old-id" {
		t.Fatalf("initial cursor not seeded")
	}

	if _, err := f.ingest.Send(ctx, messaging.SendInput{ConversationID: convID, SenderID: "bob", Text: "yo"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool { return len(e.Messages()) == 1 })
	if got := e.PartnerSeen(); got != "" {
		t.Fatalf("cursor should reset to unknown on partner message, got %q", got)
	}
}

func TestSeenReceiptFiltering(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")
	otherConv := chat.ConversationID("alice", "carol")
	ctx := context.Background()

	e := startEngine(t, f, "alice", convID, noopSeen{})

	// Receipt from another conversation must not move this view's cursor.
	carolSeen, err := messaging.NewSeenService(testLogger(), f.st, f.b)
	if err != nil {
		t.Fatalf("seen service: %v", err)
	}
	msg, err := f.ingest.Send(ctx, messaging.SendInput{ConversationID: otherConv, SenderID: "alice", Text: "x"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := carolSeen.MarkSeen(ctx, messaging.SeenInput{ConversationID: otherConv, ObserverID: "carol", MessageID: msg.ID}); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := e.PartnerSeen(); got != "" {
		t.Fatalf("cursor moved by foreign receipt: %q", got)
	}
}

func TestSuggestionRetryOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")

	src := &flakySuggestions{failures: 1, result: []string{"hey!", "how's it going?", "morning"}}
	e := startEngine(t, f, "alice", convID, noopSeen{},
		WithSuggestions(src),
		WithRetryDelay(10*time.Millisecond),
	)

	waitFor(t, func() bool { return len(e.Suggestions()) == 3 })
	if got := src.callCount(); got != 2 {
		t.Fatalf("expected 1 failure + 1 retry = 2 calls, got %d", got)
	}
}

func TestSuggestionGivesUpAfterOneRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")

	src := &flakySuggestions{failures: 5, result: []string{"never"}}
	e := startEngine(t, f, "alice", convID, noopSeen{},
		WithSuggestions(src),
		WithRetryDelay(10*time.Millisecond),
	)

	waitFor(t, func() bool { return src.callCount() == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := src.callCount(); got != 2 {
		t.Fatalf("expected exactly 2 calls (initial + one retry), got %d", got)
	}
	if len(e.Suggestions()) != 0 {
		t.Fatalf("suggestions should stay empty after bounded retries")
	}
}

func TestMissedEventRecoveredByReload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")
	ctx := context.Background()

	e := startEngine(t, f, "bob", convID, noopSeen{})
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Published while disconnected: lost to the live stream.
	if _, err := f.ingest.Send(ctx, messaging.SendInput{ConversationID: convID, SenderID: "alice", Text: "offline msg"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(e.Messages()); n != 0 {
		t.Fatalf("closed view must not receive events, got %d", n)
	}

	// Reload: durable store is the source of truth.
	e2 := startEngine(t, f, "bob", convID, noopSeen{})
	got := e2.Messages()
	if len(got) != 1 || got[0].Text != "offline msg" {
		t.Fatalf("reload missed the durable message: %+v", got)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	convID := chat.ConversationID("alice", "bob")
	ctx := context.Background()

	e := startEngine(t, f, "alice", convID, noopSeen{})
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close twice: %v", err)
	}
	if e.State() != StateClosed {
		t.Fatalf("state=%v want closed", e.State())
	}

	if _, err := f.ingest.Send(ctx, messaging.SendInput{ConversationID: convID, SenderID: "bob", Text: "late"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(e.Messages()); n != 0 {
		t.Fatalf("closed engine applied an event: view len=%d", n)
	}
}

func TestNonParticipantRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := NewEngine(testLogger(), "eve", chat.ConversationID("alice", "bob"), f.st, noopSeen{}, f.b)
	if !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
