package friends

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	v1 "ripple/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type spyBus struct {
	mu    sync.Mutex
	calls []spyPublish
}

type spyPublish struct {
	topic     string
	eventType string
	payload   any
}

func (b *spyBus) Publish(_ context.Context, topic, eventType string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, spyPublish{topic: topic, eventType: eventType, payload: payload})
	return nil
}

func (b *spyBus) published() []spyPublish {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]spyPublish, len(b.calls))
	copy(out, b.calls)
	return out
}

func newService(t *testing.T) (*Service, *InMemoryStore, *spyBus) {
	t.Helper()
	st := NewInMemoryStore()
	spy := &spyBus{}
	svc, err := NewService(testLogger(), st, spy)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, st, spy
}

func TestSendRequestNotifiesRecipient(t *testing.T) {
	t.Parallel()

	svc, st, spy := newService(t)
	ctx := context.Background()

	if err := svc.SendRequest(ctx, RequestInput{FromID: "alice", ToID: "bob"}); err != nil {
		t.Fatalf("send request: %v", err)
	}

	pending, err := st.HasRequest(ctx, "bob", "alice")
	if err != nil || !pending {
		t.Fatalf("request not stored: pending=%v err=%v", pending, err)
	}

	calls := spy.published()
	if len(calls) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(calls))
	}
	if calls[0].topic != v1.UserFriendRequestsTopic("bob") || calls[0].eventType != v1.TypeIncomingFriendRequest {
		t.Fatalf("publish: %+v", calls[0])
	}
	p := calls[0].payload.(v1.FriendRequestPayload)
	if p.SenderID != "alice" {
		t.Fatalf("payload: %+v", p)
	}
}

func TestSendRequestRejections(t *testing.T) {
	t.Parallel()

	svc, st, _ := newService(t)
	ctx := context.Background()

	if err := svc.SendRequest(ctx, RequestInput{FromID: "alice", ToID: "alice"}); !errors.Is(err, ErrSelfRequest) {
		t.Fatalf("self request: %v", err)
	}
	if err := svc.SendRequest(ctx, RequestInput{FromID: "", ToID: "bob"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty sender: %v", err)
	}

	if err := svc.SendRequest(ctx, RequestInput{FromID: "alice", ToID: "bob"}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := svc.SendRequest(ctx, RequestInput{FromID: "alice", ToID: "bob"}); !errors.Is(err, ErrAlreadyRequested) {
		t.Fatalf("duplicate request: %v", err)
	}

	if err := st.AddFriendship(ctx, "alice", "carol"); err != nil {
		t.Fatalf("add friendship: %v", err)
	}
	if err := svc.SendRequest(ctx, RequestInput{FromID: "alice", ToID: "carol"}); !errors.Is(err, ErrAlreadyFriends) {
		t.Fatalf("already friends: %v", err)
	}
}

func TestAcceptEstablishesSymmetricFriendship(t *testing.T) {
	t.Parallel()

	svc, st, spy := newService(t)
	ctx := context.Background()

	if err := svc.SendRequest(ctx, RequestInput{FromID: "alice", ToID: "bob"}); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := svc.Accept(ctx, DecisionInput{UserID: "bob", RequesterID: "alice"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		ok, err := st.IsFriend(ctx, pair[0], pair[1])
		if err != nil || !ok {
			t.Fatalf("friendship %v not symmetric: ok=%v err=%v", pair, ok, err)
		}
	}
	if pending, _ := st.HasRequest(ctx, "bob", "alice"); pending {
		t.Fatalf("request not consumed")
	}

	calls := spy.published()
	// 1 request notification + 2 new_friend + 1 friend_request_accepted.
	if len(calls) != 4 {
		t.Fatalf("expected 4 publishes, got %d: %+v", len(calls), calls)
	}
	if calls[1].topic != v1.UserFriendsTopic("bob") || calls[1].eventType != v1.TypeNewFriend {
		t.Fatalf("accepter notification: %+v", calls[1])
	}
	if calls[2].topic != v1.UserFriendsTopic("alice") || calls[2].eventType != v1.TypeNewFriend {
		t.Fatalf("requester notification: %+v", calls[2])
	}
	// The acceptance rides the requester's request topic, where their
	// pending-request view is already subscribed.
	if calls[3].topic != v1.UserFriendRequestsTopic("alice") || calls[3].eventType != v1.TypeFriendRequestAccepted {
		t.Fatalf("acceptance notification: %+v", calls[3])
	}
	if p := calls[3].payload.(v1.FriendPayload); p.UserID != "bob" {
		t.Fatalf("acceptance payload: %+v", p)
	}
}

func TestAcceptWithoutPendingRequest(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	err := svc.Accept(context.Background(), DecisionInput{UserID: "bob", RequesterID: "alice"})
	if !errors.Is(err, ErrNoRequest) {
		t.Fatalf("expected ErrNoRequest, got %v", err)
	}
}

func TestDenyConsumesRequestSilently(t *testing.T) {
	t.Parallel()

	svc, st, spy := newService(t)
	ctx := context.Background()

	if err := svc.SendRequest(ctx, RequestInput{FromID: "alice", ToID: "bob"}); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := svc.Deny(ctx, DecisionInput{UserID: "bob", RequesterID: "alice"}); err != nil {
		t.Fatalf("deny: %v", err)
	}

	if pending, _ := st.HasRequest(ctx, "bob", "alice"); pending {
		t.Fatalf("request not consumed")
	}
	if ok, _ := st.IsFriend(ctx, "bob", "alice"); ok {
		t.Fatalf("deny must not create a friendship")
	}
	// Only the original request notification.
	if n := len(spy.published()); n != 1 {
		t.Fatalf("deny must not publish, got %d publishes", n)
	}

	if err := svc.Deny(ctx, DecisionInput{UserID: "bob", RequesterID: "alice"}); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("second deny: %v", err)
	}
}

func TestFriendsListing(t *testing.T) {
	t.Parallel()

	svc, st, _ := newService(t)
	ctx := context.Background()

	for _, friend := range []string{"bob", "carol"} {
		if err := st.AddFriendship(ctx, "alice", friend); err != nil {
			t.Fatalf("add friendship: %v", err)
		}
	}

	got, err := svc.Friends(ctx, "alice")
	if err != nil {
		t.Fatalf("friends: %v", err)
	}
	if len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Fatalf("friends: %v", got)
	}

	ok, err := svc.AreFriends(ctx, "carol", "alice")
	if err != nil || !ok {
		t.Fatalf("are friends: ok=%v err=%v", ok, err)
	}
}
