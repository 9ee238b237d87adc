package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"ripple/cmd/internal/bus"
	v1 "ripple/shared/contracts/chat/v1"
)

func TestAllowTopic(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		userID string
		topic  string
		want   bool
	}{
		{"own chats", "alice", "user:alice:chats", true},
		{"own friends", "alice", "user:alice:friends", true},
		{"own requests", "alice", "user:alice:incoming_friend_requests", true},
		{"other user's chats", "alice", "user:bob:chats", false},
		{"unknown user suffix", "alice", "user:alice:sessions", false},
		{"participant conversation", "alice", "chat:alice--bob", true},
		{"foreign conversation", "eve", "chat:alice--bob", false},
		{"unknown prefix", "alice", "presence:alice", false},
		{"empty topic", "alice", "", false},
		{"empty user", "", "user::chats", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := AllowTopic(tc.userID, tc.topic); got != tc.want {
				t.Fatalf("AllowTopic(%q, %q) = %v, want %v", tc.userID, tc.topic, got, tc.want)
			}
		})
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		required bool
		allowed  []string
		origin   string
		wantErr  bool
	}{
		{"missing origin required", true, []string{"http://localhost"}, "", true},
		{"missing origin optional", false, []string{"http://localhost"}, "", false},
		{"exact match", true, []string{"http://localhost"}, "http://localhost", false},
		{"host match ignores port", true, []string{"http://localhost"}, "http://localhost:3000", false},
		{"wildcard", true, []string{"*"}, "https://evil.example", false},
		{"rejected", true, []string{"http://localhost"}, "https://evil.example", true},
		{"empty allowlist", true, nil, "http://localhost", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := &Gateway{originRequired: tc.required, allowedOrigins: tc.allowed}
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			err := g.enforceOrigin(r)
			if (err != nil) != tc.wantErr {
				t.Fatalf("enforceOrigin origin=%q: err=%v wantErr=%v", tc.origin, err, tc.wantErr)
			}
		})
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"http://localhost:3000",
		"https://app.example.com",
		"http://localhost", // duplicate host
		"*",
	})
	want := []string{"app.example.com", "localhost"}
	if len(got) != len(want) {
		t.Fatalf("patterns: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("patterns: %v, want %v", got, want)
		}
	}
}

// headerResolver is a test session resolver reading a plain header.
type headerResolver struct{}

func (headerResolver) UserID(r *http.Request) (string, error) {
	id := r.Header.Get("X-Test-User")
	if id == "" {
		return "", errors.New("no session")
	}
	return id, nil
}

func dialTestGateway(t *testing.T, srvURL, userID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	if userID != "" {
		header.Set("X-Test-User", userID)
	}
	conn, _, err := websocket.Dial(ctx, srvURL, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   header,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func wsRead(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func subscribeEnvelope(t *testing.T, topic string) v1.Envelope {
	t.Helper()
	payload, err := json.Marshal(v1.SubscribePayload{Topic: topic})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return v1.Envelope{V: v1.Version, Type: v1.TypeSubscribe, Payload: payload}
}

func TestGatewaySubscribeAndDeliver(t *testing.T) {
	t.Setenv("RIPPLE_WS_ORIGIN_REQUIRED", "false")

	b := bus.NewInMemoryBus()
	defer b.Close()

	hub := NewHub(testLogger(), b)
	g, err := NewGateway(testLogger(), hub, headerResolver{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	srv := httptest.NewServer(g)
	defer srv.Close()

	conn := dialTestGateway(t, srv.URL, "alice")

	topic := v1.UserChatsTopic("alice")
	wsSend(t, conn, subscribeEnvelope(t, topic))

	ack := wsRead(t, conn)
	if ack.Type != v1.TypeSubscribeAck || ack.Topic != topic {
		t.Fatalf("ack: %+v", ack)
	}

	payload := v1.MessagePayload{ID: "m1", SenderID: "bob", ReceiverID: "alice", Text: "hi", Timestamp: 1}
	if err := b.Publish(context.Background(), topic, v1.TypeNewMessage, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	event := wsRead(t, conn)
	if event.Type != v1.TypeNewMessage || event.Topic != topic {
		t.Fatalf("event: %+v", event)
	}
	var got v1.MessagePayload
	if err := json.Unmarshal(event.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Text != "hi" || got.SenderID != "bob" {
		t.Fatalf("payload: %+v", got)
	}
}

func TestGatewayRejectsForeignTopic(t *testing.T) {
	t.Setenv("RIPPLE_WS_ORIGIN_REQUIRED", "false")

	b := bus.NewInMemoryBus()
	defer b.Close()

	hub := NewHub(testLogger(), b)
	g, err := NewGateway(testLogger(), hub, headerResolver{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	srv := httptest.NewServer(g)
	defer srv.Close()

	conn := dialTestGateway(t, srv.URL, "eve")
	wsSend(t, conn, subscribeEnvelope(t, v1.UserChatsTopic("alice")))

	resp := wsRead(t, conn)
	if resp.Type != v1.TypeError {
		t.Fatalf("expected error envelope, got %+v", resp)
	}
	var p v1.ErrorPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Code != "subscribe_failed" {
		t.Fatalf("error code: %q", p.Code)
	}
}

func TestGatewayRejectsMissingSession(t *testing.T) {
	t.Setenv("RIPPLE_WS_ORIGIN_REQUIRED", "false")

	b := bus.NewInMemoryBus()
	defer b.Close()

	hub := NewHub(testLogger(), b)
	g, err := NewGateway(testLogger(), hub, headerResolver{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	srv := httptest.NewServer(g)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, srv.URL, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
	if err == nil {
		t.Fatalf("dial without session must fail")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}
