// Package main provides a CI-friendly end-to-end smoke test for the Ripple
// realtime edge.
//
// It validates, against a running server:
//   - handshake + subprotocol selection
//   - subscribe -> subscribe_ack for chat and user topics
//   - foreign-topic subscribe rejection
//   - HTTP send -> incoming_message on the chat topic + new_message on the
//     recipient's chats topic
//   - HTTP seen -> message_seen on the sender's chats topic
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "ripple/shared/contracts/chat/v1"
)

const (
	defaultSubprotocol = "ripple.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("ws-url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		httpURL = flag.String("http-url", "http://127.0.0.1:8080", "HTTP API base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("user-a", "smoke-alice", "First user id")
		userB   = flag.String("user-b", "smoke-bob", "Second user id")
		header  = flag.String("session-header", "X-User-ID", "Identity header name")
		text    = flag.String("text", "hello ripple 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -ws-url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	convID := conversationID(*userA, *userB)
	root := context.Background()

	a := mustConnect(root, "A", *userA, *wsURL, *origin, *header, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *userB, *wsURL, *origin, *header, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s conv=%s origin=%q\n", a.userID, b.userID, convID, *origin)
	}

	mustSubscribe(root, a, v1.ChatTopic(convID), *timeout)
	mustSubscribe(root, a, v1.UserChatsTopic(a.userID), *timeout)
	mustSubscribe(root, b, v1.ChatTopic(convID), *timeout)
	mustSubscribe(root, b, v1.UserChatsTopic(b.userID), *timeout)

	mustRejectForeignSubscribe(root, a, v1.UserChatsTopic(b.userID), *timeout)

	msg := mustHTTPSend(*httpURL, *header, a.userID, convID, *text, *timeout)
	if *verbose {
		fmt.Printf("sent: id=%s\n", msg.ID)
	}

	// B gets the message on both topics; cross-topic order is not guaranteed.
	mustAssertDelivery(root, b, convID, msg, *timeout)
	mustAssertIncoming(root, a, v1.ChatTopic(convID), msg, *timeout)

	mustHTTPSeen(*httpURL, *header, b.userID, convID, msg.ID, *timeout)
	mustAssertSeen(root, a, v1.UserChatsTopic(a.userID), convID, msg.ID, b.userID, *timeout)

	fmt.Printf("OK: A=%s B=%s conv_id=%s msg_id=%s\n", a.userID, b.userID, convID, msg.ID)
}

// conversationID matches the server's canonical form: both ids sorted and
// joined with a double dash.
func conversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "--" + b
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, wsURL, origin, header string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set(header, userID)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSubscribe(parent context.Context, c *smokeClient, topic string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeSubscribe,
		ID:      fmt.Sprintf("%s-sub-%s", c.name, topic),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.SubscribePayload{Topic: topic}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeSubscribeAck, stepTimeout)

	var p v1.SubscribePayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal subscribe_ack payload (%s): %v", c.name, err)
	}
	if p.Topic != topic {
		fatalf("subscribe_ack topic mismatch (%s): got=%q want=%q", c.name, p.Topic, topic)
	}
}

func mustRejectForeignSubscribe(parent context.Context, c *smokeClient, topic string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeSubscribe,
		ID:      fmt.Sprintf("%s-sub-foreign", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.SubscribePayload{Topic: topic}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	errEnv := c.mustReadUntilTypeAllowError(parent, v1.TypeError, stepTimeout)

	var ep v1.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &ep); err != nil {
		fatalf("unmarshal error payload (%s): %v", c.name, err)
	}
	if ep.Code != "subscribe_failed" {
		fatalf("foreign subscribe: unexpected error code (%s): %q", c.name, ep.Code)
	}
}

func mustHTTPSend(base, header, userID, convID, text string, stepTimeout time.Duration) v1.MessagePayload {
	body := map[string]string{"conversationId": convID, "text": text}
	var resp struct {
		Message v1.MessagePayload `json:"message"`
	}
	mustHTTPPost(base+"/message/send", header, userID, body, &resp, stepTimeout)

	if resp.Message.ID == "" || resp.Message.SenderID != userID {
		fatalf("send response missing message: %+v", resp.Message)
	}
	return resp.Message
}

func mustHTTPSeen(base, header, userID, convID, messageID string, stepTimeout time.Duration) {
	body := map[string]string{"conversationId": convID, "messageId": messageID}
	var resp struct {
		OK bool `json:"ok"`
	}
	mustHTTPPost(base+"/message/seen", header, userID, body, &resp, stepTimeout)
	if !resp.OK {
		fatalf("seen response not ok")
	}
}

func mustHTTPPost(url, header, userID string, body, out any, stepTimeout time.Duration) {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal request body: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, userID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("POST %s: status=%d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fatalf("decode %s response: %v", url, err)
	}
}

// mustAssertDelivery waits until both the direct conversation event and the
// chat-list event for want have arrived, in either order.
func mustAssertDelivery(parent context.Context, c *smokeClient, convID string, want v1.MessagePayload, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	pending := map[string]string{
		v1.TypeIncomingMessage: v1.ChatTopic(convID),
		v1.TypeNewMessage:      v1.UserChatsTopic(c.userID),
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for delivery (%s), still pending: %v", c.name, pending)
		case err := <-c.errCh:
			fatalf("connection error while waiting for delivery (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for delivery (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			wantTopic, expected := pending[env.Type]
			if !expected {
				continue
			}
			if env.Topic != wantTopic {
				fatalf("%s topic mismatch (%s): got=%q want=%q", env.Type, c.name, env.Topic, wantTopic)
			}
			var p v1.MessagePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				fatalf("unmarshal %s payload (%s): %v", env.Type, c.name, err)
			}
			assertMessage(c.name, p, want)
			delete(pending, env.Type)
		}
	}
}

func mustAssertIncoming(parent context.Context, c *smokeClient, topic string, want v1.MessagePayload, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeIncomingMessage, stepTimeout)

	if env.Topic != topic {
		fatalf("incoming_message topic mismatch (%s): got=%q want=%q", c.name, env.Topic, topic)
	}

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal incoming_message payload (%s): %v", c.name, err)
	}
	assertMessage(c.name, p, want)
}

func assertMessage(name string, got, want v1.MessagePayload) {
	if got.ID != want.ID {
		fatalf("message id mismatch (%s): got=%q want=%q", name, got.ID, want.ID)
	}
	if got.SenderID != want.SenderID {
		fatalf("message sender mismatch (%s): got=%q want=%q", name, got.SenderID, want.SenderID)
	}
	if got.Text != want.Text {
		fatalf("message text mismatch (%s): got=%q want=%q", name, got.Text, want.Text)
	}
	if got.Timestamp <= 0 {
		fatalf("message timestamp missing (%s)", name)
	}
}

func mustAssertSeen(parent context.Context, c *smokeClient, topic, convID, messageID, seenBy string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageSeen, stepTimeout)

	if env.Topic != topic {
		fatalf("message_seen topic mismatch (%s): got=%q want=%q", c.name, env.Topic, topic)
	}

	var p v1.MessageSeenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message_seen payload (%s): %v", c.name, err)
	}
	if p.ChatID != convID {
		fatalf("message_seen chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, convID)
	}
	if p.MessageID != messageID {
		fatalf("message_seen message_id mismatch (%s): got=%q want=%q", c.name, p.MessageID, messageID)
	}
	if p.SeenBy != seenBy {
		fatalf("message_seen seen_by mismatch (%s): got=%q want=%q", c.name, p.SeenBy, seenBy)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			// Unrelated fanout (e.g. the sender's own copy) is skipped.
			continue
		}
	}
}

// mustReadUntilTypeAllowError is mustReadUntilType for steps where an error
// envelope is the expected outcome.
func (c *smokeClient) mustReadUntilTypeAllowError(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			continue
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
