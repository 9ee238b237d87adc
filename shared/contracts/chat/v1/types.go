// Package v1 defines the Ripple Chat Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Control types (client <-> server, websocket edge only).
const (
	// TypeSubscribe requests delivery of a topic's events (client -> server).
	TypeSubscribe = "subscribe"
	// TypeSubscribeAck confirms a subscription (server -> client).
	TypeSubscribeAck = "subscribe_ack"
	// TypeUnsubscribe stops delivery of a topic's events (client -> server).
	TypeUnsubscribe = "unsubscribe"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Event types (wire-stable, server -> subscribers).
const (
	// TypeIncomingMessage carries a full message into the conversation topic.
	TypeIncomingMessage = "incoming_message"
	// TypeNewMessage updates the recipient's chat list with a new message.
	TypeNewMessage = "new_message"
	// TypeMessageSeen is a seen receipt delivered to the other participant.
	TypeMessageSeen = "message_seen"

	// TypeNewFriend announces an established friendship.
	TypeNewFriend = "new_friend"
	// TypeIncomingFriendRequest announces a pending friend request.
	TypeIncomingFriendRequest = "incoming_friend_requests"
	// TypeFriendRequestAccepted notifies the requester of acceptance.
	TypeFriendRequestAccepted = "friend_request_accepted"
)

// Envelope is the canonical wire wrapper used both on the pub/sub relay and
// on the websocket edge.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSubscribe,
		TypeSubscribeAck,
		TypeUnsubscribe,
		TypeError,
		TypeIncomingMessage,
		TypeNewMessage,
		TypeMessageSeen,
		TypeNewFriend,
		TypeIncomingFriendRequest,
		TypeFriendRequestAccepted:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Topics ----

// UserChatsTopic carries message-list updates and seen receipts for a user.
func UserChatsTopic(userID string) string {
	return "user:" + userID + ":chats"
}

// UserFriendsTopic carries friendship announcements for a user.
func UserFriendsTopic(userID string) string {
	return "user:" + userID + ":friends"
}

// UserFriendRequestsTopic carries pending friend requests for a user.
func UserFriendRequestsTopic(userID string) string {
	return "user:" + userID + ":incoming_friend_requests"
}

// ChatTopic carries direct delivery events for one conversation.
func ChatTopic(conversationID string) string {
	return "chat:" + conversationID
}

// ---- Payloads ----

// MessagePayload is the wire form of a chat message. Field names match the
// persisted JSON so clients can treat history and live events uniformly.
type MessagePayload struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// MessageSeenPayload is a seen receipt.
type MessageSeenPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	SeenBy    string `json:"seenBy"`
}

// SubscribePayload requests or confirms topic delivery.
type SubscribePayload struct {
	Topic string `json:"topic"`
}

// FriendRequestPayload announces a pending friend request.
type FriendRequestPayload struct {
	SenderID    string `json:"senderId"`
	SenderEmail string `json:"senderEmail,omitempty"`
}

// FriendPayload announces an established or accepted friendship.
type FriendPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Image  string `json:"image,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodePayload unmarshals the payload matching the envelope's event type.
// Control envelopes (subscribe, unsubscribe, ack, error) decode to their
// respective payloads as well. The returned value is one of the payload
// structs declared in this package.
func DecodePayload(e Envelope) (any, error) {
	decode := func(dst any) (any, error) {
		if err := json.Unmarshal(e.Payload, dst); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return dst, nil
	}

	switch e.Type {
	case TypeIncomingMessage, TypeNewMessage:
		p := &MessagePayload{}
		return decode(p)
	case TypeMessageSeen:
		p := &MessageSeenPayload{}
		return decode(p)
	case TypeSubscribe, TypeSubscribeAck, TypeUnsubscribe:
		p := &SubscribePayload{}
		return decode(p)
	case TypeIncomingFriendRequest:
		p := &FriendRequestPayload{}
		return decode(p)
	case TypeNewFriend, TypeFriendRequestAccepted:
		p := &FriendPayload{}
		return decode(p)
	case TypeError:
		p := &ErrorPayload{}
		return decode(p)
	default:
		return nil, fmt.Errorf("unknown type: %q", e.Type)
	}
}
