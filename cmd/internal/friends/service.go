package friends

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"ripple/cmd/internal/bus"
	"ripple/cmd/internal/metrics"
	v1 "ripple/shared/contracts/chat/v1"
)

// Service handles friend-request lifecycle: send, accept, deny. Mutations
// land in the store first; event publishes are best effort, the same weak
// contract the message services follow.
type Service struct {
	log   *slog.Logger
	store Store
	bus   bus.Publisher
}

// NewService constructs a friend service.
func NewService(log *slog.Logger, st Store, pub bus.Publisher) (*Service, error) {
	if st == nil || pub == nil {
		return nil, errors.New("friends: nil store or bus")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, store: st, bus: pub}, nil
}

// RequestInput describes a friend request from one user to another.
type RequestInput struct {
	FromID string
	ToID   string
}

// SendRequest records a pending request and notifies the recipient.
func (s *Service) SendRequest(ctx context.Context, in RequestInput) error {
	from := strings.TrimSpace(in.FromID)
	to := strings.TrimSpace(in.ToID)
	if from == "" || to == "" {
		return ErrInvalidInput
	}
	if from == to {
		return ErrSelfRequest
	}

	if already, err := s.store.IsFriend(ctx, from, to); err != nil {
		return err
	} else if already {
		return ErrAlreadyFriends
	}
	if pending, err := s.store.HasRequest(ctx, to, from); err != nil {
		return err
	} else if pending {
		return ErrAlreadyRequested
	}

	if err := s.store.AddRequest(ctx, to, from); err != nil {
		return err
	}

	s.publish(ctx, v1.UserFriendRequestsTopic(to), v1.TypeIncomingFriendRequest,
		v1.FriendRequestPayload{SenderID: from})
	return nil
}

// DecisionInput identifies the pending request the user is deciding on.
type DecisionInput struct {
	UserID      string // the recipient deciding
	RequesterID string
}

// Accept establishes the symmetric friendship, consumes the pending request,
// and notifies both sides: new_friend on each friends topic so both chat
// lists refresh, and friend_request_accepted on the requester's request
// topic, where their pending-request view listens.
func (s *Service) Accept(ctx context.Context, in DecisionInput) error {
	user := strings.TrimSpace(in.UserID)
	requester := strings.TrimSpace(in.RequesterID)
	if user == "" || requester == "" {
		return ErrInvalidInput
	}

	pending, err := s.store.HasRequest(ctx, user, requester)
	if err != nil {
		return err
	}
	if !pending {
		return ErrNoRequest
	}
	if already, err := s.store.IsFriend(ctx, user, requester); err != nil {
		return err
	} else if already {
		return ErrAlreadyFriends
	}

	if err := s.store.AddFriendship(ctx, user, requester); err != nil {
		return err
	}
	if err := s.store.RemoveRequest(ctx, user, requester); err != nil {
		return err
	}

	s.publish(ctx, v1.UserFriendsTopic(user), v1.TypeNewFriend,
		v1.FriendPayload{UserID: requester})
	s.publish(ctx, v1.UserFriendsTopic(requester), v1.TypeNewFriend,
		v1.FriendPayload{UserID: user})
	s.publish(ctx, v1.UserFriendRequestsTopic(requester), v1.TypeFriendRequestAccepted,
		v1.FriendPayload{UserID: user})
	return nil
}

// Deny consumes the pending request without side effects.
func (s *Service) Deny(ctx context.Context, in DecisionInput) error {
	user := strings.TrimSpace(in.UserID)
	requester := strings.TrimSpace(in.RequesterID)
	if user == "" || requester == "" {
		return ErrInvalidInput
	}

	pending, err := s.store.HasRequest(ctx, user, requester)
	if err != nil {
		return err
	}
	if !pending {
		return ErrNoRequest
	}
	return s.store.RemoveRequest(ctx, user, requester)
}

// Friends lists the user's friend ids.
func (s *Service) Friends(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	return s.store.Friends(ctx, userID)
}

// AreFriends reports whether the two users are connected.
func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false, ErrInvalidInput
	}
	return s.store.IsFriend(ctx, a, b)
}

func (s *Service) publish(ctx context.Context, topic, eventType string, payload any) {
	if err := s.bus.Publish(ctx, topic, eventType, payload); err != nil {
		metrics.BusPublishes.WithLabelValues("error").Inc()
		s.log.Warn("friends.publish.fail", "topic", topic, "event", eventType, "err", err)
		return
	}
	metrics.BusPublishes.WithLabelValues("ok").Inc()
}
