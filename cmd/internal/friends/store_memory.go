package friends

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a process-local Store for development and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[string]map[string]struct{} // toID -> fromIDs
	friends  map[string]map[string]struct{} // userID -> friendIDs
}

// NewInMemoryStore constructs an empty in-memory friend store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[string]map[string]struct{}),
		friends:  make(map[string]map[string]struct{}),
	}
}

func (s *InMemoryStore) AddRequest(_ context.Context, toID, fromID string) error {
	if toID == "" || fromID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.requests[toID]
	if !ok {
		set = make(map[string]struct{})
		s.requests[toID] = set
	}
	set[fromID] = struct{}{}
	return nil
}

func (s *InMemoryStore) HasRequest(_ context.Context, toID, fromID string) (bool, error) {
	if toID == "" || fromID == "" {
		return false, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.requests[toID][fromID]
	return ok, nil
}

func (s *InMemoryStore) RemoveRequest(_ context.Context, toID, fromID string) error {
	if toID == "" || fromID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests[toID], fromID)
	return nil
}

func (s *InMemoryStore) AddFriendship(_ context.Context, a, b string) error {
	if a == "" || b == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link(a, b)
	s.link(b, a)
	return nil
}

func (s *InMemoryStore) link(userID, friendID string) {
	set, ok := s.friends[userID]
	if !ok {
		set = make(map[string]struct{})
		s.friends[userID] = set
	}
	set[friendID] = struct{}{}
}

func (s *InMemoryStore) IsFriend(_ context.Context, userID, otherID string) (bool, error) {
	if userID == "" || otherID == "" {
		return false, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.friends[userID][otherID]
	return ok, nil
}

func (s *InMemoryStore) Friends(_ context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.friends[userID]))
	for id := range s.friends[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
