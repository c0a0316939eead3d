package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatloop/messaging-core/internal/model"
)

// MemberStore owns conversation membership rows. Row existence defines
// membership; removal is a hard delete that also fires the registered cascade
// hooks (read markers, favorites) for the removed pair.
//
// Storage is in-memory behind the store API, the same shape a database table
// keyed by (conversation_id, user_id) would take.
type MemberStore struct {
	mu             sync.RWMutex
	byConversation map[string][]model.Member
	byUser         map[string]map[string]struct{}

	// onRemove hooks run after a membership row is deleted. Registered at
	// wiring time, before any traffic.
	onRemove []func(conversationID, userID string)
}

// NewMemberStore creates an empty member store.
func NewMemberStore() *MemberStore {
	return &MemberStore{
		byConversation: make(map[string][]model.Member),
		byUser:         make(map[string]map[string]struct{}),
	}
}

// OnRemove registers a cascade hook invoked after each membership removal.
func (s *MemberStore) OnRemove(hook func(conversationID, userID string)) {
	s.onRemove = append(s.onRemove, hook)
}

// AddMember inserts a membership row. Adding an existing member fails with
// ErrAlreadyMember rather than silently rewriting the row.
func (s *MemberStore) AddMember(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUser[userID][conversationID]; ok {
		return ErrAlreadyMember
	}

	s.byConversation[conversationID] = append(s.byConversation[conversationID], model.Member{
		ConversationID: conversationID,
		UserID:         userID,
		JoinedAt:       time.Now().UTC(),
	})
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]struct{})
	}
	s.byUser[userID][conversationID] = struct{}{}
	return nil
}

// RemoveMember deletes a membership row and cascades the user's read marker
// and favorite mark for the conversation. Fails with ErrNotAMember if absent.
func (s *MemberStore) RemoveMember(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	members := s.byConversation[conversationID]
	idx := -1
	for i, m := range members {
		if m.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotAMember
	}

	s.byConversation[conversationID] = append(members[:idx:idx], members[idx+1:]...)
	delete(s.byUser[userID], conversationID)
	if len(s.byUser[userID]) == 0 {
		delete(s.byUser, userID)
	}
	hooks := s.onRemove
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(conversationID, userID)
	}
	return nil
}

// RemoveAll deletes every membership row for a conversation, firing cascade
// hooks per member. Removing an unknown or already-emptied conversation is a
// no-op, which makes the group-delete cascade step idempotent.
func (s *MemberStore) RemoveAll(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	removed := s.byConversation[conversationID]
	delete(s.byConversation, conversationID)
	for _, m := range removed {
		delete(s.byUser[m.UserID], conversationID)
		if len(s.byUser[m.UserID]) == 0 {
			delete(s.byUser, m.UserID)
		}
	}
	hooks := s.onRemove
	s.mu.Unlock()

	for _, m := range removed {
		for _, hook := range hooks {
			hook(conversationID, m.UserID)
		}
	}
	return nil
}

// ListMembers returns the members of a conversation in join order. An unknown
// conversation id yields an empty list, not an error; the caller decides what
// that means.
func (s *MemberStore) ListMembers(ctx context.Context, conversationID string) []model.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.byConversation[conversationID]
	out := make([]model.Member, len(members))
	copy(out, members)
	return out
}

// IsMember reports whether the user is currently in the conversation. This is
// the authority gate consulted before every mutating message or group
// operation.
func (s *MemberStore) IsMember(conversationID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byUser[userID][conversationID]
	return ok
}

// Count returns the current member count of a conversation.
func (s *MemberStore) Count(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byConversation[conversationID])
}

// ConversationsFor returns the ids of every conversation the user is in,
// sorted for deterministic iteration.
func (s *MemberStore) ConversationsFor(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
