package service

import (
	"context"
	"sort"
	"sync"
)

// FavoritesIndex is a per-user marking of conversations as favorite. It is a
// sorting and filtering aid only; no other entity's invariants depend on it.
// Marks disappear with the membership row that allowed them.
type FavoritesIndex struct {
	members *MemberStore

	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
}

// NewFavoritesIndex creates an index and registers its cleanup with the
// member store's removal cascade.
func NewFavoritesIndex(members *MemberStore) *FavoritesIndex {
	f := &FavoritesIndex{
		members: members,
		byUser:  make(map[string]map[string]struct{}),
	}
	members.OnRemove(f.clear)
	return f
}

// Toggle flips the favorite mark and returns the new state. Only members may
// favorite a conversation.
func (f *FavoritesIndex) Toggle(ctx context.Context, userID, conversationID string) (bool, error) {
	if !f.members.IsMember(conversationID, userID) {
		return false, ErrNotAMember
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.byUser[userID][conversationID]; ok {
		delete(f.byUser[userID], conversationID)
		if len(f.byUser[userID]) == 0 {
			delete(f.byUser, userID)
		}
		return false, nil
	}
	if f.byUser[userID] == nil {
		f.byUser[userID] = make(map[string]struct{})
	}
	f.byUser[userID][conversationID] = struct{}{}
	return true, nil
}

// ListFavorites returns the user's favorite conversation ids, sorted.
func (f *FavoritesIndex) ListFavorites(ctx context.Context, userID string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.byUser[userID]))
	for id := range f.byUser[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsFavorite reports whether the user has marked the conversation.
func (f *FavoritesIndex) IsFavorite(userID, conversationID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.byUser[userID][conversationID]
	return ok
}

// clear drops the mark when the membership row goes away.
func (f *FavoritesIndex) clear(conversationID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.byUser[userID], conversationID)
	if len(f.byUser[userID]) == 0 {
		delete(f.byUser, userID)
	}
}
