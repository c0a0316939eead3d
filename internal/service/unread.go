package service

import (
	"context"
	"errors"
	"sync"

	"github.com/chatloop/messaging-core/internal/model"
	"github.com/chatloop/messaging-core/pkg/metrics"
)

// UnreadTracker keeps per-user read markers and derives unread counts from
// the message log. Counts are never stored: deriving from (marker, log) on
// every query rules out the stuck or negative counter bug class, at the cost
// of a count per conversation, which is bounded per user in practice.
type UnreadTracker struct {
	members *MemberStore
	log     *MessageLog
	locks   *Locks

	mu      sync.RWMutex
	markers map[string]model.OrderKey // conversation id + NUL + user id
}

// NewUnreadTracker creates a tracker and registers its marker cleanup with
// the member store's removal cascade.
func NewUnreadTracker(members *MemberStore, log *MessageLog, locks *Locks) *UnreadTracker {
	t := &UnreadTracker{
		members: members,
		log:     log,
		locks:   locks,
		markers: make(map[string]model.OrderKey),
	}
	members.OnRemove(t.forget)
	return t
}

func markerKey(conversationID, userID string) string {
	return conversationID + "\x00" + userID
}

// MarkRead advances the user's read marker to the given message. The marker
// is monotonic: an attempt to move it backward clamps silently instead of
// erroring, so out-of-order acknowledgements are harmless.
func (t *UnreadTracker) MarkRead(ctx context.Context, conversationID, userID, uptoMessageID string) error {
	lock := t.locks.Get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if !t.members.IsMember(conversationID, userID) {
		return ErrNotAMember
	}
	msg, err := t.log.Get(conversationID, uptoMessageID)
	if err != nil {
		return ErrNotFound
	}

	key := markerKey(conversationID, userID)
	upto := msg.OrderKey()

	t.mu.Lock()
	if current := t.markers[key]; current.Less(upto) {
		t.markers[key] = upto
	}
	t.mu.Unlock()
	return nil
}

// UnreadCount derives the user's unread count for one conversation: messages
// with ordering key past the read marker, excluding the user's own. The
// marker and the log are read under the conversation's read lock, one
// consistent snapshot per request.
func (t *UnreadTracker) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	lock := t.locks.Get(conversationID)
	lock.RLock()
	defer lock.RUnlock()

	if !t.members.IsMember(conversationID, userID) {
		return 0, ErrNotAMember
	}

	t.mu.RLock()
	marker := t.markers[markerKey(conversationID, userID)]
	t.mu.RUnlock()

	metrics.UnreadQueries.Inc()
	return t.log.countAfter(conversationID, marker, userID), nil
}

// TotalUnread sums unread counts across every conversation the user is
// currently in. Membership is re-checked per conversation at aggregation
// time, so a removal racing the sum never contributes.
func (t *UnreadTracker) TotalUnread(ctx context.Context, userID string) (int, error) {
	total := 0
	for _, conversationID := range t.members.ConversationsFor(userID) {
		count, err := t.UnreadCount(ctx, conversationID, userID)
		if errors.Is(err, ErrNotAMember) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

// Marker returns the user's current read marker; zero if nothing observed.
func (t *UnreadTracker) Marker(conversationID, userID string) model.OrderKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.markers[markerKey(conversationID, userID)]
}

// forget drops the marker when the membership row goes away.
func (t *UnreadTracker) forget(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.markers, markerKey(conversationID, userID))
}
