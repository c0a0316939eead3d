package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatloop/messaging-core/internal/model"
	"github.com/chatloop/messaging-core/pkg/logger"
	"github.com/chatloop/messaging-core/pkg/metrics"
)

const defaultPageSize = 50

// MessageLog is the append-only, per-conversation ordered log of messages.
// It is the ordering authority: ids and timestamps are server-assigned under
// the conversation lock, so concurrent sends interleave deterministically
// regardless of network arrival order.
type MessageLog struct {
	registry  *ConversationRegistry
	members   *MemberStore
	locks     *Locks
	publisher Publisher
	logger    *logger.Logger

	mu     sync.RWMutex
	byConv map[string][]*model.Message
	byID   map[string]map[string]*model.Message
}

// NewMessageLog creates an empty message log.
func NewMessageLog(registry *ConversationRegistry, members *MemberStore, locks *Locks, publisher Publisher, log *logger.Logger) *MessageLog {
	return &MessageLog{
		registry:  registry,
		members:   members,
		locks:     locks,
		publisher: publisher,
		logger:    log,
		byConv:    make(map[string][]*model.Message),
		byID:      make(map[string]map[string]*model.Message),
	}
}

// Append validates and durably appends a message, touches the conversation,
// and publishes one fan-out event. It returns once the append is durable; it
// never waits for delivery.
func (l *MessageLog) Append(ctx context.Context, conversationID, senderID, content string, attachment *model.Attachment) (*model.Message, error) {
	lock := l.locks.Get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := l.registry.Get(ctx, conversationID)
	if err != nil || !conv.Live() {
		return nil, ErrNotFound
	}
	if !l.members.IsMember(conversationID, senderID) {
		return nil, ErrNotAuthorized
	}
	if attachment != nil {
		if attachment.Reference == "" || !attachment.Kind.Valid() {
			return nil, ErrInvalidAttachment
		}
	}
	if strings.TrimSpace(content) == "" && attachment == nil {
		return nil, ErrEmptyMessage
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachment:     attachment,
		CreatedAt:      time.Now().UTC(),
	}

	l.mu.Lock()
	log := l.byConv[conversationID]
	if n := len(log); n > 0 && !log[n-1].OrderKey().Less(msg.OrderKey()) {
		// The wall clock tied or stepped back; the log must stay strictly
		// ordered under its own key.
		msg.CreatedAt = log[n-1].CreatedAt.Add(time.Microsecond)
	}
	l.byConv[conversationID] = append(log, msg)
	if l.byID[conversationID] == nil {
		l.byID[conversationID] = make(map[string]*model.Message)
	}
	l.byID[conversationID][msg.ID] = msg
	l.mu.Unlock()

	l.registry.Touch(conversationID, msg.CreatedAt)

	kind := "text"
	if attachment != nil {
		kind = string(attachment.Kind)
	}
	metrics.MessagesAppended.WithLabelValues(kind).Inc()
	l.logger.Debug("message appended",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID),
		zap.String("sender_id", senderID),
	)

	publishEvent(ctx, l.publisher, l.logger, &model.ConversationEvent{
		ConversationID: conversationID,
		Type:           model.EventMessageCreated,
		ActorID:        senderID,
		Message:        copyMessage(msg),
	})

	return copyMessage(msg), nil
}

// ListSince returns up to limit messages strictly after the given message, in
// forward order. An empty marker starts from the beginning; re-issuing with
// the last returned id resumes the walk. An unknown marker id is ErrNotFound;
// an unknown conversation yields an empty page.
func (l *MessageLog) ListSince(ctx context.Context, conversationID, afterMessageID string, limit int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	lock := l.locks.Get(conversationID)
	lock.RLock()
	defer lock.RUnlock()

	l.mu.RLock()
	defer l.mu.RUnlock()

	log := l.byConv[conversationID]
	start := 0
	if afterMessageID != "" {
		marker, ok := l.byID[conversationID][afterMessageID]
		if !ok {
			return nil, ErrNotFound
		}
		key := marker.OrderKey()
		start = sort.Search(len(log), func(i int) bool {
			return key.Less(log[i].OrderKey())
		})
	}

	end := start + limit
	if end > len(log) {
		end = len(log)
	}
	return &model.ListMessagesResponse{
		Messages: copyMessages(log[start:end]),
		HasMore:  end < len(log),
	}, nil
}

// ListBefore returns up to limit messages strictly before the given message,
// still in forward order, for backward history scroll. An empty marker pages
// from the end of the log.
func (l *MessageLog) ListBefore(ctx context.Context, conversationID, beforeMessageID string, limit int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	lock := l.locks.Get(conversationID)
	lock.RLock()
	defer lock.RUnlock()

	l.mu.RLock()
	defer l.mu.RUnlock()

	log := l.byConv[conversationID]
	end := len(log)
	if beforeMessageID != "" {
		marker, ok := l.byID[conversationID][beforeMessageID]
		if !ok {
			return nil, ErrNotFound
		}
		key := marker.OrderKey()
		end = sort.Search(len(log), func(i int) bool {
			return !log[i].OrderKey().Less(key)
		})
	}

	start := end - limit
	if start < 0 {
		start = 0
	}
	return &model.ListMessagesResponse{
		Messages: copyMessages(log[start:end]),
		HasMore:  start > 0,
	}, nil
}

// Get returns a copy of one message, or ErrNotFound.
func (l *MessageLog) Get(conversationID, messageID string) (*model.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msg, ok := l.byID[conversationID][messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// countAfter counts messages with ordering key greater than after, excluding
// those authored by excludeSender. This is the canonical unread derivation.
func (l *MessageLog) countAfter(conversationID string, after model.OrderKey, excludeSender string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	log := l.byConv[conversationID]
	start := 0
	if !after.IsZero() {
		start = sort.Search(len(log), func(i int) bool {
			return after.Less(log[i].OrderKey())
		})
	}

	count := 0
	for _, msg := range log[start:] {
		if msg.SenderID != excludeSender {
			count++
		}
	}
	return count
}

// PurgeConversation deletes every message for a conversation. Purging an
// unknown or already-purged conversation is a no-op, which makes the
// group-delete cascade step idempotent.
func (l *MessageLog) PurgeConversation(ctx context.Context, conversationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.byConv, conversationID)
	delete(l.byID, conversationID)
	return nil
}

func copyMessage(msg *model.Message) *model.Message {
	out := *msg
	if msg.Attachment != nil {
		att := *msg.Attachment
		out.Attachment = &att
	}
	return &out
}

func copyMessages(msgs []*model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = *copyMessage(msg)
	}
	return out
}
