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

// ConversationRegistry owns conversation metadata and lifecycle transitions.
// Direct conversations are deduplicated by their unordered member pair; group
// mutations are reserved for the creator.
type ConversationRegistry struct {
	members   *MemberStore
	locks     *Locks
	publisher Publisher
	logger    *logger.Logger

	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	directPairs   map[string]string // pair key -> conversation id
	pairByConv    map[string]string // conversation id -> pair key
}

// NewConversationRegistry creates an empty registry.
func NewConversationRegistry(members *MemberStore, locks *Locks, publisher Publisher, log *logger.Logger) *ConversationRegistry {
	return &ConversationRegistry{
		members:       members,
		locks:         locks,
		publisher:     publisher,
		logger:        log,
		conversations: make(map[string]*model.Conversation),
		directPairs:   make(map[string]string),
		pairByConv:    make(map[string]string),
	}
}

// directPairKey builds the dedup index key for a direct conversation. The
// pair is unordered, so both argument orders map to the same key.
func directPairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "\x00" + userB
}

// CreateDirect returns the existing direct conversation between the pair, or
// creates it with both membership rows. The second return value reports
// whether a conversation was created.
func (r *ConversationRegistry) CreateDirect(ctx context.Context, userA, userB string) (*model.Conversation, bool, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, false, ErrNotFound
	}

	key := directPairKey(userA, userB)

	r.mu.Lock()
	if id, ok := r.directPairs[key]; ok {
		conv := *r.conversations[id]
		r.mu.Unlock()
		return &conv, false, nil
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:            uuid.Must(uuid.NewV7()).String(),
		IsGroup:       false,
		CreatedBy:     userA,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	r.conversations[conv.ID] = conv
	r.directPairs[key] = conv.ID
	r.pairByConv[conv.ID] = key

	// Membership rows are inserted while the registry lock is held so the
	// conversation is never visible without its two members.
	if err := r.members.AddMember(ctx, conv.ID, userA); err != nil {
		r.dropLocked(conv.ID)
		r.mu.Unlock()
		return nil, false, err
	}
	if err := r.members.AddMember(ctx, conv.ID, userB); err != nil {
		_ = r.members.RemoveMember(ctx, conv.ID, userA)
		r.dropLocked(conv.ID)
		r.mu.Unlock()
		return nil, false, err
	}
	r.mu.Unlock()

	metrics.ConversationsActive.WithLabelValues("direct").Inc()
	r.logger.Info("direct conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_a", userA),
		zap.String("user_b", userB),
	)
	publishEvent(ctx, r.publisher, r.logger, &model.ConversationEvent{
		ConversationID: conv.ID,
		Type:           model.EventConversationCreated,
		ActorID:        userA,
	})

	out := *conv
	return &out, true, nil
}

// CreateGroup validates the name and creates the conversation row. Membership
// rows are the orchestrator's job (GroupAdmin), which rolls this row back if
// member insertion fails partway.
func (r *ConversationRegistry) CreateGroup(ctx context.Context, creatorID, name string) (*model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidGroupName
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:            uuid.Must(uuid.NewV7()).String(),
		IsGroup:       true,
		Name:          name,
		CreatedBy:     creatorID,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	r.mu.Lock()
	r.conversations[conv.ID] = conv
	r.mu.Unlock()

	metrics.ConversationsActive.WithLabelValues("group").Inc()
	r.logger.Info("group created",
		zap.String("conversation_id", conv.ID),
		zap.String("creator_id", creatorID),
		zap.String("name", name),
	)

	out := *conv
	return &out, nil
}

// Get returns a copy of the conversation, or ErrNotFound.
func (r *ConversationRegistry) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *conv
	return &out, nil
}

// ListForUser returns the user's conversations, newest activity first.
func (r *ConversationRegistry) ListForUser(ctx context.Context, userID string) []model.Conversation {
	ids := r.members.ConversationsFor(userID)

	r.mu.RLock()
	out := make([]model.Conversation, 0, len(ids))
	for _, id := range ids {
		if conv, ok := r.conversations[id]; ok && conv.Live() {
			out = append(out, *conv)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Rename changes a group's name. Only the group creator may rename.
func (r *ConversationRegistry) Rename(ctx context.Context, conversationID, requesterID, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return ErrInvalidGroupName
	}

	lock := r.locks.Get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.mutateGroup(conversationID, requesterID, func(conv *model.Conversation) {
		conv.Name = newName
	}); err != nil {
		return err
	}

	publishEvent(ctx, r.publisher, r.logger, &model.ConversationEvent{
		ConversationID: conversationID,
		Type:           model.EventConversationRenamed,
		ActorID:        requesterID,
	})
	return nil
}

// SetAvatar changes a group's avatar reference. Same authority rule as Rename.
// The reference is opaque to the core.
func (r *ConversationRegistry) SetAvatar(ctx context.Context, conversationID, requesterID, reference string) error {
	lock := r.locks.Get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.mutateGroup(conversationID, requesterID, func(conv *model.Conversation) {
		conv.AvatarRef = reference
	}); err != nil {
		return err
	}

	publishEvent(ctx, r.publisher, r.logger, &model.ConversationEvent{
		ConversationID: conversationID,
		Type:           model.EventAvatarChanged,
		ActorID:        requesterID,
	})
	return nil
}

// mutateGroup applies a change to a live group after the creator-authority
// check. Caller holds the conversation write lock.
func (r *ConversationRegistry) mutateGroup(conversationID, requesterID string, apply func(*model.Conversation)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[conversationID]
	if !ok || !conv.Live() {
		return ErrNotFound
	}
	if !conv.IsGroup {
		return ErrNotAGroup
	}
	if conv.CreatedBy != requesterID {
		return ErrNotAuthorized
	}
	apply(conv)
	return nil
}

// Touch updates last_message_at after a successful append.
func (r *ConversationRegistry) Touch(conversationID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.conversations[conversationID]; ok && at.After(conv.LastMessageAt) {
		conv.LastMessageAt = at
	}
}

// advanceStage durably records completion of a cascade-delete step. The stage
// never moves backward.
func (r *ConversationRegistry) advanceStage(conversationID string, stage model.DeleteStage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.conversations[conversationID]; ok && stage > conv.DeleteStage {
		conv.DeleteStage = stage
	}
}

// remove deletes the conversation row and its dedup index entry.
func (r *ConversationRegistry) remove(conversationID string) {
	r.mu.Lock()
	conv, ok := r.conversations[conversationID]
	if ok {
		r.dropLocked(conversationID)
	}
	r.mu.Unlock()

	if ok {
		kind := "direct"
		if conv.IsGroup {
			kind = "group"
		}
		metrics.ConversationsActive.WithLabelValues(kind).Dec()
	}
}

// dropLocked removes the row and indexes. Caller holds r.mu.
func (r *ConversationRegistry) dropLocked(conversationID string) {
	delete(r.conversations, conversationID)
	if key, ok := r.pairByConv[conversationID]; ok {
		delete(r.directPairs, key)
		delete(r.pairByConv, conversationID)
	}
}
