package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatloop/messaging-core/internal/model"
	"github.com/chatloop/messaging-core/pkg/logger"
	"github.com/chatloop/messaging-core/pkg/metrics"
)

// membershipStore is the slice of MemberStore that GroupAdmin orchestrates
// against. Narrow on purpose: tests substitute failing implementations to
// exercise partial-failure recovery.
type membershipStore interface {
	AddMember(ctx context.Context, conversationID, userID string) error
	RemoveMember(ctx context.Context, conversationID, userID string) error
	RemoveAll(ctx context.Context, conversationID string) error
	IsMember(conversationID, userID string) bool
	Count(conversationID string) int
}

// messagePurger is the slice of MessageLog the delete cascade needs.
type messagePurger interface {
	PurgeConversation(ctx context.Context, conversationID string) error
}

// GroupAdmin orchestrates multi-step group operations that must look atomic
// to the caller: create-with-members (rolled back on partial failure),
// membership changes, and the ordered, resumable delete cascade.
type GroupAdmin struct {
	registry   *ConversationRegistry
	members    membershipStore
	messages   messagePurger
	locks      *Locks
	publisher  Publisher
	logger     *logger.Logger
	maxMembers int
}

// NewGroupAdmin creates a group administration orchestrator.
func NewGroupAdmin(registry *ConversationRegistry, members membershipStore, messages messagePurger, locks *Locks, publisher Publisher, log *logger.Logger, maxMembers int) *GroupAdmin {
	return &GroupAdmin{
		registry:   registry,
		members:    members,
		messages:   messages,
		locks:      locks,
		publisher:  publisher,
		logger:     log,
		maxMembers: maxMembers,
	}
}

// normalizeMembers dedupes the requested member set and drops the creator and
// blanks. Order of first appearance is preserved so join order is stable.
func normalizeMembers(creatorID string, memberIDs []string) []string {
	seen := map[string]struct{}{creatorID: {}, "": {}}
	out := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CreateGroup creates a group with the creator plus the given members. If
// member insertion fails partway, the conversation row and any inserted
// members are rolled back: no orphaned empty-member groups.
func (g *GroupAdmin) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (conv *model.Conversation, err error) {
	defer func() { metrics.RecordGroupOperation("create", err) }()

	extras := normalizeMembers(creatorID, memberIDs)
	if len(extras) == 0 {
		return nil, ErrEmptyMemberSet
	}
	if g.maxMembers > 0 && len(extras)+1 > g.maxMembers {
		return nil, ErrGroupFull
	}

	conv, err = g.registry.CreateGroup(ctx, creatorID, name)
	if err != nil {
		return nil, err
	}

	var added []string
	for _, userID := range append([]string{creatorID}, extras...) {
		if err = g.members.AddMember(ctx, conv.ID, userID); err != nil {
			for _, rollback := range added {
				_ = g.members.RemoveMember(ctx, conv.ID, rollback)
			}
			g.registry.remove(conv.ID)
			g.locks.Drop(conv.ID)
			return nil, fmt.Errorf("adding member %s: %w", userID, err)
		}
		added = append(added, userID)
	}

	g.logger.Info("group created with members",
		zap.String("conversation_id", conv.ID),
		zap.String("creator_id", creatorID),
		zap.Int("member_count", len(added)),
	)
	publishEvent(ctx, g.publisher, g.logger, &model.ConversationEvent{
		ConversationID: conv.ID,
		Type:           model.EventConversationCreated,
		ActorID:        creatorID,
	})
	return conv, nil
}

// AddMember adds a user to a group. Only the creator may add; adding an
// existing member surfaces ErrAlreadyMember unchanged so the caller can treat
// it as idempotent if it wants to.
func (g *GroupAdmin) AddMember(ctx context.Context, conversationID, requesterID, newUserID string) (err error) {
	defer func() { metrics.RecordGroupOperation("add_member", err) }()

	lock := g.locks.Get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if err = g.requireCreator(ctx, conversationID, requesterID); err != nil {
		return err
	}
	if newUserID == "" {
		return ErrNotFound
	}
	if g.maxMembers > 0 && g.members.Count(conversationID) >= g.maxMembers {
		return ErrGroupFull
	}
	if err = g.members.AddMember(ctx, conversationID, newUserID); err != nil {
		return err
	}

	publishEvent(ctx, g.publisher, g.logger, &model.ConversationEvent{
		ConversationID: conversationID,
		Type:           model.EventMemberAdded,
		ActorID:        requesterID,
		SubjectUserID:  newUserID,
	})
	return nil
}

// RemoveMember removes a user from a group. Only the creator may remove, and
// the creator cannot be removed by this path; deleting the group is the only
// way out for the creator.
func (g *GroupAdmin) RemoveMember(ctx context.Context, conversationID, requesterID, targetUserID string) (err error) {
	defer func() { metrics.RecordGroupOperation("remove_member", err) }()

	lock := g.locks.Get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if err = g.requireCreator(ctx, conversationID, requesterID); err != nil {
		return err
	}
	conv, _ := g.registry.Get(ctx, conversationID)
	if targetUserID == conv.CreatedBy {
		return ErrCreatorMustDelete
	}
	if err = g.members.RemoveMember(ctx, conversationID, targetUserID); err != nil {
		return err
	}

	publishEvent(ctx, g.publisher, g.logger, &model.ConversationEvent{
		ConversationID: conversationID,
		Type:           model.EventMemberRemoved,
		ActorID:        requesterID,
		SubjectUserID:  targetUserID,
	})
	return nil
}

// LeaveGroup removes the caller from a conversation. The group creator is
// rejected with ErrCreatorMustDelete; that asymmetry is the authority rule,
// not an oversight. Either member may leave a direct conversation, and the
// conversation disappears once the second member is gone.
func (g *GroupAdmin) LeaveGroup(ctx context.Context, conversationID, userID string) (err error) {
	defer func() { metrics.RecordGroupOperation("leave", err) }()

	lock := g.locks.Get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := g.registry.Get(ctx, conversationID)
	if err != nil || !conv.Live() {
		return ErrNotFound
	}
	if conv.IsGroup && conv.CreatedBy == userID {
		return ErrCreatorMustDelete
	}
	if err = g.members.RemoveMember(ctx, conversationID, userID); err != nil {
		return err
	}

	publishEvent(ctx, g.publisher, g.logger, &model.ConversationEvent{
		ConversationID: conversationID,
		Type:           model.EventMemberRemoved,
		ActorID:        userID,
		SubjectUserID:  userID,
	})

	if !conv.IsGroup && g.members.Count(conversationID) == 0 {
		// Both members have left; the direct conversation disappears with
		// its history and its pair-dedup entry.
		_ = g.messages.PurgeConversation(ctx, conversationID)
		g.registry.remove(conversationID)
		g.locks.Drop(conversationID)
	}
	return nil
}

// DeleteGroup destroys a group and everything referencing it, in a fixed
// order: messages, then membership rows (which cascade read markers and
// favorites), then the conversation row. Each completed step is recorded on
// the row, so the same call retried after a failure resumes at the first
// incomplete step; no step is skipped or double-applied.
func (g *GroupAdmin) DeleteGroup(ctx context.Context, conversationID, requesterID string) (err error) {
	defer func() { metrics.RecordGroupOperation("delete", err) }()

	lock := g.locks.Get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := g.registry.Get(ctx, conversationID)
	if err != nil {
		return ErrNotFound
	}
	if !conv.IsGroup {
		return ErrNotAGroup
	}
	if conv.CreatedBy != requesterID {
		return ErrNotAuthorized
	}

	stage := conv.DeleteStage
	if stage < model.StageMessagesPurged {
		if err = g.messages.PurgeConversation(ctx, conversationID); err != nil {
			return &CascadeError{Step: StepPurgeMessages, Err: err}
		}
		g.registry.advanceStage(conversationID, model.StageMessagesPurged)
		stage = model.StageMessagesPurged
	}
	if stage < model.StageMembersRemoved {
		if err = g.members.RemoveAll(ctx, conversationID); err != nil {
			return &CascadeError{Step: StepRemoveMembers, Err: err}
		}
		g.registry.advanceStage(conversationID, model.StageMembersRemoved)
	}
	g.registry.remove(conversationID)
	g.locks.Drop(conversationID)

	g.logger.Info("group deleted",
		zap.String("conversation_id", conversationID),
		zap.String("requester_id", requesterID),
	)
	publishEvent(ctx, g.publisher, g.logger, &model.ConversationEvent{
		ConversationID: conversationID,
		Type:           model.EventConversationDeleted,
		ActorID:        requesterID,
	})
	return nil
}

// requireCreator checks the conversation is a live group administered by the
// requester. Authority is re-validated here on every call; a client-asserted
// role is never trusted.
func (g *GroupAdmin) requireCreator(ctx context.Context, conversationID, requesterID string) error {
	conv, err := g.registry.Get(ctx, conversationID)
	if err != nil || !conv.Live() {
		return ErrNotFound
	}
	if !conv.IsGroup {
		return ErrNotAGroup
	}
	if conv.CreatedBy != requesterID {
		return ErrNotAuthorized
	}
	return nil
}
