// Package model defines data structures for the messaging core.
package model

import (
	"time"
)

// DeleteStage tracks cascade-delete progress for a conversation. The stage
// only ever advances, so a retried delete resumes from the first incomplete
// step instead of restarting.
type DeleteStage int

const (
	// StageLive means the conversation is fully live.
	StageLive DeleteStage = iota
	// StageMessagesPurged means step 1 of the cascade completed.
	StageMessagesPurged
	// StageMembersRemoved means step 2 of the cascade completed.
	StageMembersRemoved
)

// Conversation represents a direct or group conversation.
type Conversation struct {
	ID            string    `json:"id"`
	IsGroup       bool      `json:"is_group"`
	Name          string    `json:"name,omitempty"`
	AvatarRef     string    `json:"avatar_ref,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`

	// DeleteStage is internal cascade bookkeeping, never serialized.
	DeleteStage DeleteStage `json:"-"`
}

// Live reports whether the conversation accepts mutations. A conversation
// mid-cascade is visible only to the delete retry path.
func (c *Conversation) Live() bool {
	return c.DeleteStage == StageLive
}

// Member is a membership row. Row existence defines membership; removal is a
// hard delete.
type Member struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

// CreateDirectRequest is the request to open a direct conversation.
type CreateDirectRequest struct {
	PeerID string `json:"peer_id"`
}

// CreateGroupRequest is the request to create a group conversation.
type CreateGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// RenameGroupRequest is the request to rename a group.
type RenameGroupRequest struct {
	Name string `json:"name"`
}

// SetAvatarRequest is the request to change a group avatar.
type SetAvatarRequest struct {
	Reference string `json:"reference"`
}

// AddMemberRequest is the request to add a member to a group.
type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

// ConversationSummary is a conversation as seen by one user, with derived
// per-user state attached.
type ConversationSummary struct {
	Conversation
	// CounterpartID is the other member of a direct conversation; callers
	// derive the display name from it since direct names are not stored.
	CounterpartID string `json:"counterpart_id,omitempty"`
	UnreadCount   int    `json:"unread_count"`
	Favorite      bool   `json:"favorite"`
}

// ConversationDetail is a conversation with its member list.
type ConversationDetail struct {
	Conversation
	Members []Member `json:"members"`
}

// ListConversationsResponse is the response for listing a user's conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	TotalUnread   int                   `json:"total_unread"`
}
