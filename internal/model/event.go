package model

import (
	"time"
)

// EventType represents the type of conversation event published on the
// fan-out side channel.
type EventType string

const (
	EventMessageCreated      EventType = "message.created"
	EventConversationCreated EventType = "conversation.created"
	EventConversationRenamed EventType = "conversation.renamed"
	EventAvatarChanged       EventType = "conversation.avatar"
	EventMemberAdded         EventType = "member.added"
	EventMemberRemoved       EventType = "member.removed"
	EventConversationDeleted EventType = "conversation.deleted"
)

// ConversationEvent is published once per state change. Delivery downstream
// is at-least-once; consumers deduplicate by Message.ID or event ID.
type ConversationEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Type           EventType `json:"type"`
	ActorID        string    `json:"actor_id,omitempty"`
	SubjectUserID  string    `json:"subject_user_id,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HeartbeatEvent keeps SSE connections alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent reports a failure to an SSE subscriber.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
