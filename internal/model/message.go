package model

import (
	"time"
)

// AttachmentKind tags the media type of an attachment reference.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Valid reports whether the kind is one of the known media tags.
func (k AttachmentKind) Valid() bool {
	switch k {
	case AttachmentImage, AttachmentVideo, AttachmentAudio, AttachmentFile:
		return true
	}
	return false
}

// Attachment is an opaque storage reference resolved by an external blob
// store; the core never interprets its content.
type Attachment struct {
	Reference string         `json:"reference"`
	Kind      AttachmentKind `json:"kind"`
}

// Message is an immutable entry in a conversation's log. Every message has
// non-empty content or an attachment, never neither.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// OrderKey is the server-assigned ordering key for a message: creation time
// with the id as a deterministic tie-break. Clients never supply it.
type OrderKey struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// OrderKey returns the message's position in its conversation's log.
func (m *Message) OrderKey() OrderKey {
	return OrderKey{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Less reports whether k sorts strictly before other.
func (k OrderKey) Less(other OrderKey) bool {
	if !k.CreatedAt.Equal(other.CreatedAt) {
		return k.CreatedAt.Before(other.CreatedAt)
	}
	return k.ID < other.ID
}

// IsZero reports whether the key is unset (reader has observed nothing).
func (k OrderKey) IsZero() bool {
	return k.CreatedAt.IsZero() && k.ID == ""
}

// SendMessageRequest is the request to append a message.
type SendMessageRequest struct {
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// ListMessagesResponse is the response for a message page.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// MarkReadRequest advances the caller's read marker.
type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

// UnreadResponse reports an unread count.
type UnreadResponse struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Unread         int    `json:"unread"`
}
