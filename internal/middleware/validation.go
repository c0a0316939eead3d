package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageContent validates message content. Empty content is allowed
// here because a message may carry only an attachment; the service layer
// enforces the content-or-attachment rule.
func ValidateMessageContent(content string) error {
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateUserID validates a user ID supplied in a request body or path.
func ValidateUserID(id string) error {
	if len(id) == 0 {
		return errors.New("user ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("user ID exceeds maximum length")
	}
	return nil
}

// ValidateGroupName validates a group conversation name.
func ValidateGroupName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("group name cannot be empty")
	}
	if len(name) > 128 {
		return errors.New("group name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("group name must be valid UTF-8")
	}
	return nil
}

// ValidateReference validates an opaque storage reference.
func ValidateReference(ref string) error {
	if len(ref) == 0 {
		return errors.New("reference cannot be empty")
	}
	if len(ref) > 2048 {
		return errors.New("reference exceeds maximum length")
	}
	return nil
}
