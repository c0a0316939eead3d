// Package service implements the conversation and group-messaging core:
// membership, conversation lifecycle, the message log, read markers, group
// administration, and favorites.
package service

import (
	"errors"
	"fmt"
)

// Sentinel errors. Handlers match these with errors.Is to pick a status code,
// so every distinct failure the caller can act on has its own value.
var (
	// ErrNotFound is returned when a mutating operation names an unknown
	// conversation or message. Read paths that tolerate unknown ids return
	// empty results instead.
	ErrNotFound = errors.New("not found")

	// ErrNotAMember is returned when the caller is not a member of the
	// conversation.
	ErrNotAMember = errors.New("not a member of this conversation")

	// ErrNotAuthorized is returned when the caller lacks authority for the
	// operation, including non-members attempting to send.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotAGroup is returned for group-only operations on a direct
	// conversation.
	ErrNotAGroup = errors.New("conversation is not a group")

	// ErrCreatorMustDelete is returned when the group creator tries to leave
	// or remove themself; the creator's only exit is deleting the group.
	ErrCreatorMustDelete = errors.New("group creator must delete the group")

	// ErrAlreadyMember is returned when adding a user who is already a member.
	ErrAlreadyMember = errors.New("already a member")

	// ErrInvalidGroupName is returned for an empty or blank group name.
	ErrInvalidGroupName = errors.New("invalid group name")

	// ErrEmptyMemberSet is returned when a group would have no members
	// besides its creator.
	ErrEmptyMemberSet = errors.New("group needs at least one member besides the creator")

	// ErrGroupFull is returned when adding a member would exceed the
	// configured group size limit.
	ErrGroupFull = errors.New("group member limit reached")

	// ErrEmptyMessage is returned when a message has neither content nor an
	// attachment.
	ErrEmptyMessage = errors.New("message needs content or an attachment")

	// ErrInvalidAttachment is returned for an attachment with a blank
	// reference or unknown kind.
	ErrInvalidAttachment = errors.New("invalid attachment")
)

// Cascade step names, reported to the caller so a retry can resume.
const (
	StepPurgeMessages      = "purge_messages"
	StepRemoveMembers      = "remove_members"
	StepRemoveConversation = "remove_conversation"
)

// CascadeError reports which step of a multi-step group operation failed.
// The completed steps are durable; retrying the same call resumes from Step.
type CascadeError struct {
	Step string
	Err  error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("cascade step %s failed: %v", e.Step, e.Err)
}

func (e *CascadeError) Unwrap() error {
	return e.Err
}
