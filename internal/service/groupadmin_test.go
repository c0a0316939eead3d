package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/chatloop/messaging-core/internal/model"
	"github.com/chatloop/messaging-core/pkg/logger"
)

// flakyMembers wraps the real member store and fails RemoveAll a configured
// number of times before letting it through.
type flakyMembers struct {
	*MemberStore
	removeAllFailures int
	removeAllCalls    int
}

func (f *flakyMembers) RemoveAll(ctx context.Context, conversationID string) error {
	f.removeAllCalls++
	if f.removeAllFailures > 0 {
		f.removeAllFailures--
		return errors.New("store unavailable")
	}
	return f.MemberStore.RemoveAll(ctx, conversationID)
}

// countingPurger wraps the real log and counts purges.
type countingPurger struct {
	*MessageLog
	calls    int
	failures int
}

func (p *countingPurger) PurgeConversation(ctx context.Context, conversationID string) error {
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("store unavailable")
	}
	return p.MessageLog.PurgeConversation(ctx, conversationID)
}

func TestCreateGroupMembers(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	conv := c.mustCreateGroup(t, "alice", "Trip", "bob", "carol")

	var ids []string
	for _, m := range c.members.ListMembers(ctx, conv.ID) {
		ids = append(ids, m.UserID)
	}
	want := []string{"alice", "bob", "carol"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("members: got %v, want %v", ids, want)
	}
	if conv.CreatedBy != "alice" || !conv.IsGroup || conv.Name != "Trip" {
		t.Errorf("conversation row: %+v", conv)
	}
	if events := c.publisher.byType(model.EventConversationCreated); len(events) != 1 {
		t.Errorf("published %d conversation.created events, want 1", len(events))
	}
}

func TestCreateGroupValidation(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		creator string
		gname   string
		members []string
		wantErr error
	}{
		{"empty member set", "alice", "Trip", nil, ErrEmptyMemberSet},
		{"only creator listed", "alice", "Trip", []string{"alice"}, ErrEmptyMemberSet},
		{"only blanks", "alice", "Trip", []string{"", ""}, ErrEmptyMemberSet},
		{"blank name", "alice", "  ", []string{"bob"}, ErrInvalidGroupName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.admin.CreateGroup(ctx, tt.creator, tt.gname, tt.members)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateGroup: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateGroupDedupesMembers(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)

	conv := c.mustCreateGroup(t, "alice", "Trip", "bob", "bob", "alice", "carol", "bob")

	if got := c.members.Count(conv.ID); got != 3 {
		t.Errorf("member count: got %d, want 3", got)
	}
}

func TestCreateGroupMemberCap(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	admin := NewGroupAdmin(c.registry, c.members, c.messages, c.locks, c.publisher, log, 3)

	if _, err := admin.CreateGroup(ctx, "alice", "Trip", []string{"bob", "carol", "dave"}); !errors.Is(err, ErrGroupFull) {
		t.Errorf("over-cap CreateGroup: got %v, want ErrGroupFull", err)
	}

	conv, err := admin.CreateGroup(ctx, "alice", "Trip", []string{"bob", "carol"})
	if err != nil {
		t.Fatalf("at-cap CreateGroup: %v", err)
	}
	if err := admin.AddMember(ctx, conv.ID, "alice", "dave"); !errors.Is(err, ErrGroupFull) {
		t.Errorf("AddMember past cap: got %v, want ErrGroupFull", err)
	}
}

func TestCreateGroupRollsBackOnPartialFailure(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	// Fail the third AddMember (carol) after alice and bob landed.
	members := &failAfterMembers{MemberStore: c.members, allow: 2}
	admin := NewGroupAdmin(c.registry, members, c.messages, c.locks, c.publisher, log, 0)

	if _, err := admin.CreateGroup(ctx, "alice", "Trip", []string{"bob", "carol"}); err == nil {
		t.Fatal("CreateGroup succeeded, want partial-failure error")
	}

	// Nothing leaks: no row, no memberships, no per-user listings.
	if convs := c.registry.ListForUser(ctx, "alice"); len(convs) != 0 {
		t.Errorf("creator still sees %d conversations after rollback", len(convs))
	}
	if convs := c.members.ConversationsFor("bob"); len(convs) != 0 {
		t.Errorf("bob still member of %d conversations after rollback", len(convs))
	}
}

// failAfterMembers lets the first allow AddMember calls through, then fails.
type failAfterMembers struct {
	*MemberStore
	allow int
}

func (f *failAfterMembers) AddMember(ctx context.Context, conversationID, userID string) error {
	if f.allow <= 0 {
		return errors.New("store unavailable")
	}
	f.allow--
	return f.MemberStore.AddMember(ctx, conversationID, userID)
}

func TestAddMemberAuthority(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	direct, _, err := c.registry.CreateDirect(ctx, "alice", "dave")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}

	tests := []struct {
		name      string
		conv      string
		requester string
		newUser   string
		wantErr   error
	}{
		{"creator adds", group.ID, "alice", "carol", nil},
		{"member but not creator", group.ID, "bob", "erin", ErrNotAuthorized},
		{"non-member", group.ID, "mallory", "erin", ErrNotAuthorized},
		{"already a member", group.ID, "alice", "bob", ErrAlreadyMember},
		{"direct conversation", direct.ID, "alice", "erin", ErrNotAGroup},
		{"unknown conversation", "missing", "alice", "erin", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.admin.AddMember(ctx, tt.conv, tt.requester, tt.newUser)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AddMember: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRemoveMemberAuthority(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob", "carol")

	if err := c.admin.RemoveMember(ctx, group.ID, "bob", "carol"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("non-creator remove: got %v, want ErrNotAuthorized", err)
	}
	if err := c.admin.RemoveMember(ctx, group.ID, "alice", "alice"); !errors.Is(err, ErrCreatorMustDelete) {
		t.Errorf("remove creator: got %v, want ErrCreatorMustDelete", err)
	}
	if err := c.admin.RemoveMember(ctx, group.ID, "alice", "carol"); err != nil {
		t.Fatalf("creator remove: %v", err)
	}
	if c.members.IsMember(group.ID, "carol") {
		t.Error("carol still a member after removal")
	}
}

func TestLeaveGroupCleansUpTraces(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	msg := c.mustAppend(t, group.ID, "alice", "hi")
	if err := c.unread.MarkRead(ctx, group.ID, "bob", msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if _, err := c.favorites.Toggle(ctx, "bob", group.ID); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	if err := c.admin.LeaveGroup(ctx, group.ID, "bob"); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}

	// Membership, read marker and favorite all gone; messages still there for
	// the remaining members.
	if c.members.IsMember(group.ID, "bob") {
		t.Error("bob still a member")
	}
	if _, err := c.unread.UnreadCount(ctx, group.ID, "bob"); !errors.Is(err, ErrNotAMember) {
		t.Errorf("unread after leave: got %v, want ErrNotAMember", err)
	}
	if !c.unread.Marker(group.ID, "bob").IsZero() {
		t.Error("read marker survived leave")
	}
	if c.favorites.IsFavorite("bob", group.ID) {
		t.Error("favorite survived leave")
	}
	if resp, _ := c.messages.ListSince(ctx, group.ID, "", 10); len(resp.Messages) != 1 {
		t.Errorf("messages after leave: got %d, want 1", len(resp.Messages))
	}
}

func TestLeaveGroupCreatorRejected(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	if err := c.admin.LeaveGroup(context.Background(), group.ID, "alice"); !errors.Is(err, ErrCreatorMustDelete) {
		t.Errorf("creator leave: got %v, want ErrCreatorMustDelete", err)
	}
}

func TestLeaveDirectConversation(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	direct, _, err := c.registry.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	c.mustAppend(t, direct.ID, "alice", "hi")

	// Either participant may leave a direct conversation.
	if err := c.admin.LeaveGroup(ctx, direct.ID, "alice"); err != nil {
		t.Fatalf("first leave: %v", err)
	}
	if _, err := c.registry.Get(ctx, direct.ID); err != nil {
		t.Fatalf("conversation gone after first leave: %v", err)
	}

	// When the second participant leaves, the conversation and its history
	// disappear, and the pair can start fresh.
	if err := c.admin.LeaveGroup(ctx, direct.ID, "bob"); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	if _, err := c.registry.Get(ctx, direct.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after teardown: got %v, want ErrNotFound", err)
	}

	fresh, created, err := c.registry.CreateDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("CreateDirect after teardown: %v", err)
	}
	if !created {
		t.Error("pair not released: CreateDirect returned the torn-down conversation")
	}
	if resp, _ := c.messages.ListSince(ctx, fresh.ID, "", 10); len(resp.Messages) != 0 {
		t.Errorf("fresh conversation carries %d old messages", len(resp.Messages))
	}
}

func TestDeleteGroupAuthority(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	direct, _, err := c.registry.CreateDirect(ctx, "alice", "dave")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}

	if err := c.admin.DeleteGroup(ctx, group.ID, "bob"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("non-creator delete: got %v, want ErrNotAuthorized", err)
	}
	if err := c.admin.DeleteGroup(ctx, direct.ID, "alice"); !errors.Is(err, ErrNotAGroup) {
		t.Errorf("delete direct: got %v, want ErrNotAGroup", err)
	}
	if err := c.admin.DeleteGroup(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete unknown: got %v, want ErrNotFound", err)
	}
}

func TestDeleteGroupCascade(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob", "carol")
	msg := c.mustAppend(t, group.ID, "alice", "hi")
	if err := c.unread.MarkRead(ctx, group.ID, "bob", msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if _, err := c.favorites.Toggle(ctx, "carol", group.ID); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	if err := c.admin.DeleteGroup(ctx, group.ID, "alice"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}

	// Every dependent record is gone.
	if _, err := c.registry.Get(ctx, group.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: got %v, want ErrNotFound", err)
	}
	if got := c.members.Count(group.ID); got != 0 {
		t.Errorf("members after delete: got %d, want 0", got)
	}
	if resp, _ := c.messages.ListSince(ctx, group.ID, "", 10); len(resp.Messages) != 0 {
		t.Errorf("messages after delete: got %d, want 0", len(resp.Messages))
	}
	if !c.unread.Marker(group.ID, "bob").IsZero() {
		t.Error("read marker survived delete")
	}
	if favs := c.favorites.ListFavorites(ctx, "carol"); len(favs) != 0 {
		t.Errorf("favorites after delete: got %v, want none", favs)
	}
	for _, user := range []string{"alice", "bob", "carol"} {
		if convs := c.members.ConversationsFor(user); len(convs) != 0 {
			t.Errorf("%s still listed in %d conversations", user, len(convs))
		}
	}
	if events := c.publisher.byType(model.EventConversationDeleted); len(events) != 1 {
		t.Errorf("published %d conversation.deleted events, want 1", len(events))
	}
}

func TestDeleteGroupResumesAfterFailure(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	members := &flakyMembers{MemberStore: c.members, removeAllFailures: 1}
	purger := &countingPurger{MessageLog: c.messages}
	admin := NewGroupAdmin(c.registry, members, c.messages, c.locks, c.publisher, log, 0)
	flaky := NewGroupAdmin(c.registry, members, purger, c.locks, c.publisher, log, 0)

	group, err := admin.CreateGroup(ctx, "alice", "Trip", []string{"bob"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	c.mustAppend(t, group.ID, "alice", "hi")

	// First attempt purges messages, then fails removing members. The error
	// names the failing step and the row sticks around mid-cascade.
	err = flaky.DeleteGroup(ctx, group.ID, "alice")
	var cascade *CascadeError
	if !errors.As(err, &cascade) {
		t.Fatalf("DeleteGroup: got %v, want CascadeError", err)
	}
	if cascade.Step != StepRemoveMembers {
		t.Errorf("failing step: got %q, want %q", cascade.Step, StepRemoveMembers)
	}
	if purger.calls != 1 {
		t.Fatalf("purge ran %d times on first attempt, want 1", purger.calls)
	}
	if _, err := c.registry.Get(ctx, group.ID); err != nil {
		t.Fatalf("row missing mid-cascade: %v", err)
	}

	// The retry resumes at the member step; the purge is not repeated.
	if err := flaky.DeleteGroup(ctx, group.ID, "alice"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if purger.calls != 1 {
		t.Errorf("purge ran %d times total, want 1", purger.calls)
	}
	if members.removeAllCalls != 2 {
		t.Errorf("RemoveAll ran %d times, want 2", members.removeAllCalls)
	}
	if _, err := c.registry.Get(ctx, group.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after retry: got %v, want ErrNotFound", err)
	}
	if got := c.members.Count(group.ID); got != 0 {
		t.Errorf("members after retry: got %d, want 0", got)
	}
}

func TestDeleteGroupMutationsAfterDelete(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	if err := c.admin.DeleteGroup(ctx, group.ID, "alice"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}

	if _, err := c.messages.Append(ctx, group.ID, "alice", "ghost", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Append after delete: got %v, want ErrNotFound", err)
	}
	if err := c.registry.Rename(ctx, group.ID, "alice", "Ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rename after delete: got %v, want ErrNotFound", err)
	}
	if err := c.admin.AddMember(ctx, group.ID, "alice", "carol"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddMember after delete: got %v, want ErrNotFound", err)
	}
}

func TestDeleteOneGroupLeavesOthersAlone(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	doomed := c.mustCreateGroup(t, "alice", "Doomed", "bob")
	keeper := c.mustCreateGroup(t, "alice", "Keeper", "bob")
	for i := 0; i < 3; i++ {
		c.mustAppend(t, keeper.ID, "alice", fmt.Sprintf("k%d", i))
	}
	c.mustAppend(t, doomed.ID, "alice", "d0")

	if err := c.admin.DeleteGroup(ctx, doomed.ID, "alice"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}

	if resp, _ := c.messages.ListSince(ctx, keeper.ID, "", 10); len(resp.Messages) != 3 {
		t.Errorf("keeper messages: got %d, want 3", len(resp.Messages))
	}
	if got, _ := c.unread.UnreadCount(ctx, keeper.ID, "bob"); got != 3 {
		t.Errorf("keeper unread: got %d, want 3", got)
	}
}
