package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateDirectDedup(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	first, created, err := c.registry.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect(alice, bob): %v", err)
	}
	if !created {
		t.Error("first CreateDirect: created = false, want true")
	}

	// Same pair in either argument order returns the same conversation.
	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		conv, created, err := c.registry.CreateDirect(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("CreateDirect(%s, %s): %v", pair[0], pair[1], err)
		}
		if created {
			t.Errorf("CreateDirect(%s, %s): created = true, want false", pair[0], pair[1])
		}
		if conv.ID != first.ID {
			t.Errorf("CreateDirect(%s, %s): got id %s, want %s", pair[0], pair[1], conv.ID, first.ID)
		}
	}

	members := c.members.ListMembers(ctx, first.ID)
	if len(members) != 2 {
		t.Errorf("direct conversation has %d members, want 2", len(members))
	}
}

func TestCreateDirectInvalidPair(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		userA string
		userB string
	}{
		{"self pair", "alice", "alice"},
		{"empty first", "", "bob"},
		{"empty second", "alice", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := c.registry.CreateDirect(ctx, tt.userA, tt.userB); err == nil {
				t.Errorf("CreateDirect(%q, %q): got nil error", tt.userA, tt.userB)
			}
		})
	}
}

func TestCreateGroupBlankName(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)

	for _, name := range []string{"", "   ", "\t\n"} {
		if _, err := c.registry.CreateGroup(context.Background(), "alice", name); !errors.Is(err, ErrInvalidGroupName) {
			t.Errorf("CreateGroup(%q): got %v, want ErrInvalidGroupName", name, err)
		}
	}
}

func TestRenameAuthority(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob", "carol")
	direct, _, err := c.registry.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}

	tests := []struct {
		name      string
		conv      string
		requester string
		wantErr   error
	}{
		{"non-creator member", group.ID, "bob", ErrNotAuthorized},
		{"non-member", group.ID, "mallory", ErrNotAuthorized},
		{"direct conversation", direct.ID, "alice", ErrNotAGroup},
		{"unknown conversation", "00000000-0000-0000-0000-000000000000", "alice", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.registry.Rename(ctx, tt.conv, tt.requester, "New Name"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Rename: got %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := c.registry.Rename(ctx, group.ID, "alice", "Road Trip"); err != nil {
		t.Fatalf("Rename by creator: %v", err)
	}
	conv, err := c.registry.Get(ctx, group.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.Name != "Road Trip" {
		t.Errorf("name after rename: got %q, want %q", conv.Name, "Road Trip")
	}
}

func TestSetAvatarAuthority(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")

	if err := c.registry.SetAvatar(ctx, group.ID, "bob", "blob://avatar-1"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("SetAvatar by member: got %v, want ErrNotAuthorized", err)
	}
	if err := c.registry.SetAvatar(ctx, group.ID, "alice", "blob://avatar-1"); err != nil {
		t.Fatalf("SetAvatar by creator: %v", err)
	}

	conv, err := c.registry.Get(ctx, group.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.AvatarRef != "blob://avatar-1" {
		t.Errorf("avatar after set: got %q, want %q", conv.AvatarRef, "blob://avatar-1")
	}
}

func TestListForUserNewestActivityFirst(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	first := c.mustCreateGroup(t, "alice", "First", "bob")
	second := c.mustCreateGroup(t, "alice", "Second", "bob")

	// Activity in the older group bumps it to the top.
	c.registry.Touch(first.ID, time.Now().UTC().Add(time.Hour))

	convs := c.registry.ListForUser(ctx, "alice")
	if len(convs) != 2 {
		t.Fatalf("ListForUser: got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != first.ID {
		t.Errorf("ListForUser[0]: got %s, want %s (touched)", convs[0].ID, first.ID)
	}
	if convs[1].ID != second.ID {
		t.Errorf("ListForUser[1]: got %s, want %s", convs[1].ID, second.ID)
	}
}

func TestTouchNeverRegresses(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	future := time.Now().UTC().Add(time.Hour)
	c.registry.Touch(group.ID, future)
	c.registry.Touch(group.ID, future.Add(-2*time.Hour))

	conv, err := c.registry.Get(context.Background(), group.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !conv.LastMessageAt.Equal(future) {
		t.Errorf("LastMessageAt regressed: got %v, want %v", conv.LastMessageAt, future)
	}
}
