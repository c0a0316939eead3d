package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/chatloop/messaging-core/internal/model"
)

func TestAppendPreconditions(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")

	tests := []struct {
		name       string
		conv       string
		sender     string
		content    string
		attachment *model.Attachment
		wantErr    error
	}{
		{"unknown conversation", "missing", "alice", "hi", nil, ErrNotFound},
		{"non-member sender", group.ID, "mallory", "hi", nil, ErrNotAuthorized},
		{"empty message", group.ID, "alice", "", nil, ErrEmptyMessage},
		{"whitespace only", group.ID, "alice", "  \n\t", nil, ErrEmptyMessage},
		{"blank attachment reference", group.ID, "alice", "", &model.Attachment{Kind: model.AttachmentImage}, ErrInvalidAttachment},
		{"unknown attachment kind", group.ID, "alice", "", &model.Attachment{Reference: "blob://x", Kind: "hologram"}, ErrInvalidAttachment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.messages.Append(ctx, tt.conv, tt.sender, tt.content, tt.attachment)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Append: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAppendAttachmentOnly(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")

	// A message may carry only an attachment; content stays empty.
	msg, err := c.messages.Append(ctx, group.ID, "alice", "", &model.Attachment{
		Reference: "blob://photo-1",
		Kind:      model.AttachmentImage,
	})
	if err != nil {
		t.Fatalf("Append attachment-only: %v", err)
	}
	if msg.Attachment == nil || msg.Attachment.Reference != "blob://photo-1" {
		t.Errorf("attachment not preserved: %+v", msg.Attachment)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		t.Error("server-assigned id/timestamp missing")
	}
}

func TestAppendTouchesConversation(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	before, _ := c.registry.Get(ctx, group.ID)

	msg := c.mustAppend(t, group.ID, "alice", "hi")

	after, _ := c.registry.Get(ctx, group.ID)
	if !after.LastMessageAt.Equal(msg.CreatedAt) {
		t.Errorf("LastMessageAt: got %v, want %v", after.LastMessageAt, msg.CreatedAt)
	}
	if after.LastMessageAt.Before(before.LastMessageAt) {
		t.Error("LastMessageAt moved backward")
	}
}

func TestConcurrentAppendsStrictlyOrdered(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")

	// Concurrent sends from both members; arrival order is arbitrary but the
	// persisted log must be strictly ordered by the server-assigned key.
	const perSender = 50
	var wg sync.WaitGroup
	for _, sender := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := c.messages.Append(ctx, group.ID, sender, fmt.Sprintf("%s-%d", sender, i), nil); err != nil {
					t.Errorf("Append(%s): %v", sender, err)
					return
				}
			}
		}(sender)
	}
	wg.Wait()

	resp, err := c.messages.ListSince(ctx, group.ID, "", 2*perSender)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(resp.Messages) != 2*perSender {
		t.Fatalf("got %d messages, want %d", len(resp.Messages), 2*perSender)
	}
	for i := 1; i < len(resp.Messages); i++ {
		prev, curr := resp.Messages[i-1].OrderKey(), resp.Messages[i].OrderKey()
		if !prev.Less(curr) {
			t.Fatalf("log not strictly ordered at %d: %+v !< %+v", i, prev, curr)
		}
	}
}

func TestListSincePagination(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	var ids []string
	for i := 0; i < 7; i++ {
		ids = append(ids, c.mustAppend(t, group.ID, "alice", fmt.Sprintf("m%d", i)).ID)
	}

	// Walk the log in pages of 3, resuming with the last returned id.
	var walked []string
	cursor := ""
	for {
		resp, err := c.messages.ListSince(ctx, group.ID, cursor, 3)
		if err != nil {
			t.Fatalf("ListSince(%q): %v", cursor, err)
		}
		for _, m := range resp.Messages {
			walked = append(walked, m.ID)
		}
		if !resp.HasMore {
			break
		}
		cursor = walked[len(walked)-1]
	}

	if len(walked) != len(ids) {
		t.Fatalf("walked %d messages, want %d", len(walked), len(ids))
	}
	for i := range ids {
		if walked[i] != ids[i] {
			t.Errorf("walked[%d]: got %s, want %s", i, walked[i], ids[i])
		}
	}
}

func TestListBefore(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, c.mustAppend(t, group.ID, "alice", fmt.Sprintf("m%d", i)).ID)
	}

	// Backward scroll from the fourth message: expect m1..m2 with older history remaining.
	resp, err := c.messages.ListBefore(ctx, group.ID, ids[3], 2)
	if err != nil {
		t.Fatalf("ListBefore: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(resp.Messages))
	}
	if resp.Messages[0].ID != ids[1] || resp.Messages[1].ID != ids[2] {
		t.Errorf("ListBefore page: got [%s %s], want [%s %s]",
			resp.Messages[0].ID, resp.Messages[1].ID, ids[1], ids[2])
	}
	if !resp.HasMore {
		t.Error("HasMore = false, want true (m0 remains)")
	}

	// Without a marker, ListBefore pages from the end.
	resp, err = c.messages.ListBefore(ctx, group.ID, "", 2)
	if err != nil {
		t.Fatalf("ListBefore from end: %v", err)
	}
	if resp.Messages[len(resp.Messages)-1].ID != ids[4] {
		t.Errorf("last message: got %s, want %s", resp.Messages[len(resp.Messages)-1].ID, ids[4])
	}
}

func TestListSinceUnknownMarker(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)
	ctx := context.Background()

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	c.mustAppend(t, group.ID, "alice", "hi")

	if _, err := c.messages.ListSince(ctx, group.ID, "no-such-id", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListSince(unknown marker): got %v, want ErrNotFound", err)
	}
	if _, err := c.messages.ListBefore(ctx, group.ID, "no-such-id", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListBefore(unknown marker): got %v, want ErrNotFound", err)
	}
}

func TestListSinceUnknownConversation(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)

	resp, err := c.messages.ListSince(context.Background(), "missing", "", 10)
	if err != nil {
		t.Fatalf("ListSince(unknown conversation): %v", err)
	}
	if len(resp.Messages) != 0 || resp.HasMore {
		t.Errorf("expected empty page, got %d messages (hasMore=%v)", len(resp.Messages), resp.HasMore)
	}
}

func TestAppendPublishesFanoutEvent(t *testing.T) {
	t.Parallel()
	c := newTestCore(t)

	group := c.mustCreateGroup(t, "alice", "Trip", "bob")
	msg := c.mustAppend(t, group.ID, "alice", "hi")

	events := c.publisher.byType(model.EventMessageCreated)
	if len(events) != 1 {
		t.Fatalf("published %d message.created events, want 1", len(events))
	}
	if events[0].Message == nil || events[0].Message.ID != msg.ID {
		t.Errorf("event message id mismatch: %+v", events[0].Message)
	}
	if events[0].ConversationID != group.ID {
		t.Errorf("event conversation: got %s, want %s", events[0].ConversationID, group.ID)
	}
}
