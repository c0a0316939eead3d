package service

import (
	"context"
	"sync"
	"testing"

	"github.com/chatloop/messaging-core/internal/model"
	"github.com/chatloop/messaging-core/pkg/logger"
)

// fakePublisher records published events in order.
type fakePublisher struct {
	mu     sync.Mutex
	events []*model.ConversationEvent
}

func (p *fakePublisher) PublishEvent(ctx context.Context, event *model.ConversationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) byType(t model.EventType) []*model.ConversationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*model.ConversationEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// testCore wires the full service graph against in-memory state and a
// recording publisher.
type testCore struct {
	locks     *Locks
	members   *MemberStore
	registry  *ConversationRegistry
	messages  *MessageLog
	unread    *UnreadTracker
	favorites *FavoritesIndex
	admin     *GroupAdmin
	publisher *fakePublisher
}

func newTestCore(t *testing.T) *testCore {
	t.Helper()

	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	c := &testCore{
		locks:     NewLocks(),
		members:   NewMemberStore(),
		publisher: &fakePublisher{},
	}
	c.registry = NewConversationRegistry(c.members, c.locks, c.publisher, log)
	c.messages = NewMessageLog(c.registry, c.members, c.locks, c.publisher, log)
	c.unread = NewUnreadTracker(c.members, c.messages, c.locks)
	c.favorites = NewFavoritesIndex(c.members)
	c.admin = NewGroupAdmin(c.registry, c.members, c.messages, c.locks, c.publisher, log, 0)
	return c
}

// mustCreateGroup creates a group or fails the test.
func (c *testCore) mustCreateGroup(t *testing.T, creator, name string, members ...string) *model.Conversation {
	t.Helper()
	conv, err := c.admin.CreateGroup(context.Background(), creator, name, members)
	if err != nil {
		t.Fatalf("CreateGroup(%q): %v", name, err)
	}
	return conv
}

// mustAppend appends a text message or fails the test.
func (c *testCore) mustAppend(t *testing.T, conversationID, senderID, content string) *model.Message {
	t.Helper()
	msg, err := c.messages.Append(context.Background(), conversationID, senderID, content, nil)
	if err != nil {
		t.Fatalf("Append(%q, %q): %v", conversationID, content, err)
	}
	return msg
}
