package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chatloop/messaging-core/internal/model"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "chat"
)

// StreamManager handles JetStream stream operations. It implements the
// service layer's Publisher: one event per state change, published after the
// change is durable.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the chat events stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	// Create stream
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation fan-out events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for a conversation event. Message-created
// events get their own leaf so consumers can filter them cheaply.
func EventSubject(conversationID string, eventType model.EventType) string {
	if eventType == model.EventMessageCreated {
		return fmt.Sprintf("%s.%s.message", SubjectPrefix, conversationID)
	}
	return fmt.Sprintf("%s.%s.event", SubjectPrefix, conversationID)
}

// ConversationFilter returns the filter subject for all events in a conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, conversationID)
}

// PublishEvent publishes a conversation event to JetStream. Delivery to any
// subscriber is at-least-once; consumers deduplicate by event or message id.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConversationEvent) error {
	subject := EventSubject(event.ConversationID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// SubscribeConversation delivers live events for one conversation to the
// handler until the returned unsubscribe function is called. JetStream
// re-publishes on core subjects, so a plain subscription sees every event.
func (m *StreamManager) SubscribeConversation(conversationID string, handler func(*model.ConversationEvent)) (func(), error) {
	sub, err := m.client.Conn().Subscribe(ConversationFilter(conversationID), func(msg *nats.Msg) {
		var event model.ConversationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return func() { _ = sub.Unsubscribe() }, nil
}
