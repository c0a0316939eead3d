package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatloop/messaging-core/internal/model"
	"github.com/chatloop/messaging-core/pkg/logger"
	"github.com/chatloop/messaging-core/pkg/metrics"
)

// Publisher delivers conversation events to the realtime fan-out side
// channel. Delivery is at-least-once downstream; no core operation blocks on
// it, and a publish failure never fails the operation that triggered it.
type Publisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) error
}

// publishEvent assigns the event identity and hands it to the publisher.
// Failures are logged and counted only.
func publishEvent(ctx context.Context, p Publisher, log *logger.Logger, event *model.ConversationEvent) {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now().UTC()

	if err := p.PublishEvent(ctx, event); err != nil {
		metrics.FanoutPublished.WithLabelValues(string(event.Type), "error").Inc()
		log.Warn("fan-out publish failed",
			zap.String("event", string(event.Type)),
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err),
		)
		return
	}
	metrics.FanoutPublished.WithLabelValues(string(event.Type), "ok").Inc()
}
