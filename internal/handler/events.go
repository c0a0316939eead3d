package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatloop/messaging-core/internal/middleware"
	"github.com/chatloop/messaging-core/internal/model"
	natsclient "github.com/chatloop/messaging-core/internal/nats"
	"github.com/chatloop/messaging-core/internal/service"
	"github.com/chatloop/messaging-core/pkg/logger"
	"github.com/chatloop/messaging-core/pkg/metrics"
)

// EventsHandler streams conversation events over SSE: first a replay of
// messages after the client's cursor, then live fan-out events from the side
// channel. Delivery is at-least-once; clients deduplicate by message id.
type EventsHandler struct {
	messages *service.MessageLog
	members  *service.MemberStore
	streams  *natsclient.StreamManager
	logger   *logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(
	messages *service.MessageLog,
	members *service.MemberStore,
	streams *natsclient.StreamManager,
	log *logger.Logger,
) *EventsHandler {
	return &EventsHandler{
		messages: messages,
		members:  members,
		streams:  streams,
		logger:   log,
	}
}

// ReplayCompleteEvent marks the end of the replay phase.
type ReplayCompleteEvent struct {
	LastMessageID string `json:"last_message_id,omitempty"`
	MessageCount  int    `json:"message_count"`
}

// Stream handles GET /api/v1/conversations/:id/events
// Supports ?after=<message_id> for resuming from a specific point.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.members.IsMember(conversationID, userID) {
		writeServiceError(w, service.ErrNotAMember)
		return
	}

	after := r.URL.Query().Get("after")

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSESubscribers()
	defer metrics.DecrementSSESubscribers()

	// Subscribe before replaying so nothing falls between the two phases.
	// A message seen in both replay and live delivery is deduplicated
	// client-side by id.
	events := make(chan *model.ConversationEvent, 64)
	unsubscribe, err := h.streams.SubscribeConversation(conversationID, func(event *model.ConversationEvent) {
		select {
		case events <- event:
		default:
			// Subscriber too slow; the client recovers via its cursor.
		}
	})
	if err != nil {
		h.logger.Error("failed to subscribe to conversation events",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "event channel unavailable")
		return
	}
	defer unsubscribe()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	var lastMessageID string
	totalReplayed := 0
	for {
		resp, err := h.messages.ListSince(ctx, conversationID, after, 0)
		if err != nil {
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "failed to replay messages",
			})
			break
		}
		for i := range resp.Messages {
			select {
			case <-ctx.Done():
				return
			default:
			}
			sendSSEEvent(w, flusher, "message", &resp.Messages[i])
			lastMessageID = resp.Messages[i].ID
			totalReplayed++
		}
		if !resp.HasMore {
			break
		}
		after = lastMessageID
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastMessageID: lastMessageID,
		MessageCount:  totalReplayed,
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected",
				zap.String("conversation_id", conversationID),
			)
			return

		case event := <-events:
			// Membership is re-checked per event: a member removed
			// mid-stream stops receiving immediately.
			if !h.members.IsMember(conversationID, userID) {
				sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "not_a_member",
					Message: "membership revoked",
				})
				return
			}
			sendSSEEvent(w, flusher, string(event.Type), event)
			if event.Type == model.EventConversationDeleted {
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

// sendSSEEvent writes one SSE frame and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
