package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatloop/messaging-core/internal/middleware"
	"github.com/chatloop/messaging-core/internal/model"
	"github.com/chatloop/messaging-core/internal/service"
	"github.com/chatloop/messaging-core/pkg/logger"
)

// MessageHandler handles message and read-state endpoints.
type MessageHandler struct {
	messages    *service.MessageLog
	members     *service.MemberStore
	unread      *service.UnreadTracker
	logger      *logger.Logger
	pageSize    int
	pageSizeMax int
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	messages *service.MessageLog,
	members *service.MemberStore,
	unread *service.UnreadTracker,
	log *logger.Logger,
	pageSize, pageSizeMax int,
) *MessageHandler {
	return &MessageHandler{
		messages:    messages,
		members:     members,
		unread:      unread,
		logger:      log,
		pageSize:    pageSize,
		pageSizeMax: pageSizeMax,
	}
}

// Send handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.messages.Append(ctx, conversationID, userID, req.Content, req.Attachment)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// List handles GET /api/v1/conversations/:id/messages
//
// ?after=<message_id> pages forward, ?before=<message_id> pages backward;
// with neither the walk starts from the beginning of the log.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
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
	before := r.URL.Query().Get("before")
	if after != "" && before != "" {
		writeError(w, http.StatusBadRequest, "after and before are mutually exclusive")
		return
	}

	limit := h.pageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= h.pageSizeMax {
			limit = parsed
		}
	}

	var (
		resp *model.ListMessagesResponse
		err  error
	)
	if before != "" {
		resp, err = h.messages.ListBefore(ctx, conversationID, before, limit)
	} else {
		resp, err = h.messages.ListSince(ctx, conversationID, after, limit)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// MarkRead handles POST /api/v1/conversations/:id/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageID(req.MessageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.unread.MarkRead(ctx, conversationID, userID, req.MessageID); err != nil {
		writeServiceError(w, err)
		return
	}

	count, err := h.unread.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &model.UnreadResponse{
		ConversationID: conversationID,
		Unread:         count,
	})
}

// Unread handles GET /api/v1/conversations/:id/unread
func (h *MessageHandler) Unread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.unread.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &model.UnreadResponse{
		ConversationID: conversationID,
		Unread:         count,
	})
}

// TotalUnread handles GET /api/v1/unread
func (h *MessageHandler) TotalUnread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	total, err := h.unread.TotalUnread(ctx, userID)
	if err != nil {
		h.logger.Error("failed to aggregate unread", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &model.UnreadResponse{Unread: total})
}
