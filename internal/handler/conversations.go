package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatloop/messaging-core/internal/middleware"
	"github.com/chatloop/messaging-core/internal/model"
	"github.com/chatloop/messaging-core/internal/service"
	"github.com/chatloop/messaging-core/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	registry  *service.ConversationRegistry
	members   *service.MemberStore
	unread    *service.UnreadTracker
	favorites *service.FavoritesIndex
	logger    *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(
	registry *service.ConversationRegistry,
	members *service.MemberStore,
	unread *service.UnreadTracker,
	favorites *service.FavoritesIndex,
	log *logger.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		registry:  registry,
		members:   members,
		unread:    unread,
		favorites: favorites,
		logger:    log,
	}
}

// CreateDirect handles POST /api/v1/conversations/direct
func (h *ConversationHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.PeerID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PeerID == userID {
		writeError(w, http.StatusBadRequest, "cannot open a direct conversation with yourself")
		return
	}

	conv, created, err := h.registry.CreateDirect(ctx, userID, req.PeerID)
	if err != nil {
		h.logger.Error("failed to create direct conversation", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	convs := h.registry.ListForUser(ctx, userID)
	summaries := make([]model.ConversationSummary, 0, len(convs))
	totalUnread := 0

	for _, conv := range convs {
		summary := model.ConversationSummary{
			Conversation: conv,
			Favorite:     h.favorites.IsFavorite(userID, conv.ID),
		}
		if count, err := h.unread.UnreadCount(ctx, conv.ID, userID); err == nil {
			summary.UnreadCount = count
			totalUnread += count
		}
		if !conv.IsGroup {
			for _, m := range h.members.ListMembers(ctx, conv.ID) {
				if m.UserID != userID {
					summary.CounterpartID = m.UserID
					break
				}
			}
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: summaries,
		TotalUnread:   totalUnread,
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	conv, err := h.registry.Get(ctx, conversationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.ConversationDetail{
		Conversation: *conv,
		Members:      h.members.ListMembers(ctx, conversationID),
	})
}

// Members handles GET /api/v1/conversations/:id/members
//
// An unknown or deleted conversation yields an empty list, not an error; the
// caller decides what zero members means.
func (h *ConversationHandler) Members(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string][]model.Member{
		"members": h.members.ListMembers(ctx, conversationID),
	})
}
