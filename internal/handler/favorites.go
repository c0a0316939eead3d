package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatloop/messaging-core/internal/middleware"
	"github.com/chatloop/messaging-core/internal/service"
	"github.com/chatloop/messaging-core/pkg/logger"
)

// FavoritesHandler handles favorite-mark endpoints.
type FavoritesHandler struct {
	favorites *service.FavoritesIndex
	logger    *logger.Logger
}

// NewFavoritesHandler creates a new favorites handler.
func NewFavoritesHandler(favorites *service.FavoritesIndex, log *logger.Logger) *FavoritesHandler {
	return &FavoritesHandler{
		favorites: favorites,
		logger:    log,
	}
}

// Toggle handles POST /api/v1/conversations/:id/favorite
func (h *FavoritesHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	favorite, err := h.favorites.Toggle(ctx, userID, conversationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorite": favorite})
}

// List handles GET /api/v1/favorites
func (h *FavoritesHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	writeJSON(w, http.StatusOK, map[string][]string{
		"conversation_ids": h.favorites.ListFavorites(ctx, userID),
	})
}
