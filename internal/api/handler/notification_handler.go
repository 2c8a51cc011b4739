package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/repository"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationHandler serves notification records written by the workers.
type NotificationHandler struct {
	store  repository.Store
	logger *zap.Logger
}

func NewNotificationHandler(store repository.Store, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{store: store, logger: logger}
}

// ListByUser handles GET /api/v1/users/{id}/notifications
//
// @Summary  List a user's notifications, newest first
// @Tags     notifications
// @Produce  json
// @Param    id     path      int  true   "User ID"
// @Param    limit  query     int  false  "Max items (default 50, max 200)"
// @Success  200    {object}  map[string]any
// @Failure  422    {object}  map[string]string
// @Router   /api/v1/users/{id}/notifications [get]
func (h *NotificationHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		mapError(w, domain.ErrInvalidUserID)
		return
	}
	limit := parseLimit(r, defaultNotificationLimit, maxNotificationLimit)

	var items []*domain.Notification
	err = h.store.WithSession(r.Context(), func(ctx context.Context, s repository.Session) error {
		var err error
		items, err = s.Notifications().ListByUser(ctx, userID, limit)
		return err
	})
	if err != nil {
		h.logger.Error("list notifications failed", zap.Int64("user_id", userID), zap.Error(err))
		mapError(w, err)
		return
	}
	if items == nil {
		items = []*domain.Notification{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": items, "limit": limit})
}

// parseLimit reads ?limit=, falling back to def when absent or out of range.
func parseLimit(r *http.Request, def, max int) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= max {
		return l
	}
	return def
}
