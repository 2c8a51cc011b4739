package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/domain"
)

// AdminHandler exposes manual triggers for scheduled and bulk work.
type AdminHandler struct {
	producer Producer
	logger   *zap.Logger
}

func NewAdminHandler(p Producer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{producer: p, logger: logger}
}

// TriggerDueSoonCheck handles POST /api/v1/admin/trigger/due-soon-check
//
// @Summary  Queue a due-soon reminder scan now
// @Tags     admin
// @Success  202  {object}  map[string]any
// @Router   /api/v1/admin/trigger/due-soon-check [post]
func (h *AdminHandler) TriggerDueSoonCheck(w http.ResponseWriter, r *http.Request) {
	respondQueued(w, "due soon check queued", h.producer.TriggerDueSoonCheck(r.Context()))
}

// TriggerOverdueCheck handles POST /api/v1/admin/trigger/overdue-check
//
// @Summary  Queue an overdue reminder scan now
// @Tags     admin
// @Success  202  {object}  map[string]any
// @Router   /api/v1/admin/trigger/overdue-check [post]
func (h *AdminHandler) TriggerOverdueCheck(w http.ResponseWriter, r *http.Request) {
	respondQueued(w, "overdue check queued", h.producer.TriggerOverdueCheck(r.Context()))
}

type testNotificationRequest struct {
	UserID int64 `json:"user_id"`
}

// SendTestNotification handles POST /api/v1/admin/send-test-notification
//
// An empty body targets user 1.
//
// @Summary  Queue a test instant notification
// @Tags     admin
// @Accept   json
// @Param    body  body      testNotificationRequest  false  "Target user"
// @Success  202   {object}  map[string]any
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/admin/send-test-notification [post]
func (h *AdminHandler) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	req := testNotificationRequest{UserID: 1}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		mapError(w, domain.ErrInvalidUserID)
		return
	}
	respondQueued(w, "test notification queued", h.producer.TestNotification(r.Context(), req.UserID))
}

// BulkNotifications handles POST /api/v1/admin/bulk-notifications
//
// @Summary  Queue up to 1000 notifications as one bulk task
// @Tags     admin
// @Accept   json
// @Produce  json
// @Param    body  body      domain.BulkNotificationRequest  true  "Batch payload"
// @Success  202   {object}  map[string]any
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/admin/bulk-notifications [post]
func (h *AdminHandler) BulkNotifications(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.Warn("bulk notification rejected", zap.Error(err))
		mapError(w, err)
		return
	}
	respondQueued(w, "bulk notifications queued", h.producer.BulkNotifications(r.Context(), req.Notifications))
}
