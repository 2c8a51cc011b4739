package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/ricirt/taskdispatch/internal/api/middleware"
	"github.com/ricirt/taskdispatch/internal/domain"
)

// Producer is the enqueue surface the HTTP layer drives.
type Producer interface {
	UserRegistered(ctx context.Context, userID int64, username string) int
	TaskCreated(ctx context.Context, e domain.TodoEvent) int
	TaskUpdated(ctx context.Context, e domain.TodoEvent, completedNow bool) int
	TestNotification(ctx context.Context, userID int64) int
	TriggerDueSoonCheck(ctx context.Context) int
	TriggerOverdueCheck(ctx context.Context) int
	BulkNotifications(ctx context.Context, items []domain.BulkNotification) int
}

// EventHandler accepts post-commit events from the CRUD services and turns
// them into background tasks. It answers 202 as soon as the tasks are
// published.
type EventHandler struct {
	producer Producer
	logger   *zap.Logger
}

func NewEventHandler(p Producer, logger *zap.Logger) *EventHandler {
	return &EventHandler{producer: p, logger: logger}
}

func (h *EventHandler) reject(r *http.Request, w http.ResponseWriter, event string, err error) {
	h.logger.Warn("event rejected",
		zap.String("event", event),
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.Error(err),
	)
	mapError(w, err)
}

// UserRegistered handles POST /api/v1/events/user-registered
//
// @Summary  Fan out onboarding tasks for a new user
// @Tags     events
// @Accept   json
// @Produce  json
// @Param    body  body      domain.UserRegistered  true  "Registered user"
// @Success  202   {object}  map[string]any
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/events/user-registered [post]
func (h *EventHandler) UserRegistered(w http.ResponseWriter, r *http.Request) {
	var req domain.UserRegistered
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.reject(r, w, "user_registered", err)
		return
	}
	n := h.producer.UserRegistered(r.Context(), req.UserID, req.Username)
	respondQueued(w, "user registration tasks queued", n)
}

// TaskCreated handles POST /api/v1/events/task-created
//
// @Summary  Fan out follow-up tasks for a new todo
// @Tags     events
// @Accept   json
// @Produce  json
// @Param    body  body      domain.TodoEvent  true  "Created todo"
// @Success  202   {object}  map[string]any
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/events/task-created [post]
func (h *EventHandler) TaskCreated(w http.ResponseWriter, r *http.Request) {
	var req domain.TodoEvent
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.reject(r, w, "task_created", err)
		return
	}
	n := h.producer.TaskCreated(r.Context(), req)
	respondQueued(w, "task creation tasks queued", n)
}

// TaskUpdated handles POST /api/v1/events/task-updated
//
// @Summary  Fan out follow-up tasks for a changed todo
// @Tags     events
// @Accept   json
// @Produce  json
// @Param    body  body      domain.TodoUpdated  true  "Updated todo"
// @Success  202   {object}  map[string]any
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/events/task-updated [post]
func (h *EventHandler) TaskUpdated(w http.ResponseWriter, r *http.Request) {
	var req domain.TodoUpdated
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.reject(r, w, "task_updated", err)
		return
	}
	n := h.producer.TaskUpdated(r.Context(), req.TodoEvent, req.CompletedNow)
	respondQueued(w, "task update tasks queued", n)
}
