// Package producer enqueues the background tasks that follow a committed
// CRUD change. Producers never wait for a task to run and never fail the
// caller: enqueue errors are logged and the remaining tasks still go out.
package producer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/tasks"
)

const (
	// reminderHorizon is how close a due date must be for a reminder to be
	// scheduled at creation time.
	reminderHorizon = 48 * time.Hour
	reminderLead    = 2 * time.Hour
)

// Enqueuer is the part of dispatch.Client producers use.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskName string, args ...any) (string, error)
}

type Producer struct {
	client Enqueuer
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Producer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Producer) { p.now = now }
}

func New(client Enqueuer, logger *zap.Logger, opts ...Option) *Producer {
	p := &Producer{client: client, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// batch collects the outcome of one fan-out.
type batch struct {
	p      *Producer
	ctx    context.Context
	log    *zap.Logger
	queued int
}

func (p *Producer) begin(ctx context.Context, event string, fields ...zap.Field) *batch {
	return &batch{p: p, ctx: ctx, log: p.logger.With(append(fields, zap.String("event", event))...)}
}

func (b *batch) enqueue(name string, args ...any) {
	id, err := b.p.client.Enqueue(b.ctx, name, args...)
	if err != nil {
		b.log.Error("enqueue failed, side effect dropped", zap.String("task_name", name), zap.Error(err))
		return
	}
	b.log.Debug("task enqueued", zap.String("task_name", name), zap.String("message_id", id))
	b.queued++
}

func (b *batch) done() int {
	b.log.Info("tasks enqueued", zap.Int("count", b.queued))
	return b.queued
}

// UserRegistered fans out onboarding work for a new account.
func (p *Producer) UserRegistered(ctx context.Context, userID int64, username string) int {
	b := p.begin(ctx, "user_registered", zap.Int64("user_id", userID))
	b.enqueue(tasks.SendWelcomeEmail, userID)
	b.enqueue(tasks.CreateDefaultTasks, userID)
	b.enqueue(tasks.SyncToExternalService, userID, "user_registered", map[string]any{"username": username})
	b.enqueue(tasks.GenerateTaskAnalytics, userID)
	return b.done()
}

// TaskCreated fans out follow-up work for a new todo. A reminder is
// scheduled two hours before the due date when it falls within two days.
func (p *Producer) TaskCreated(ctx context.Context, e domain.TodoEvent) int {
	b := p.begin(ctx, "task_created", zap.Int64("task_id", e.TaskID), zap.Int64("user_id", e.UserID))
	priority := e.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	if !e.DueDate.After(p.now().Add(reminderHorizon)) {
		b.enqueue(tasks.ScheduleReminder, e.TaskID, e.DueDate.Add(-reminderLead).UTC().Format(time.RFC3339))
	}
	if priority == domain.PriorityHigh {
		b.enqueue(tasks.NotifyTeamMembers, e.TaskID)
	}
	b.enqueue(tasks.BackupTaskData, e.TaskID)
	b.enqueue(tasks.UpdateUserStats, e.UserID)
	b.enqueue(tasks.SyncToExternalService, e.UserID, "task_created", map[string]any{
		"task_id":  e.TaskID,
		"title":    e.Title,
		"due_date": e.DueDate.UTC().Format(time.RFC3339),
		"priority": string(priority),
	})
	b.enqueue(tasks.SendInstantNotification, e.UserID,
		"Task Created Successfully!",
		"Your task '"+e.Title+"' has been created and is due on "+e.DueDate.Format("January 02, 2006")+".",
	)
	return b.done()
}

// TaskUpdated fans out work for a changed todo. completedNow is true only
// on the transition from open to completed.
func (p *Producer) TaskUpdated(ctx context.Context, e domain.TodoEvent, completedNow bool) int {
	b := p.begin(ctx, "task_updated",
		zap.Int64("task_id", e.TaskID), zap.Int64("user_id", e.UserID), zap.Bool("completed_now", completedNow))
	if completedNow {
		b.enqueue(tasks.SendTaskCompletionNotification, e.TaskID)
		b.enqueue(tasks.UpdateProjectProgress, e.TaskID)
		b.enqueue(tasks.UpdateUserStats, e.UserID)
		b.enqueue(tasks.GenerateTaskAnalytics, e.UserID)
		b.enqueue(tasks.SyncToExternalService, e.UserID, "task_completed", map[string]any{
			"task_id":         e.TaskID,
			"title":           e.Title,
			"completion_time": p.now().UTC().Format(time.RFC3339),
		})
	}
	b.enqueue(tasks.BackupTaskData, e.TaskID)
	return b.done()
}

func (p *Producer) TestNotification(ctx context.Context, userID int64) int {
	b := p.begin(ctx, "test_notification", zap.Int64("user_id", userID))
	b.enqueue(tasks.SendInstantNotification, userID,
		"Test Notification",
		"This is a test notification sent via the message broker!",
	)
	return b.done()
}

func (p *Producer) TriggerDueSoonCheck(ctx context.Context) int {
	b := p.begin(ctx, "trigger_due_soon_check")
	b.enqueue(tasks.ScheduledDueSoonCheck)
	return b.done()
}

func (p *Producer) TriggerOverdueCheck(ctx context.Context) int {
	b := p.begin(ctx, "trigger_overdue_check")
	b.enqueue(tasks.ScheduledOverdueCheck)
	return b.done()
}

// BulkNotifications hands a whole batch to one process_bulk_notifications
// task; the worker sends each item independently.
func (p *Producer) BulkNotifications(ctx context.Context, items []domain.BulkNotification) int {
	b := p.begin(ctx, "bulk_notifications", zap.Int("items", len(items)))
	b.enqueue(tasks.ProcessBulkNotifications, items)
	return b.done()
}
