package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/backup"
	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/mailer"
	"github.com/ricirt/taskdispatch/internal/repository"
)

func (h *handlers) registerTodo(reg *dispatch.Registry) {
	reg.Register(ScheduleReminder, h.scheduleReminder)
	reg.Register(NotifyTeamMembers, h.notifyTeamMembers)
	reg.Register(UpdateProjectProgress, h.updateProjectProgress)
	reg.Register(GenerateTaskAnalytics, h.generateTaskAnalytics)
	reg.Register(BackupTaskData, h.backupTaskData)
}

// scheduleReminder records the reminder intent. Delivery happens through the
// periodic due-soon scan.
func (h *handlers) scheduleReminder(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	taskID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	at, err := args.Time(1)
	if err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		todo, err := getTodo(ctx, s, taskID)
		if err != nil {
			return nil, err
		}
		user, err := getUser(ctx, s, todo.UserID)
		if err != nil {
			return nil, err
		}
		h.Logger.Info("reminder scheduled",
			zap.Int64("task_id", taskID), zap.Time("reminder_time", at))
		return dispatch.Success(
			"task_id", taskID,
			"reminder_scheduled", at.UTC().Format(time.RFC3339),
			"user_email", user.Email,
		), nil
	})
}

// notifyTeamMembers emails every configured team address. Individual send
// failures are counted, not fatal.
func (h *handlers) notifyTeamMembers(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	taskID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		todo, err := getTodo(ctx, s, taskID)
		if err != nil {
			return nil, err
		}
		user, err := getUser(ctx, s, todo.UserID)
		if err != nil {
			return nil, err
		}

		sent, failed := 0, 0
		for _, addr := range h.TeamEmails {
			err := h.Mailer.Send(ctx, mailer.Message{
				To:      addr,
				Subject: "High Priority Task: " + todo.Title,
				Body:    fmt.Sprintf("%s created a high-priority task: %q.\n", user.Username, todo.Title),
				Tag:     "team",
			})
			if err != nil {
				h.Logger.Warn("team notification failed", zap.String("to", addr), zap.Error(err))
				failed++
				continue
			}
			sent++
		}
		return dispatch.Success("task_id", taskID, "notifications_sent", sent, "failed", failed), nil
	})
}

func (h *handlers) updateProjectProgress(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	taskID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		todo, err := getTodo(ctx, s, taskID)
		if err != nil {
			return nil, err
		}
		stats, err := s.Todos().Stats(ctx, todo.UserID)
		if err != nil {
			return nil, err
		}
		return dispatch.Success(
			"task_id", taskID,
			"progress_percentage", stats.CompletionRate(),
			"completed_tasks", stats.Completed,
			"total_tasks", stats.Total,
		), nil
	})
}

// TaskAnalytics is the per-user breakdown generate_task_analytics reports.
type TaskAnalytics struct {
	Total          int     `json:"total_tasks"`
	Completed      int     `json:"completed_tasks"`
	Overdue        int     `json:"overdue_tasks"`
	Upcoming       int     `json:"upcoming_tasks"`
	CompletionRate float64 `json:"completion_rate"`
}

func (h *handlers) generateTaskAnalytics(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	userID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		if _, err := getUser(ctx, s, userID); err != nil {
			return nil, err
		}
		todos, err := s.Todos().ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		now := h.now()
		var a TaskAnalytics
		for _, t := range todos {
			a.Total++
			switch {
			case t.Completed:
				a.Completed++
			case t.IsOverdue(now):
				a.Overdue++
			case t.HasDueDate():
				a.Upcoming++
			}
		}
		a.CompletionRate = domain.UserStats{Total: a.Total, Completed: a.Completed}.CompletionRate()
		return dispatch.Success("user_id", userID, "analytics", a), nil
	})
}

type taskSnapshot struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	DueDate         *time.Time `json:"due_date"`
	Completed       bool       `json:"completed"`
	CreatedAt       time.Time  `json:"created_at"`
	BackupTimestamp time.Time  `json:"backup_timestamp"`
}

func (h *handlers) backupTaskData(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	taskID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		todo, err := getTodo(ctx, s, taskID)
		if err != nil {
			return nil, err
		}

		snap := taskSnapshot{
			ID:              todo.ID,
			UserID:          todo.UserID,
			Title:           todo.Title,
			Description:     todo.Description,
			Completed:       todo.Completed,
			CreatedAt:       todo.CreatedAt,
			BackupTimestamp: h.now(),
		}
		if todo.HasDueDate() {
			snap.DueDate = &todo.DueDate
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", err)
		}

		loc, err := h.Backups.Put(ctx, backup.Key(h.BackupPrefix, taskID), data)
		if err != nil {
			h.Logger.Warn("backup failed", zap.Int64("task_id", taskID), zap.Error(err))
			return nil, fail("%v", err)
		}
		return dispatch.Success("task_id", taskID, "backup_location", loc, "backup_size", len(data)), nil
	})
}
