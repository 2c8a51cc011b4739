package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/analytics"
	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/mailer"
	"github.com/ricirt/taskdispatch/internal/repository"
)

func (h *handlers) registerUser(reg *dispatch.Registry) {
	reg.Register(SendWelcomeEmail, h.sendWelcomeEmail)
	reg.Register(CreateDefaultTasks, h.createDefaultTasks)
	reg.Register(UpdateUserStats, h.updateUserStats)
	reg.Register(SyncToExternalService, h.syncToExternalService)
}

// sendWelcomeEmail is not idempotent: a redelivered message sends the email
// again.
func (h *handlers) sendWelcomeEmail(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	userID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		user, err := getUser(ctx, s, userID)
		if err != nil {
			return nil, err
		}
		err = h.send(ctx, mailer.Message{
			To:      user.Email,
			Subject: fmt.Sprintf("Welcome to %s!", h.AppName),
			Body: fmt.Sprintf("Hi %s,\n\nThanks for signing up. We've added a few tasks to help you get started.\n\nYour %s Team\n",
				user.Username, h.AppName),
			Tag: "welcome",
		})
		if err != nil {
			return nil, err
		}
		return dispatch.Success("email", user.Email), nil
	})
}

type defaultTodo struct {
	title       string
	description string
	dueIn       time.Duration
}

func (h *handlers) defaultTodos() []defaultTodo {
	day := 24 * time.Hour
	return []defaultTodo{
		{fmt.Sprintf("Welcome to %s!", h.AppName), "Complete this task to get started", day},
		{"Explore the features", "Try creating, editing, and completing tasks", 3 * day},
		{"Set up your profile", "Add your preferences and settings", 7 * day},
	}
}

func (h *handlers) createDefaultTasks(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	userID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		user, err := getUser(ctx, s, userID)
		if err != nil {
			return nil, err
		}
		now := h.now()
		for _, d := range h.defaultTodos() {
			err := s.Todos().Create(ctx, &domain.Todo{
				UserID:      user.ID,
				Title:       d.title,
				Description: d.description,
				DueDate:     now.Add(d.dueIn),
			})
			if err != nil {
				return nil, err
			}
		}
		h.Logger.Info("default tasks created", zap.Int64("user_id", user.ID), zap.Int("count", len(h.defaultTodos())))
		return dispatch.Success("tasks_created", len(h.defaultTodos())), nil
	})
}

func (h *handlers) updateUserStats(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	userID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		if _, err := getUser(ctx, s, userID); err != nil {
			return nil, err
		}
		stats, err := s.Todos().Stats(ctx, userID)
		if err != nil {
			return nil, err
		}
		return dispatch.Success(
			"user_id", userID,
			"total_tasks", stats.Total,
			"completed_tasks", stats.Completed,
			"completion_rate", stats.CompletionRate(),
		), nil
	})
}

// syncToExternalService forwards an activity event. It needs no data-store
// session.
func (h *handlers) syncToExternalService(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	userID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	action, err := args.String(1)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if args.Len() > 2 {
		if err := args.Decode(2, &data); err != nil {
			return nil, err
		}
	}

	err = h.Analytics.Track(ctx, analytics.Event{
		UserID:     userID,
		Action:     action,
		Data:       data,
		OccurredAt: h.now(),
	})
	if err != nil {
		h.Logger.Warn("external sync failed", zap.Int64("user_id", userID), zap.String("action", action), zap.Error(err))
		return dispatch.Failure(err.Error()), nil
	}
	return dispatch.Success("action", action, "synced_services", []string{"analytics"}), nil
}
