package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/mailer"
	"github.com/ricirt/taskdispatch/internal/repository"
)

// remind sends at most one reminder of kind per task. The record is written
// before the email inside one session, so a failed send leaves no record and
// the next scan retries; the unique index turns a concurrent duplicate into
// a skip.
func (h *handlers) remind(ctx context.Context, taskID int64, kind domain.NotifyType) (dispatch.Result, error) {
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		skipped := func(reason string) (dispatch.Result, error) {
			return dispatch.Success("task_id", taskID, "notify_type", string(kind), "sent", false, "reason", reason), nil
		}

		exists, err := s.Notifications().Exists(ctx, taskID, kind)
		if err != nil {
			return nil, err
		}
		if exists {
			return skipped("already sent")
		}

		todo, err := getTodo(ctx, s, taskID)
		if err != nil {
			return nil, err
		}
		if todo.Completed {
			return skipped("task completed")
		}
		user, err := getUser(ctx, s, todo.UserID)
		if err != nil {
			return nil, err
		}

		subject, body := reminderEmail(kind, todo)
		err = s.Notifications().Create(ctx, &domain.Notification{
			TaskID:     &todo.ID,
			UserID:     user.ID,
			NotifyType: kind,
			Title:      subject,
			Message:    body,
			SentAt:     h.now(),
		})
		if errors.Is(err, domain.ErrConflict) {
			return skipped("already sent")
		}
		if err != nil {
			return nil, err
		}
		if err := h.send(ctx, mailer.Message{To: user.Email, Subject: subject, Body: body, Tag: string(kind)}); err != nil {
			return nil, err
		}
		return dispatch.Success("task_id", taskID, "notify_type", string(kind), "sent", true), nil
	})
}

func reminderEmail(kind domain.NotifyType, t *domain.Todo) (subject, body string) {
	due := t.DueDate.UTC().Format(time.RFC3339)
	if kind == domain.NotifyOverdue {
		return fmt.Sprintf("Overdue: '%s'", t.Title),
			fmt.Sprintf("Your task '%s' was due at %s and is now overdue.", t.Title, due)
	}
	return fmt.Sprintf("Reminder: '%s' due soon", t.Title),
		fmt.Sprintf("Your task '%s' is due at %s.", t.Title, due)
}

func (h *handlers) reminderHandler(kind domain.NotifyType) dispatch.Handler {
	return func(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
		taskID, err := args.Int64(0)
		if err != nil {
			return nil, err
		}
		return h.remind(ctx, taskID, kind)
	}
}

func (h *handlers) scheduledDueSoonCheck(ctx context.Context, _ dispatch.Args) (dispatch.Result, error) {
	now := h.now()
	return h.scan(ctx, domain.NotifyDueSoon, func(ctx context.Context, s repository.Session) ([]*domain.Todo, error) {
		return s.Todos().DueBetween(ctx, now, now.Add(h.DueSoonWindow))
	})
}

func (h *handlers) scheduledOverdueCheck(ctx context.Context, _ dispatch.Args) (dispatch.Result, error) {
	now := h.now()
	return h.scan(ctx, domain.NotifyOverdue, func(ctx context.Context, s repository.Session) ([]*domain.Todo, error) {
		return s.Todos().Overdue(ctx, now)
	})
}

// scan lists candidate todos in one session, then reminds each in its own
// session so one failure does not undo the others.
func (h *handlers) scan(ctx context.Context, kind domain.NotifyType, find func(context.Context, repository.Session) ([]*domain.Todo, error)) (dispatch.Result, error) {
	var todos []*domain.Todo
	err := h.Store.WithSession(ctx, func(ctx context.Context, s repository.Session) error {
		var err error
		todos, err = find(ctx, s)
		return err
	})
	if err != nil {
		return nil, err
	}

	sent, skipped, failed := 0, 0, 0
	for _, t := range todos {
		res, err := h.remind(ctx, t.ID, kind)
		switch {
		case err != nil:
			h.Logger.Error("reminder failed", zap.Int64("task_id", t.ID), zap.String("notify_type", string(kind)), zap.Error(err))
			failed++
		case res.Status() != dispatch.StatusSuccess:
			failed++
		case res["sent"] == true:
			sent++
		default:
			skipped++
		}
	}

	h.Logger.Info("reminder scan complete",
		zap.String("notify_type", string(kind)),
		zap.Int("candidates", len(todos)),
		zap.Int("sent", sent),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return dispatch.Success("notifications_sent", sent, "skipped", skipped, "failed", failed), nil
}
