package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/mailer"
	"github.com/ricirt/taskdispatch/internal/repository"
)

func (h *handlers) registerNotification(reg *dispatch.Registry) {
	reg.Register(SendInstantNotification, h.sendInstantNotification)
	reg.Register(SendTaskCompletionNotification, h.sendTaskCompletionNotification)
	reg.Register(SendDailyDigest, h.sendDailyDigest)
	reg.Register(ProcessBulkNotifications, h.processBulkNotifications)
	reg.Register(SendDueSoonReminder, h.reminderHandler(domain.NotifyDueSoon))
	reg.Register(SendOverdueReminder, h.reminderHandler(domain.NotifyOverdue))
	reg.Register(ScheduledDueSoonCheck, h.scheduledDueSoonCheck)
	reg.Register(ScheduledOverdueCheck, h.scheduledOverdueCheck)
}

// sendInstantNotification args: user_id, title, message[, type].
// The record and the email succeed or fail together.
func (h *handlers) sendInstantNotification(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	userID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	title, err := args.String(1)
	if err != nil {
		return nil, err
	}
	message, err := args.String(2)
	if err != nil {
		return nil, err
	}
	kind, err := args.StringOr(3, string(domain.NotifyInfo))
	if err != nil {
		return nil, err
	}

	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		user, err := getUser(ctx, s, userID)
		if err != nil {
			return nil, err
		}
		n := &domain.Notification{
			UserID:     user.ID,
			NotifyType: domain.NotifyType(kind),
			Title:      title,
			Message:    message,
			SentAt:     h.now(),
		}
		if err := s.Notifications().Create(ctx, n); err != nil {
			return nil, err
		}
		if err := h.send(ctx, mailer.Message{To: user.Email, Subject: title, Body: message, Tag: kind}); err != nil {
			return nil, err
		}
		return dispatch.Success(
			"user_id", userID,
			"notification_type", kind,
			"sent_at", n.SentAt.Format(time.RFC3339),
		), nil
	})
}

func (h *handlers) sendTaskCompletionNotification(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
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

		subject := "Task Completed: " + todo.Title
		body := fmt.Sprintf("Congratulations! You've completed the task: %q\n\nKeep up the great work!\n\nYour %s Team\n",
			todo.Title, h.AppName)
		err = s.Notifications().Create(ctx, &domain.Notification{
			TaskID:     &todo.ID,
			UserID:     user.ID,
			NotifyType: domain.NotifyTaskCompleted,
			Title:      subject,
			Message:    body,
			SentAt:     h.now(),
		})
		if err != nil {
			return nil, err
		}
		if err := h.send(ctx, mailer.Message{To: user.Email, Subject: subject, Body: body, Tag: "task_completed"}); err != nil {
			return nil, err
		}
		return dispatch.Success("task_id", taskID, "user_email", user.Email), nil
	})
}

// sendDailyDigest emails open tasks due today and overdue ones. "Today" is
// the current UTC calendar day. No record is stored.
func (h *handlers) sendDailyDigest(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	userID, err := args.Int64(0)
	if err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		user, err := getUser(ctx, s, userID)
		if err != nil {
			return nil, err
		}
		todos, err := s.Todos().ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		today := h.now().Truncate(24 * time.Hour)
		tomorrow := today.Add(24 * time.Hour)
		var dueToday, overdue []string
		for _, t := range todos {
			if t.Completed || !t.HasDueDate() {
				continue
			}
			switch {
			case t.DueDate.Before(today):
				overdue = append(overdue, t.Title)
			case t.DueDate.Before(tomorrow):
				dueToday = append(dueToday, t.Title)
			}
		}

		err = h.send(ctx, mailer.Message{
			To:      user.Email,
			Subject: "Daily Task Digest - " + today.Format("January 02, 2006"),
			Body:    h.digestBody(user.Username, dueToday, overdue),
			Tag:     "digest",
		})
		if err != nil {
			return nil, err
		}
		return dispatch.Success("user_id", userID, "due_today", len(dueToday), "overdue", len(overdue)), nil
	})
}

func (h *handlers) digestBody(username string, dueToday, overdue []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Good morning %s!\n\nHere's your daily task summary:\n\n", username)

	fmt.Fprintf(&b, "Due Today (%d tasks):\n", len(dueToday))
	if len(dueToday) == 0 {
		b.WriteString("No tasks due today!\n")
	}
	for _, t := range dueToday {
		fmt.Fprintf(&b, "- %s\n", t)
	}

	fmt.Fprintf(&b, "\nOverdue (%d tasks):\n", len(overdue))
	if len(overdue) == 0 {
		b.WriteString("No overdue tasks!\n")
	}
	for _, t := range overdue {
		fmt.Fprintf(&b, "- %s\n", t)
	}

	fmt.Fprintf(&b, "\nHave a productive day!\nYour %s Team\n", h.AppName)
	return b.String()
}

// BulkItem is one entry of a process_bulk_notifications batch.
type BulkItem = domain.BulkNotification

// processBulkNotifications sends each item in its own savepoint; a bad item
// is counted as failed, its record is undone, and the rest of the batch
// continues in the same session.
func (h *handlers) processBulkNotifications(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	var batch []BulkItem
	if err := args.Decode(0, &batch); err != nil {
		return nil, err
	}
	return h.session(ctx, func(ctx context.Context, s repository.Session) (dispatch.Result, error) {
		processed, failed := 0, 0
		for _, item := range batch {
			err := s.Savepoint(ctx, func(ctx context.Context, s repository.Session) error {
				return h.bulkItem(ctx, s, item)
			})
			if err != nil {
				h.Logger.Warn("bulk notification failed", zap.Int64("user_id", item.UserID), zap.Error(err))
				failed++
				continue
			}
			processed++
		}
		h.Logger.Info("bulk notifications processed",
			zap.Int("processed", processed), zap.Int("failed", failed))
		return dispatch.Success("processed", processed, "failed", failed, "total", len(batch)), nil
	})
}

// bulkItem writes the record before sending, so a failed send rolls the
// record back with the savepoint.
func (h *handlers) bulkItem(ctx context.Context, s repository.Session, item BulkItem) error {
	user, err := getUser(ctx, s, item.UserID)
	if err != nil {
		return err
	}
	kind := item.Type
	if kind == "" {
		kind = string(domain.NotifyBulk)
	}
	err = s.Notifications().Create(ctx, &domain.Notification{
		TaskID:     item.TaskID,
		UserID:     user.ID,
		NotifyType: domain.NotifyType(kind),
		Title:      item.Title,
		Message:    item.Message,
		SentAt:     h.now(),
	})
	if err != nil {
		return err
	}
	return h.Mailer.Send(ctx, mailer.Message{To: user.Email, Subject: item.Title, Body: item.Message, Tag: kind})
}
