// Package tasks holds the background jobs workers run: user onboarding,
// task bookkeeping and notifications.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/analytics"
	"github.com/ricirt/taskdispatch/internal/backup"
	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/mailer"
	"github.com/ricirt/taskdispatch/internal/repository"
)

var ErrMissingDependency = errors.New("missing task dependency")

// Deps are the collaborators every handler shares.
type Deps struct {
	Store     repository.Store
	Mailer    mailer.Sender
	Analytics analytics.Sink
	Backups   backup.Store
	Logger    *zap.Logger

	DueSoonWindow time.Duration
	TeamEmails    []string
	BackupPrefix  string
	AppName       string

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) validate() error {
	var missing []string
	if d.Store == nil {
		missing = append(missing, "Store")
	}
	if d.Mailer == nil {
		missing = append(missing, "Mailer")
	}
	if d.Analytics == nil {
		missing = append(missing, "Analytics")
	}
	if d.Backups == nil {
		missing = append(missing, "Backups")
	}
	if d.Logger == nil {
		missing = append(missing, "Logger")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingDependency, missing)
	}
	return nil
}

type handlers struct {
	Deps
}

func newHandlers(d Deps) *handlers {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.DueSoonWindow <= 0 {
		d.DueSoonWindow = time.Hour
	}
	if d.AppName == "" {
		d.AppName = "TodoApp"
	}
	return &handlers{Deps: d}
}

func (h *handlers) now() time.Time { return h.Now().UTC() }

// softError aborts a session and is reported as a status=error result
// instead of a handler failure.
type softError struct{ msg string }

func (e *softError) Error() string { return e.msg }

func fail(format string, args ...any) error {
	return &softError{msg: fmt.Sprintf(format, args...)}
}

// session runs fn in its own data-store session and converts soft errors
// into failure results. Any error rolls the session back.
func (h *handlers) session(ctx context.Context, fn func(ctx context.Context, s repository.Session) (dispatch.Result, error)) (dispatch.Result, error) {
	var res dispatch.Result
	err := h.Store.WithSession(ctx, func(ctx context.Context, s repository.Session) error {
		var err error
		res, err = fn(ctx, s)
		return err
	})
	var soft *softError
	if errors.As(err, &soft) {
		return dispatch.Failure(soft.msg), nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func getUser(ctx context.Context, s repository.Session, id int64) (*domain.User, error) {
	u, err := s.Users().GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fail("User not found")
	}
	return u, err
}

func getTodo(ctx context.Context, s repository.Session, id int64) (*domain.Todo, error) {
	t, err := s.Todos().GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fail("Task not found")
	}
	return t, err
}

func (h *handlers) send(ctx context.Context, msg mailer.Message) error {
	if err := h.Mailer.Send(ctx, msg); err != nil {
		h.Logger.Warn("email not sent", zap.String("to", msg.To), zap.String("tag", msg.Tag), zap.Error(err))
		return fail("failed to send email: %v", err)
	}
	return nil
}
