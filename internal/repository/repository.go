package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ricirt/taskdispatch/internal/domain"
)

// ErrTxAborted means a statement failed earlier in the transaction, so every
// later statement and the final commit fail too.
var ErrTxAborted = errors.New("transaction aborted by an earlier failed statement")

// Store hands out sessions. The PostgreSQL implementation is in pg_store.go;
// tests use the in-memory MemoryStore.
type Store interface {
	// WithSession runs fn inside one transaction on one pooled connection.
	// The transaction commits when fn returns nil and rolls back otherwise.
	// The connection is released on every path.
	WithSession(ctx context.Context, fn func(ctx context.Context, s Session) error) error
	Ping(ctx context.Context) error
}

// Session groups the repositories bound to one transaction.
type Session interface {
	Users() UserRepository
	Todos() TodoRepository
	Notifications() NotificationRepository

	// Savepoint runs fn in a nested transaction. When fn returns an error
	// only its own writes are undone and the session stays usable. fn must
	// return every statement error it sees.
	Savepoint(ctx context.Context, fn func(ctx context.Context, s Session) error) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

type TodoRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Todo, error)
	Create(ctx context.Context, t *domain.Todo) error
	ListByUser(ctx context.Context, userID int64) ([]*domain.Todo, error)
	Stats(ctx context.Context, userID int64) (domain.UserStats, error)
	// DueBetween returns open todos with from <= due_date <= to.
	DueBetween(ctx context.Context, from, to time.Time) ([]*domain.Todo, error)
	// Overdue returns open todos with due_date < now.
	Overdue(ctx context.Context, now time.Time) ([]*domain.Todo, error)
}

type NotificationRepository interface {
	// Create returns domain.ErrConflict when a reminder of the same type
	// already exists for the task. A conflict does not abort the session.
	Create(ctx context.Context, n *domain.Notification) error
	Exists(ctx context.Context, taskID int64, t domain.NotifyType) (bool, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.Notification, error)
}
