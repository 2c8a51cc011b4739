package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ricirt/taskdispatch/internal/domain"
)

// MemoryStore is a hand-written, in-memory Store used in unit tests and
// database-less local runs. Sessions run one at a time; a session whose
// function fails has its inserts removed. Sessions must not nest.
//
// Like PostgreSQL, a failed notification insert (foreign key, column
// length, CreateNotificationErr) aborts the session: later calls return
// ErrTxAborted and so does the commit, unless the failure happened inside
// a Savepoint. A reminder conflict does not abort.
type MemoryStore struct {
	txMu          sync.Mutex
	mu            sync.RWMutex
	users         map[int64]*domain.User
	todos         map[int64]*domain.Todo
	notifications []*domain.Notification
	nextTodoID    int64
	nextNotifID   int64

	// Optional error overrides, set in tests to simulate failure paths.
	SessionErr            error
	CreateNotificationErr error
	Sessions              int

	// BeforeCreateNotification, when set, runs once before the next
	// notification insert. Tests use it to interleave a competing writer.
	BeforeCreateNotification func(n *domain.Notification)
}

// memoryTx tracks whether a statement has failed in a session or savepoint.
type memoryTx struct {
	aborted bool
}

func (tx *memoryTx) check() error {
	if tx.aborted {
		return ErrTxAborted
	}
	return nil
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int64]*domain.User),
		todos: make(map[int64]*domain.Todo),
	}
}

func (m *MemoryStore) WithSession(ctx context.Context, fn func(context.Context, Session) error) error {
	m.mu.Lock()
	m.Sessions++
	err := m.SessionErr
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	notifMark := len(m.notifications)
	todoMark := m.nextTodoID
	m.mu.RUnlock()

	tx := &memoryTx{}
	if err := fn(ctx, memorySession{m: m, tx: tx}); err != nil {
		m.rollback(notifMark, todoMark)
		return err
	}
	if tx.aborted {
		m.rollback(notifMark, todoMark)
		return fmt.Errorf("commit: %w", ErrTxAborted)
	}
	return nil
}

func (m *MemoryStore) rollback(notifMark int, todoMark int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = m.notifications[:notifMark]
	for id := range m.todos {
		if id > todoMark {
			delete(m.todos, id)
		}
	}
}

func (m *MemoryStore) Ping(context.Context) error { return m.SessionErr }

// AddUser seeds a user.
func (m *MemoryStore) AddUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// AddTodo seeds a todo, assigning an id when t.ID is zero.
func (m *MemoryStore) AddTodo(t domain.Todo) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTodoLocked(&t)
}

func (m *MemoryStore) insertTodoLocked(t *domain.Todo) int64 {
	if t.ID == 0 {
		m.nextTodoID++
		t.ID = m.nextTodoID
	} else if t.ID > m.nextTodoID {
		m.nextTodoID = t.ID
	}
	clone := *t
	m.todos[t.ID] = &clone
	return t.ID
}

// AddNotification seeds a record outside any session.
func (m *MemoryStore) AddNotification(n domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNotifID++
	n.ID = m.nextNotifID
	m.notifications = append(m.notifications, &n)
}

// AllNotifications returns every stored record in insertion order.
func (m *MemoryStore) AllNotifications() []domain.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, *n)
	}
	return out
}

type memorySession struct {
	m  *MemoryStore
	tx *memoryTx
}

func (s memorySession) Users() UserRepository { return memoryUsers(s) }
func (s memorySession) Todos() TodoRepository { return memoryTodos(s) }
func (s memorySession) Notifications() NotificationRepository { return memoryNotifications(s) }

func (s memorySession) Savepoint(ctx context.Context, fn func(context.Context, Session) error) error {
	if err := s.tx.check(); err != nil {
		return err
	}
	s.m.mu.RLock()
	notifMark := len(s.m.notifications)
	todoMark := s.m.nextTodoID
	s.m.mu.RUnlock()

	inner := &memoryTx{}
	err := fn(ctx, memorySession{m: s.m, tx: inner})
	if err == nil && inner.aborted {
		err = fmt.Errorf("release savepoint: %w", ErrTxAborted)
	}
	if err != nil {
		s.m.rollback(notifMark, todoMark)
		return err
	}
	return nil
}

type memoryUsers memorySession

func (r memoryUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

type memoryTodos memorySession

func (r memoryTodos) GetByID(_ context.Context, id int64) (*domain.Todo, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	t, ok := r.m.todos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (r memoryTodos) Create(_ context.Context, t *domain.Todo) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	now := time.Now().UTC()
	t.ID = 0
	t.CreatedAt, t.UpdatedAt = now, now
	r.m.insertTodoLocked(t)
	return nil
}

func (r memoryTodos) filter(keep func(*domain.Todo) bool) []*domain.Todo {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*domain.Todo
	for _, t := range r.m.todos {
		if keep(t) {
			clone := *t
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r memoryTodos) ListByUser(_ context.Context, userID int64) ([]*domain.Todo, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	return r.filter(func(t *domain.Todo) bool { return t.UserID == userID }), nil
}

func (r memoryTodos) Stats(ctx context.Context, userID int64) (domain.UserStats, error) {
	todos, err := r.ListByUser(ctx, userID)
	if err != nil {
		return domain.UserStats{}, err
	}
	var s domain.UserStats
	for _, t := range todos {
		s.Total++
		if t.Completed {
			s.Completed++
		}
	}
	return s, nil
}

func (r memoryTodos) DueBetween(_ context.Context, from, to time.Time) ([]*domain.Todo, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	return r.filter(func(t *domain.Todo) bool {
		return !t.Completed && t.HasDueDate() && !t.DueDate.Before(from) && !t.DueDate.After(to)
	}), nil
}

func (r memoryTodos) Overdue(_ context.Context, now time.Time) ([]*domain.Todo, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	return r.filter(func(t *domain.Todo) bool { return t.IsOverdue(now) }), nil
}

type memoryNotifications memorySession

func (r memoryNotifications) Create(_ context.Context, n *domain.Notification) error {
	if err := r.tx.check(); err != nil {
		return err
	}
	r.m.mu.Lock()
	hook := r.m.BeforeCreateNotification
	r.m.BeforeCreateNotification = nil
	r.m.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.constraintErrLocked(n); err != nil {
		r.tx.aborted = true
		return err
	}
	if n.TaskID != nil && isReminder(n.NotifyType) {
		for _, existing := range r.m.notifications {
			if existing.TaskID != nil && *existing.TaskID == *n.TaskID && existing.NotifyType == n.NotifyType {
				return domain.ErrConflict
			}
		}
	}
	r.m.nextNotifID++
	n.ID = r.m.nextNotifID
	clone := *n
	r.m.notifications = append(r.m.notifications, &clone)
	return nil
}

// constraintErrLocked mirrors the failures PostgreSQL raises for the
// notifications table. Caller holds mu.
func (m *MemoryStore) constraintErrLocked(n *domain.Notification) error {
	if m.CreateNotificationErr != nil {
		return m.CreateNotificationErr
	}
	if _, ok := m.users[n.UserID]; !ok {
		return fmt.Errorf("insert notification: foreign key violation: user_id %d", n.UserID)
	}
	if n.TaskID != nil {
		if _, ok := m.todos[*n.TaskID]; !ok {
			return fmt.Errorf("insert notification: foreign key violation: task_id %d", *n.TaskID)
		}
	}
	if utf8.RuneCountInString(string(n.NotifyType)) > domain.MaxNotifyTypeLen {
		return fmt.Errorf("insert notification: notify_type longer than %d characters", domain.MaxNotifyTypeLen)
	}
	return nil
}

func (r memoryNotifications) Exists(_ context.Context, taskID int64, t domain.NotifyType) (bool, error) {
	if err := r.tx.check(); err != nil {
		return false, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, n := range r.m.notifications {
		if n.TaskID != nil && *n.TaskID == taskID && n.NotifyType == t {
			return true, nil
		}
	}
	return false, nil
}

func (r memoryNotifications) ListByUser(_ context.Context, userID int64, limit int) ([]*domain.Notification, error) {
	if err := r.tx.check(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*domain.Notification
	for i := len(r.m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if n := r.m.notifications[i]; n.UserID == userID {
			clone := *n
			out = append(out, &clone)
		}
	}
	return out, nil
}

// isReminder mirrors the partial unique index on notifications.
func isReminder(t domain.NotifyType) bool {
	return t == domain.NotifyDueSoon || t == domain.NotifyOverdue
}
