package domain

import (
	"time"
	"unicode/utf8"
)

// User is the subset of the user account the background jobs need.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Todo is a single item on a user's to-do list.
type Todo struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasDueDate is false for todos stored without a due date.
func (t *Todo) HasDueDate() bool { return !t.DueDate.IsZero() }

// IsOverdue reports whether the todo is still open after its due date.
func (t *Todo) IsOverdue(now time.Time) bool {
	return !t.Completed && t.HasDueDate() && t.DueDate.Before(now)
}

// UserStats summarises completion for one user.
type UserStats struct {
	Total     int `json:"total_tasks"`
	Completed int `json:"completed_tasks"`
}

// CompletionRate returns the completed share as a percentage (0 when empty).
func (s UserStats) CompletionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// Priority is the producer-supplied urgency of a todo.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// TodoEvent is what the CRUD services report after committing a todo change.
type TodoEvent struct {
	TaskID   int64     `json:"task_id"`
	UserID   int64     `json:"user_id"`
	Title    string    `json:"title"`
	DueDate  time.Time `json:"due_date"`
	Priority Priority  `json:"priority"`
}

func (e *TodoEvent) Validate() error {
	if e.TaskID <= 0 {
		return ErrInvalidTaskID
	}
	if e.UserID <= 0 {
		return ErrInvalidUserID
	}
	if n := utf8.RuneCountInString(e.Title); n == 0 || n > 255 {
		return ErrInvalidTitle
	}
	if e.DueDate.IsZero() {
		return ErrInvalidDueDate
	}
	return nil
}
