package domain

import "errors"

// Sentinel errors shared by the repositories, handlers and HTTP layer.
// The HTTP layer translates these to status codes via a single mapError function.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("already exists")
	ErrInvalidUserID  = errors.New("user_id must be a positive integer")
	ErrInvalidTaskID  = errors.New("task_id must be a positive integer")
	ErrInvalidDueDate = errors.New("due_date must be set")
	ErrInvalidTitle   = errors.New("title must be between 1 and 255 characters")
	ErrInvalidType    = errors.New("type must be at most 32 characters")
	ErrBatchEmpty     = errors.New("notifications must not be empty")
	ErrBatchTooLarge  = errors.New("at most 1000 notifications per batch")
)
