package domain

import "unicode/utf8"

// MaxBulkNotifications caps one bulk request.
const MaxBulkNotifications = 1000

// UserRegistered is reported by the user service after an account is created.
type UserRegistered struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func (e *UserRegistered) Validate() error {
	if e.UserID <= 0 {
		return ErrInvalidUserID
	}
	return nil
}

// TodoUpdated is reported after a todo changes. CompletedNow is set only on
// the transition from open to completed.
type TodoUpdated struct {
	TodoEvent
	CompletedNow bool `json:"completed_now"`
}

// Validate does not require a due date; updates may clear it.
func (e *TodoUpdated) Validate() error {
	if e.TaskID <= 0 {
		return ErrInvalidTaskID
	}
	if e.UserID <= 0 {
		return ErrInvalidUserID
	}
	if n := utf8.RuneCountInString(e.Title); n == 0 || n > 255 {
		return ErrInvalidTitle
	}
	return nil
}

// BulkNotification is one message of a bulk send.
type BulkNotification struct {
	UserID  int64  `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	TaskID  *int64 `json:"task_id,omitempty"`
}

type BulkNotificationRequest struct {
	Notifications []BulkNotification `json:"notifications"`
}

func (r *BulkNotificationRequest) Validate() error {
	if len(r.Notifications) == 0 {
		return ErrBatchEmpty
	}
	if len(r.Notifications) > MaxBulkNotifications {
		return ErrBatchTooLarge
	}
	for _, n := range r.Notifications {
		if n.UserID <= 0 {
			return ErrInvalidUserID
		}
		if c := utf8.RuneCountInString(n.Title); c == 0 || c > 255 {
			return ErrInvalidTitle
		}
		if utf8.RuneCountInString(n.Type) > MaxNotifyTypeLen {
			return ErrInvalidType
		}
		if n.TaskID != nil && *n.TaskID <= 0 {
			return ErrInvalidTaskID
		}
	}
	return nil
}
