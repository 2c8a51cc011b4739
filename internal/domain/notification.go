package domain

import "time"

// NotifyType classifies a notification record.
// The reminder types double as idempotency keys together with the task id.
type NotifyType string

const (
	NotifyInfo          NotifyType = "info"
	NotifyDueSoon       NotifyType = "due_soon"
	NotifyOverdue       NotifyType = "overdue"
	NotifyTaskCompleted NotifyType = "task_completed"
	NotifyBulk          NotifyType = "bulk"
)

// MaxNotifyTypeLen is the width of the notify_type column.
const MaxNotifyTypeLen = 32

// Notification is a record of something sent to a user.
// Rows are written only by worker handlers and never updated afterwards.
type Notification struct {
	ID         int64      `json:"id"`
	TaskID     *int64     `json:"task_id,omitempty"`
	UserID     int64      `json:"user_id"`
	NotifyType NotifyType `json:"type"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	SentAt     time.Time  `json:"sent_at"`
}

// DisplayTitle falls back to a generic title for reminder rows that were
// stored without one.
func (n *Notification) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	return "Notification (" + string(n.NotifyType) + ")"
}
