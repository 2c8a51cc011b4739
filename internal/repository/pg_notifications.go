package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ricirt/taskdispatch/internal/domain"
)

type pgNotifications struct {
	q querier
}

// Create skips a duplicate reminder with ON CONFLICT DO NOTHING instead of
// raising unique_violation, which would abort the surrounding transaction.
// The conflict target matches the partial index uq_notifications_reminder.
func (r *pgNotifications) Create(ctx context.Context, n *domain.Notification) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO notifications (task_id, user_id, notify_type, title, message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id, notify_type) WHERE notify_type IN ('due_soon', 'overdue')
		DO NOTHING
		RETURNING id`,
		n.TaskID, n.UserID, n.NotifyType, n.Title, n.Message, n.SentAt,
	).Scan(&n.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrConflict
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *pgNotifications) Exists(ctx context.Context, taskID int64, t domain.NotifyType) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications WHERE task_id = $1 AND notify_type = $2
		)`, taskID, t,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return exists, nil
}

func (r *pgNotifications) ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.Notification, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, task_id, user_id, notify_type, title, message, sent_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.TaskID, &n.UserID, &n.NotifyType,
			&n.Title, &n.Message, &n.SentAt); err != nil {
			return nil, err
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}
