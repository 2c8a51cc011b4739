package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ricirt/taskdispatch/internal/domain"
)

const todoColumns = `id, user_id, title, description, due_date, completed, created_at, updated_at`

type pgTodos struct {
	q querier
}

func (r *pgTodos) GetByID(ctx context.Context, id int64) (*domain.Todo, error) {
	row := r.q.QueryRow(ctx, `SELECT `+todoColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTodo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

func (r *pgTodos) Create(ctx context.Context, t *domain.Todo) error {
	var due *time.Time
	if t.HasDueDate() {
		due = &t.DueDate
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO tasks (user_id, title, description, due_date, completed)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		t.UserID, t.Title, t.Description, due, t.Completed,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *pgTodos) ListByUser(ctx context.Context, userID int64) ([]*domain.Todo, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+todoColumns+` FROM tasks
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return scanTodos(rows)
}

func (r *pgTodos) Stats(ctx context.Context, userID int64) (domain.UserStats, error) {
	var s domain.UserStats
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE completed)
		FROM tasks WHERE user_id = $1`, userID,
	).Scan(&s.Total, &s.Completed)
	if err != nil {
		return s, fmt.Errorf("task stats: %w", err)
	}
	return s, nil
}

func (r *pgTodos) DueBetween(ctx context.Context, from, to time.Time) ([]*domain.Todo, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+todoColumns+` FROM tasks
		WHERE NOT completed AND due_date >= $1 AND due_date <= $2
		ORDER BY due_date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	return scanTodos(rows)
}

func (r *pgTodos) Overdue(ctx context.Context, now time.Time) ([]*domain.Todo, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+todoColumns+` FROM tasks
		WHERE NOT completed AND due_date < $1
		ORDER BY due_date`, now)
	if err != nil {
		return nil, fmt.Errorf("overdue tasks: %w", err)
	}
	return scanTodos(rows)
}

func scanTodo(row pgx.Row) (*domain.Todo, error) {
	var (
		t   domain.Todo
		due *time.Time
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &due,
		&t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if due != nil {
		t.DueDate = due.UTC()
	}
	return &t, nil
}

func scanTodos(rows pgx.Rows) ([]*domain.Todo, error) {
	defer rows.Close()
	var result []*domain.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
