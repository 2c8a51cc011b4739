package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ricirt/taskdispatch/internal/domain"
)

type pgUsers struct {
	q querier
}

func (r *pgUsers) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := r.q.QueryRow(ctx, `
		SELECT id, username, email, created_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}
