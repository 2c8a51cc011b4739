package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgx.Tx the repositories use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) WithSession(ctx context.Context, fn func(context.Context, Session) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgSession{tx: tx}); err != nil {
		return err
	}
	return commit(ctx, tx)
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// commit reports a commit that PostgreSQL turned into a rollback as
// ErrTxAborted.
func commit(ctx context.Context, tx pgx.Tx) error {
	err := tx.Commit(ctx)
	if errors.Is(err, pgx.ErrTxCommitRollback) {
		return fmt.Errorf("commit: %w", ErrTxAborted)
	}
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgSession struct {
	tx pgx.Tx
}

func (s *pgSession) Users() UserRepository { return &pgUsers{q: s.tx} }
func (s *pgSession) Todos() TodoRepository { return &pgTodos{q: s.tx} }
func (s *pgSession) Notifications() NotificationRepository { return &pgNotifications{q: s.tx} }

// Savepoint uses a pgx pseudo nested transaction (SAVEPOINT / ROLLBACK TO).
func (s *pgSession) Savepoint(ctx context.Context, fn func(context.Context, Session) error) error {
	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(ctx, &pgSession{tx: sp}); err != nil {
		if rbErr := sp.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
