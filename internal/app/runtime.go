package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/beat"
	"github.com/ricirt/taskdispatch/internal/broker"
	"github.com/ricirt/taskdispatch/internal/config"
	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/repository"
	"github.com/ricirt/taskdispatch/internal/tasks"
	"github.com/ricirt/taskdispatch/internal/worker"
)

// NewWorkerPool registers every task handler and sizes a pool from cfg.
// Registration must be complete before any message is consumed.
func NewWorkerPool(
	ctx context.Context,
	cfg *config.Config,
	b broker.Broker,
	store repository.Store,
	logger *zap.Logger,
	hooks dispatch.Hooks,
) (*worker.Pool, error) {
	deps, err := TaskDeps(ctx, cfg, store, logger.Named("tasks"))
	if err != nil {
		return nil, err
	}
	reg := dispatch.NewRegistry(logger)
	if err := tasks.Register(reg, deps); err != nil {
		return nil, fmt.Errorf("register tasks: %w", err)
	}

	queues := cfg.WorkerQueues()
	pool, err := worker.NewPool(worker.Config{
		Name:           cfg.WorkerName(),
		Concurrency:    cfg.Worker.Concurrency,
		Queues:         queues,
		ReceiveBackoff: cfg.Worker.ReceiveBackoff,
		LeaseTTL:       cfg.Worker.LeaseTTL,
	}, b, reg, logger.Named("worker"), hooks)
	if err != nil {
		return nil, err
	}
	logger.Info("worker pool ready",
		zap.Int("concurrency", pool.Size()),
		zap.Strings("queues", queues),
		zap.Int("tasks", len(reg.Names())),
	)
	return pool, nil
}

// NewScheduler builds the beat scheduler with the static rule table.
// onFire may be nil.
func NewScheduler(cfg config.Beat, client beat.Enqueuer, logger *zap.Logger, onFire func(task string)) (*beat.Scheduler, error) {
	opts := []beat.Option{
		beat.WithTick(cfg.Tick),
		beat.WithLogger(logger.Named("beat")),
	}
	if onFire != nil {
		opts = append(opts, beat.WithFireHook(onFire))
	}
	return beat.New(client, beat.DefaultRules(cfg.DigestUserID), opts...)
}
