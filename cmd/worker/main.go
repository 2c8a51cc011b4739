// Command worker consumes task queues and runs their handlers.
//
// Each replica consumes under the names <WORKER_NAME>-0 .. <WORKER_NAME>-N
// and leases them in the broker for WORKER_LEASE_TTL. WORKER_NAME defaults
// to the hostname. Set it explicitly only to a value that is unique per
// replica and stable across that replica's restarts (a StatefulSet pod name,
// for example): messages a crashed replica left in flight are requeued when
// a process with the same name starts again. A second live process with
// the same name fails to start instead of taking over the first one's
// messages.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ricirt/taskdispatch/internal/api"
	"github.com/ricirt/taskdispatch/internal/api/handler"
	"github.com/ricirt/taskdispatch/internal/app"
	"github.com/ricirt/taskdispatch/internal/config"
	"github.com/ricirt/taskdispatch/internal/db"
	"github.com/ricirt/taskdispatch/internal/metrics"
	"github.com/ricirt/taskdispatch/internal/repository"
)

const queueSampleInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("failed to load config", zap.Error(err))
	}
	logger, err := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.With(zap.String("worker_name", cfg.WorkerName()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
	logger.Info("worker stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Broker.Kind == "memory" {
		logger.Warn("memory broker in a standalone worker: nothing else can publish to it")
	}

	// ---- database ----
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}
	store := repository.NewPgStore(pool)

	// ---- broker and pool ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	client, err := app.ConnectClient(ctx, cfg.Broker, logger, m.Hooks())
	if err != nil {
		return err
	}
	defer client.Close()

	workers, err := app.NewWorkerPool(ctx, cfg, client.Broker(), store, logger, m.Hooks())
	if err != nil {
		return err
	}

	// ---- ops HTTP ----
	srv := &http.Server{
		Addr: ":" + cfg.Worker.OpsPort,
		Handler: api.NewOpsRouter(reg, logger,
			handler.Check{Name: "broker", Ping: client.Broker().Ping},
			handler.Check{Name: "database", Ping: store.Ping},
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Cancelling gctx stops the workers after their current message; Wait
	// keeps the broker and database open until then.
	if err := workers.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		err := workers.Wait()
		logger.Info("worker pool stopped")
		return err
	})
	g.Go(func() error {
		return app.Serve(gctx, srv, cfg.Server.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		m.SampleQueues(gctx, client.Broker(), cfg.WorkerQueues(), queueSampleInterval, logger)
		return nil
	})

	return g.Wait()
}
