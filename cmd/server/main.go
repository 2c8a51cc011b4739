package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ricirt/taskdispatch/internal/api"
	"github.com/ricirt/taskdispatch/internal/api/handler"
	"github.com/ricirt/taskdispatch/internal/app"
	"github.com/ricirt/taskdispatch/internal/config"
	"github.com/ricirt/taskdispatch/internal/db"
	"github.com/ricirt/taskdispatch/internal/metrics"
	"github.com/ricirt/taskdispatch/internal/producer"
	"github.com/ricirt/taskdispatch/internal/repository"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
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

	// ---- broker ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	counter := metrics.NewCounter()
	hooks := m.Hooks().Merge(counter.Hooks())

	client, err := app.ConnectClient(ctx, cfg.Broker, logger, hooks)
	if err != nil {
		return err
	}
	defer client.Close()

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Producer: producer.New(client, logger.Named("producer")),
		Store:    store,
		Broker:   client.Broker(),
		Queues:   client.Router().Queues(),
		Metrics:  m,
		Counter:  counter,
		Gatherer: reg,
		Checks: []handler.Check{
			{Name: "broker", Ping: client.Broker().Ping},
			{Name: "database", Ping: store.Ping},
		},
		Logger:       logger,
		LocalWorkers: cfg.Broker.Kind == "memory",
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Serve(gctx, srv, cfg.Server.ShutdownTimeout, logger)
	})

	// The memory broker cannot be shared across processes, so the server
	// also consumes and schedules in that mode.
	if cfg.Broker.Kind == "memory" {
		logger.Warn("memory broker: running workers and beat in-process")
		workers, err := app.NewWorkerPool(gctx, cfg, client.Broker(), store, logger, hooks)
		if err != nil {
			return err
		}
		sched, err := app.NewScheduler(cfg.Beat, client, logger, m.OnBeatFired)
		if err != nil {
			return err
		}
		if err := workers.Start(gctx); err != nil {
			return err
		}
		g.Go(workers.Wait)
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}
