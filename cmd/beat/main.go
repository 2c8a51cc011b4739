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
	"github.com/ricirt/taskdispatch/internal/metrics"
)

// Run exactly one beat process per deployment; two would double every
// scheduled task.
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
		logger.Fatal("beat failed", zap.Error(err))
	}
	logger.Info("beat stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Broker.Kind == "memory" {
		logger.Warn("memory broker in a standalone beat: no worker can consume its tasks")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	client, err := app.ConnectClient(ctx, cfg.Broker, logger, m.Hooks())
	if err != nil {
		return err
	}
	defer client.Close()

	sched, err := app.NewScheduler(cfg.Beat, client, logger, m.OnBeatFired)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: ":" + cfg.Beat.OpsPort,
		Handler: api.NewOpsRouter(reg, logger,
			handler.Check{Name: "broker", Ping: client.Broker().Ping},
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Serve(gctx, srv, cfg.Server.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	return g.Wait()
}
