// Package app holds the startup wiring shared by the server, worker and
// beat binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ricirt/taskdispatch/internal/analytics"
	"github.com/ricirt/taskdispatch/internal/backup"
	"github.com/ricirt/taskdispatch/internal/broker"
	"github.com/ricirt/taskdispatch/internal/config"
	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/mailer"
	"github.com/ricirt/taskdispatch/internal/repository"
	"github.com/ricirt/taskdispatch/internal/tasks"
)

// NewLogger builds a production (JSON) logger, or a development (console)
// logger when format is "console", at the given level.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %v", config.ErrInvalidSetting, err)
	}

	var zc zap.Config
	switch strings.ToLower(format) {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "", "json":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("%w: LOG_FORMAT must be json or console, got %q", config.ErrInvalidSetting, format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// OpenBroker creates the configured transport without contacting it.
func OpenBroker(cfg config.Broker) (broker.Broker, error) {
	switch cfg.Kind {
	case "memory":
		return broker.NewMemory(cfg.MemoryCapacity), nil
	case "redis":
		return broker.OpenRedis(cfg.URL, broker.WithBlockTimeout(cfg.BlockTimeout))
	default:
		return nil, fmt.Errorf("%w: unknown broker %q", config.ErrInvalidSetting, cfg.Kind)
	}
}

// ConnectClient opens the broker and returns a client that has reached it.
// Failure is fatal for every binary.
func ConnectClient(ctx context.Context, cfg config.Broker, logger *zap.Logger, hooks dispatch.Hooks) (*dispatch.Client, error) {
	routes, err := cfg.TaskRoutes()
	if err != nil {
		return nil, err
	}
	b, err := OpenBroker(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dispatch.ErrConnection, err)
	}
	client, err := dispatch.Connect(ctx, b, routes,
		dispatch.WithEnqueueTimeout(cfg.EnqueueTimeout),
		dispatch.WithDefaultQueue(cfg.DefaultQueue),
		dispatch.WithHooks(hooks),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	logger.Info("broker connected", zap.String("broker", cfg.Kind), zap.Strings("queues", client.Router().Queues()))
	return client, nil
}

// NewMailer returns the configured sender wrapped in the outbound rate limit.
func NewMailer(cfg config.Mail, logger *zap.Logger) (mailer.Sender, error) {
	var next mailer.Sender
	switch cfg.Provider {
	case "postmark":
		pm, err := mailer.NewPostmark(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.From)
		if err != nil {
			return nil, err
		}
		next = pm
	default:
		next = mailer.NewLogSender(logger)
	}
	return mailer.NewRateLimited(next, cfg.RatePerSecond), nil
}

func NewAnalytics(cfg config.Analytics, logger *zap.Logger) analytics.Sink {
	if cfg.WebhookURL == "" {
		return analytics.NewLogSink(logger)
	}
	return analytics.NewWebhook(cfg.WebhookURL, cfg.Timeout)
}

func NewBackups(ctx context.Context, cfg config.Backup, logger *zap.Logger) (backup.Store, error) {
	if cfg.Bucket == "" {
		return backup.NewLogStore(logger), nil
	}
	return backup.NewS3(ctx, cfg)
}

// TaskDeps assembles handler dependencies from configuration.
func TaskDeps(ctx context.Context, cfg *config.Config, store repository.Store, logger *zap.Logger) (tasks.Deps, error) {
	mail, err := NewMailer(cfg.Mail, logger)
	if err != nil {
		return tasks.Deps{}, fmt.Errorf("mailer: %w", err)
	}
	backups, err := NewBackups(ctx, cfg.Backup, logger)
	if err != nil {
		return tasks.Deps{}, fmt.Errorf("backups: %w", err)
	}
	return tasks.Deps{
		Store:         store,
		Mailer:        mail,
		Analytics:     NewAnalytics(cfg.Analytics, logger),
		Backups:       backups,
		Logger:        logger,
		DueSoonWindow: cfg.Tasks.DueSoonWindow,
		TeamEmails:    cfg.Tasks.TeamEmails,
		BackupPrefix:  cfg.Backup.Prefix,
		AppName:       cfg.Tasks.AppName,
	}, nil
}

// Serve runs srv until ctx is done, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("http server stopped", zap.String("addr", srv.Addr))
	return nil
}
