package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricirt/taskdispatch/internal/config"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Broker.Kind)
	assert.Equal(t, 5*time.Second, cfg.Broker.EnqueueTimeout)
	assert.Equal(t, time.Second, cfg.Beat.Tick)
	assert.Equal(t, time.Hour, cfg.Tasks.DueSoonWindow)
	assert.Equal(t, int32(25), cfg.Database.MaxConns)
	assert.Equal(t, []string{"team@example.com", "manager@example.com"}, cfg.Tasks.TeamEmails)
	assert.ErrorIs(t, cfg.RequireDatabase(), config.ErrDatabaseURL)
	assert.Equal(t, 30*time.Second, cfg.Worker.LeaseTTL)

	host, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, host, cfg.WorkerName())

	assert.Equal(t,
		[]string{"user_queue", "task_queue", "notification_queue", "analytics_queue", "default"},
		cfg.WorkerQueues())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"DATABASE_URL":       "postgres://u:p@db/todo",
		"TASK_ROUTES":        "tasks.user.*=users,tasks.task.*=work",
		"WORKER_QUEUES":      "users,work",
		"WORKER_CONCURRENCY": "8",
		"DUE_SOON_WINDOW":    "30m",
		"BEAT_TICK":          "250ms",
		"WORKER_NAME":        "worker-a",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.RequireDatabase())

	routes, err := cfg.Broker.TaskRoutes()
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "users", routes[0].Queue)

	assert.Equal(t, []string{"users", "work"}, cfg.WorkerQueues())
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "worker-a", cfg.WorkerName())
	assert.Equal(t, 30*time.Minute, cfg.Tasks.DueSoonWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.Beat.Tick)
}

func TestLoadFrom_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad broker":        {"BROKER": "kafka"},
		"bad routes":        {"TASK_ROUTES": "tasks.user.*"},
		"postmark no token": {"MAIL_PROVIDER": "postmark"},
		"zero concurrency":  {"WORKER_CONCURRENCY": "0"},
		"zero lease":        {"WORKER_LEASE_TTL": "0s"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFrom(environ)
			assert.ErrorIs(t, err, config.ErrInvalidSetting)
		})
	}

	_, err := config.LoadFrom(map[string]string{"BEAT_TICK": "soon"})
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}
