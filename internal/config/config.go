package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ricirt/taskdispatch/internal/dispatch"
)

var (
	ErrParsingConfig  = errors.New("failed to parse config")
	ErrDatabaseURL    = errors.New("DATABASE_URL is required")
	ErrInvalidSetting = errors.New("invalid setting")
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a default; DATABASE_URL is only required by binaries that
// touch the store (see RequireDatabase).
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Server    Server
	Database  Database
	Broker    Broker
	Worker    Worker
	Beat      Beat
	Tasks     Tasks
	Mail      Mail
	Analytics Analytics
	Backup    Backup
}

type Server struct {
	Port            string        `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type Database struct {
	URL      string `env:"DATABASE_URL"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	Migrate  bool   `env:"DB_MIGRATE" envDefault:"true"`
}

type Broker struct {
	// Kind is "redis" or "memory". The memory broker only works when
	// producer and worker share a process.
	Kind           string        `env:"BROKER" envDefault:"redis"`
	URL            string        `env:"BROKER_URL" envDefault:"redis://localhost:6379/0"`
	EnqueueTimeout time.Duration `env:"ENQUEUE_TIMEOUT" envDefault:"5s"`
	BlockTimeout   time.Duration `env:"BROKER_BLOCK_TIMEOUT" envDefault:"1s"`
	MemoryCapacity int           `env:"BROKER_MEMORY_CAPACITY" envDefault:"10000"`
	// Routes overrides the built-in routing table, e.g.
	// "tasks.user.*=user_queue,tasks.task.*=task_queue".
	Routes       string `env:"TASK_ROUTES"`
	DefaultQueue string `env:"TASK_DEFAULT_QUEUE" envDefault:"default"`
}

// TaskRoutes returns the routing table: TASK_ROUTES when set, otherwise the
// built-in one.
func (b Broker) TaskRoutes() ([]dispatch.Route, error) {
	if b.Routes == "" {
		return dispatch.DefaultRoutes(), nil
	}
	routes, err := dispatch.ParseRoutes(b.Routes)
	if err != nil {
		return nil, fmt.Errorf("%w: TASK_ROUTES: %v", ErrInvalidSetting, err)
	}
	return routes, nil
}

type Worker struct {
	// Name prefixes this process's consumer names. It must be unique per
	// replica and stable across its restarts; empty means the hostname.
	Name        string `env:"WORKER_NAME"`
	Concurrency int    `env:"WORKER_CONCURRENCY" envDefault:"4"`
	// Queues lists the queues to consume; empty means every routed queue
	// plus the default queue.
	Queues         []string      `env:"WORKER_QUEUES" envSeparator:","`
	OpsPort        string        `env:"WORKER_HTTP_PORT" envDefault:"8081"`
	ReceiveBackoff time.Duration `env:"WORKER_RECEIVE_BACKOFF" envDefault:"1s"`
	LeaseTTL       time.Duration `env:"WORKER_LEASE_TTL" envDefault:"30s"`
}

type Beat struct {
	Tick         time.Duration `env:"BEAT_TICK" envDefault:"1s"`
	DigestUserID int64         `env:"DIGEST_USER_ID" envDefault:"1"`
	OpsPort      string        `env:"BEAT_HTTP_PORT" envDefault:"8082"`
}

type Tasks struct {
	DueSoonWindow time.Duration `env:"DUE_SOON_WINDOW" envDefault:"1h"`
	TeamEmails    []string      `env:"TEAM_EMAILS" envSeparator:"," envDefault:"team@example.com,manager@example.com"`
	AppName       string        `env:"APP_NAME" envDefault:"TodoApp"`
}

type Mail struct {
	// Provider is "postmark" or "log".
	Provider             string  `env:"MAIL_PROVIDER" envDefault:"log"`
	From                 string  `env:"MAIL_FROM" envDefault:"noreply@todoapp.local"`
	PostmarkServerToken  string  `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string  `env:"POSTMARK_ACCOUNT_TOKEN"`
	RatePerSecond        float64 `env:"MAIL_RATE_LIMIT" envDefault:"10"`
}

type Analytics struct {
	// WebhookURL empty disables the external sync; events are only logged.
	WebhookURL string        `env:"ANALYTICS_WEBHOOK_URL"`
	Timeout    time.Duration `env:"ANALYTICS_TIMEOUT" envDefault:"10s"`
}

type Backup struct {
	// Bucket empty disables uploads; snapshots are only logged.
	Bucket       string `env:"BACKUP_BUCKET"`
	Prefix       string `env:"BACKUP_PREFIX" envDefault:"task-backups"`
	Region       string `env:"AWS_REGION" envDefault:"us-east-1"`
	Endpoint     string `env:"S3_ENDPOINT"`
	AccessKey    string `env:"AWS_ACCESS_KEY_ID"`
	SecretKey    string `env:"AWS_SECRET_ACCESS_KEY"`
	UsePathStyle bool   `env:"S3_USE_PATH_STYLE"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Broker.Kind != "redis" && c.Broker.Kind != "memory":
		return fmt.Errorf("%w: BROKER must be redis or memory, got %q", ErrInvalidSetting, c.Broker.Kind)
	case c.Mail.Provider != "log" && c.Mail.Provider != "postmark":
		return fmt.Errorf("%w: MAIL_PROVIDER must be log or postmark, got %q", ErrInvalidSetting, c.Mail.Provider)
	case c.Mail.Provider == "postmark" && c.Mail.PostmarkServerToken == "":
		return fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is required with MAIL_PROVIDER=postmark", ErrInvalidSetting)
	case c.Worker.Concurrency < 1:
		return fmt.Errorf("%w: WORKER_CONCURRENCY must be at least 1", ErrInvalidSetting)
	case c.Worker.LeaseTTL <= 0:
		return fmt.Errorf("%w: WORKER_LEASE_TTL must be positive", ErrInvalidSetting)
	case c.Tasks.DueSoonWindow <= 0:
		return fmt.Errorf("%w: DUE_SOON_WINDOW must be positive", ErrInvalidSetting)
	}
	if _, err := c.Broker.TaskRoutes(); err != nil {
		return err
	}
	return nil
}

// RequireDatabase fails when DATABASE_URL is unset.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return ErrDatabaseURL
	}
	return nil
}

// WorkerName is WORKER_NAME, or the hostname when that is unset.
func (c *Config) WorkerName() string {
	if c.Worker.Name != "" {
		return c.Worker.Name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker"
}

// WorkerQueues is the queue list a worker consumes.
func (c *Config) WorkerQueues() []string {
	if len(c.Worker.Queues) > 0 {
		return c.Worker.Queues
	}
	routes, _ := c.Broker.TaskRoutes()
	return dispatch.NewRouter(routes, c.Broker.DefaultQueue).Queues()
}
