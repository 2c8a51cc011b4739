// Package dispatch routes named tasks onto broker queues and runs them on
// the consuming side.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/broker"
)

const defaultEnqueueTimeout = 5 * time.Second

// Client is the process-wide handle producers and the scheduler enqueue
// through. It is safe for concurrent use.
type Client struct {
	broker  broker.Broker
	router  *Router
	timeout time.Duration
	hooks   Hooks
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Client)

// WithEnqueueTimeout bounds each publish call.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithDefaultQueue(q string) Option {
	return func(c *Client) { c.router.fallback = q }
}

func WithHooks(h Hooks) Option {
	return func(c *Client) { c.hooks = h.WithDefaults() }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Connect checks the broker is reachable and returns a client routing with
// routes. There is no retry: an unreachable broker fails startup.
func Connect(ctx context.Context, b broker.Broker, routes []Route, opts ...Option) (*Client, error) {
	c := &Client{
		broker:  b,
		router:  NewRouter(routes, DefaultQueue),
		timeout: defaultEnqueueTimeout,
		hooks:   Hooks{}.WithDefaults(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := b.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return c, nil
}

// Enqueue publishes taskName with args on the queue its route resolves to
// and returns the message id. It does not wait for the task to run.
func (c *Client) Enqueue(ctx context.Context, taskName string, args ...any) (string, error) {
	return c.EnqueueTo(ctx, c.router.Resolve(taskName), taskName, args...)
}

// EnqueueTo publishes on an explicit queue, bypassing routing.
func (c *Client) EnqueueTo(ctx context.Context, queue, taskName string, args ...any) (string, error) {
	raw, err := NewArgs(args...)
	if err != nil {
		c.hooks.OnEnqueueFailed(taskName, queue)
		return "", fmt.Errorf("%w: %s: %v", ErrEnqueue, taskName, err)
	}

	msg := &broker.Message{
		ID:         uuid.NewString(),
		TaskName:   taskName,
		Args:       raw,
		Queue:      queue,
		EnqueuedAt: c.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.broker.Publish(ctx, msg); err != nil {
		c.hooks.OnEnqueueFailed(taskName, queue)
		return "", fmt.Errorf("%w: %s: %v", ErrEnqueue, taskName, err)
	}

	c.hooks.OnEnqueued(taskName, queue)
	c.logger.Debug("task enqueued",
		zap.String("task_name", taskName),
		zap.String("queue", queue),
		zap.String("message_id", msg.ID),
	)
	return msg.ID, nil
}

func (c *Client) Router() *Router { return c.router }

func (c *Client) Broker() broker.Broker { return c.broker }

// Close releases the broker connection.
func (c *Client) Close() error {
	return c.broker.Close()
}
