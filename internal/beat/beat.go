// Package beat enqueues tasks on fixed intervals.
//
// Only one beat process should run per deployment: two instances fire every
// rule twice.
package beat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrInvalidRule = errors.New("invalid schedule rule")

const defaultTick = time.Second

// Rule fires TaskName with Args every Interval.
type Rule struct {
	TaskName string
	Interval time.Duration
	Args     []any
}

// DefaultRules is the standing schedule: reminder scans every 30 seconds and
// a digest for digestUserID every minute.
func DefaultRules(digestUserID int64) []Rule {
	return []Rule{
		{TaskName: "tasks.notification.scheduled_due_soon_check", Interval: 30 * time.Second},
		{TaskName: "tasks.notification.scheduled_overdue_check", Interval: 30 * time.Second},
		{TaskName: "tasks.notification.send_daily_digest", Interval: 60 * time.Second, Args: []any{digestUserID}},
	}
}

// Enqueuer is satisfied by *dispatch.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskName string, args ...any) (string, error)
}

type Scheduler struct {
	client Enqueuer
	rules  []Rule
	tick   time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastFire []time.Time
	onFire   func(task string)
}

type Option func(*Scheduler)

// WithTick sets how often rules are evaluated.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock replaces time.Now; the start time is read from it in New.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithFireHook is called after each fire, whether or not the enqueue worked.
func WithFireHook(fn func(task string)) Option {
	return func(s *Scheduler) { s.onFire = fn }
}

func New(client Enqueuer, rules []Rule, opts ...Option) (*Scheduler, error) {
	for i, r := range rules {
		if r.TaskName == "" {
			return nil, fmt.Errorf("%w: rule %d has no task name", ErrInvalidRule, i)
		}
		if r.Interval <= 0 {
			return nil, fmt.Errorf("%w: %s interval must be positive", ErrInvalidRule, r.TaskName)
		}
	}

	s := &Scheduler{
		client: client,
		rules:  append([]Rule(nil), rules...),
		tick:   defaultTick,
		logger: zap.NewNop(),
		now:    time.Now,
		onFire: func(string) {},
	}
	for _, opt := range opts {
		opt(s)
	}

	start := s.now()
	s.lastFire = make([]time.Time, len(s.rules))
	for i := range s.lastFire {
		s.lastFire[i] = start
	}
	return s, nil
}

// Run evaluates rules every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("beat started", zap.Int("rules", len(s.rules)), zap.Duration("tick", s.tick))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("beat stopping")
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick fires every rule whose interval has elapsed since its last fire and
// returns how many fired. A rule fires at most once per call no matter how
// long the gap was.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	fired := 0
	for i, r := range s.rules {
		if now.Sub(s.lastFire[i]) < r.Interval {
			continue
		}
		s.lastFire[i] = now
		fired++

		if _, err := s.client.Enqueue(ctx, r.TaskName, r.Args...); err != nil {
			s.logger.Error("scheduled enqueue failed",
				zap.String("task_name", r.TaskName), zap.Error(err))
		} else {
			s.logger.Debug("scheduled task enqueued", zap.String("task_name", r.TaskName))
		}
		s.onFire(r.TaskName)
	}
	return fired
}

func (s *Scheduler) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}
