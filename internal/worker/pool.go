package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/broker"
	"github.com/ricirt/taskdispatch/internal/dispatch"
)

const (
	defaultLeaseTTL = 30 * time.Second
	releaseTimeout  = 5 * time.Second
)

// ErrLeaseLost is returned by Wait when another process took over one of the
// pool's consumer names and the pool stopped its workers.
var ErrLeaseLost = errors.New("consumer lease lost")

// Config sizes a pool.
type Config struct {
	// Name prefixes consumer names: <Name>-0, <Name>-1, ...
	// Keep it stable across restarts so in-flight messages are recovered,
	// and unique per process: a second pool under the same name cannot
	// start while the first holds its leases.
	Name           string
	Concurrency    int
	Queues         []string
	ReceiveBackoff time.Duration
	// LeaseTTL bounds how long a crashed process keeps its consumer names.
	// Zero means 30 seconds.
	LeaseTTL time.Duration
}

// Pool manages the lifecycle of all workers. Every worker subscribes to the
// same queues and runs independently.
type Pool struct {
	workers  []*Worker
	broker   broker.Broker
	logger   *zap.Logger
	holder   string
	leaseTTL time.Duration
	wg       sync.WaitGroup

	started       bool
	stopWorkers   context.CancelFunc
	stopHeartbeat context.CancelFunc
	heartbeatDone chan struct{}
	lost          atomic.Bool
}

// NewPool creates cfg.Concurrency workers (at least one).
func NewPool(
	cfg Config,
	b broker.Broker,
	registry *dispatch.Registry,
	logger *zap.Logger,
	hooks dispatch.Hooks,
) (*Pool, error) {
	if len(cfg.Queues) == 0 {
		return nil, fmt.Errorf("worker pool: %w", broker.ErrNoQueues)
	}
	n := cfg.Concurrency
	if n < 1 {
		n = 1
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}

	workers := make([]*Worker, n)
	for i := range workers {
		consumer := fmt.Sprintf("%s-%d", cfg.Name, i)
		workers[i] = NewWorker(
			consumer, b, registry, cfg.Queues,
			cfg.ReceiveBackoff,
			logger.With(zap.Int("worker_id", i), zap.String("consumer", consumer)),
			hooks,
		)
	}
	return &Pool{
		workers:  workers,
		broker:   b,
		logger:   logger,
		holder:   uuid.NewString(),
		leaseTTL: ttl,
	}, nil
}

// Size is the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start leases every consumer name and launches the workers. If another
// process still holds a name after one lease period, Start returns
// broker.ErrConsumerInUse and runs nothing. Cancelling ctx stops the
// workers once their current message is done.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	p.started = true

	runCtx, stopWorkers := context.WithCancel(ctx)
	p.stopWorkers = stopWorkers
	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	p.stopHeartbeat = stopHeartbeat
	p.heartbeatDone = make(chan struct{})
	go func() {
		defer close(p.heartbeatDone)
		p.heartbeat(hbCtx, stopWorkers)
	}()

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(runCtx)
		}(w)
	}
	return nil
}

// Wait blocks until every worker has returned, then gives up the consumer
// leases. It returns ErrLeaseLost if the pool stopped because another
// process took over a consumer name.
func (p *Pool) Wait() error {
	p.wg.Wait()
	if !p.started {
		return nil
	}
	p.stopWorkers()
	p.stopHeartbeat()
	<-p.heartbeatDone

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	p.release(ctx, p.workers)
	if p.lost.Load() {
		return ErrLeaseLost
	}
	return nil
}

// acquire retries a held name for one lease period so a restart under the
// same name waits out its crashed predecessor.
func (p *Pool) acquire(ctx context.Context) error {
	deadline := time.Now().Add(p.leaseTTL)
	retry := p.leaseTTL / 10
	for i, w := range p.workers {
		warned := false
		for {
			err := p.broker.Lease(ctx, w.consumer, p.holder, p.leaseTTL)
			if err == nil {
				break
			}
			if !errors.Is(err, broker.ErrConsumerInUse) || time.Now().After(deadline) {
				p.releaseAfterFailure(p.workers[:i])
				return fmt.Errorf("worker pool: %w", err)
			}
			if !warned {
				p.logger.Warn("consumer name is held by another process; waiting for its lease",
					zap.String("consumer", w.consumer), zap.Duration("lease_ttl", p.leaseTTL))
				warned = true
			}
			select {
			case <-ctx.Done():
				p.releaseAfterFailure(p.workers[:i])
				return ctx.Err()
			case <-time.After(retry):
			}
		}
	}
	return nil
}

func (p *Pool) releaseAfterFailure(workers []*Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	p.release(ctx, workers)
}

func (p *Pool) release(ctx context.Context, workers []*Worker) {
	for _, w := range workers {
		if err := p.broker.Release(ctx, w.consumer, p.holder); err != nil {
			p.logger.Warn("failed to release consumer lease", zap.String("consumer", w.consumer), zap.Error(err))
		}
	}
}

// heartbeat extends the leases every third of a lease period. A lease taken
// over by another holder stops the workers.
func (p *Pool) heartbeat(ctx context.Context, stopWorkers context.CancelFunc) {
	t := time.NewTicker(p.leaseTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, w := range p.workers {
			err := p.broker.Lease(ctx, w.consumer, p.holder, p.leaseTTL)
			switch {
			case err == nil || ctx.Err() != nil:
			case errors.Is(err, broker.ErrConsumerInUse):
				p.logger.Error("consumer lease taken over; stopping workers", zap.String("consumer", w.consumer))
				p.lost.Store(true)
				stopWorkers()
				return
			default:
				p.logger.Warn("failed to extend consumer lease", zap.String("consumer", w.consumer), zap.Error(err))
			}
		}
	}
}
