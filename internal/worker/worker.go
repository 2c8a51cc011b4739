package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/broker"
	"github.com/ricirt/taskdispatch/internal/dispatch"
)

// StatusFailed is reported to OnProcessed when a handler returned an error
// or panicked, as opposed to a soft status=error result.
const StatusFailed = "failed"

const defaultReceiveBackoff = time.Second

// Worker is a single consumer loop. It handles one message at a time:
// receive, dispatch, then ack.
type Worker struct {
	consumer string
	broker   broker.Broker
	registry *dispatch.Registry
	queues   []string
	backoff  time.Duration
	logger   *zap.Logger
	hooks    dispatch.Hooks
}

// NewWorker constructs a worker that consumes queues as consumer. A backoff
// of zero uses one second between failed receives.
func NewWorker(
	consumer string,
	b broker.Broker,
	registry *dispatch.Registry,
	queues []string,
	backoff time.Duration,
	logger *zap.Logger,
	hooks dispatch.Hooks,
) *Worker {
	if backoff <= 0 {
		backoff = defaultReceiveBackoff
	}
	return &Worker{
		consumer: consumer, broker: b, registry: registry,
		queues: queues, backoff: backoff, logger: logger,
		hooks: hooks.WithDefaults(),
	}
}

// Run blocks until ctx is cancelled or the broker is closed. Messages left
// in flight by a previous run under the same consumer name are requeued
// first.
func (w *Worker) Run(ctx context.Context) {
	n, err := w.broker.Recover(ctx, w.consumer, w.queues)
	switch {
	case err != nil:
		w.logger.Error("failed to requeue in-flight messages", zap.Error(err))
	case n > 0:
		w.logger.Info("requeued in-flight messages", zap.Int("count", n))
	}

	w.logger.Info("worker started", zap.Strings("queues", w.queues))
	for {
		d, err := w.broker.Receive(ctx, w.consumer, w.queues)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, broker.ErrClosed) {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Error("receive failed", zap.Error(err))
			if !w.pause(ctx) {
				w.logger.Info("worker stopping")
				return
			}
			continue
		}
		w.process(ctx, d)
	}
}

func (w *Worker) pause(ctx context.Context) bool {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// process runs on a context detached from shutdown so an in-flight task
// finishes and is acked after Run's ctx is cancelled.
func (w *Worker) process(ctx context.Context, d *broker.Delivery) {
	ctx = context.WithoutCancel(ctx)
	msg := d.Message
	log := w.logger.With(
		zap.String("task_name", msg.TaskName),
		zap.String("message_id", msg.ID),
		zap.String("queue", d.Queue),
	)

	start := time.Now()
	res, err := w.registry.Dispatch(ctx, msg)
	took := time.Since(start)

	var herr *dispatch.HandlerError
	switch {
	case errors.Is(err, dispatch.ErrUnknownTask):
		log.Error("unknown task, moving to dead letters", zap.Error(err))
		w.hooks.OnUnknown(msg.TaskName)
		if err := w.broker.DeadLetter(ctx, d, err.Error()); err != nil {
			log.Error("failed to dead-letter message", zap.Error(err))
		}
		return

	case errors.As(err, &herr):
		log.Error("task failed",
			zap.Strings("args", argStrings(herr.Args)),
			zap.Duration("took", took),
			zap.Error(herr.Err),
		)
		w.hooks.OnProcessed(msg.TaskName, StatusFailed, took)

	case err != nil:
		log.Error("task failed", zap.Duration("took", took), zap.Error(err))
		w.hooks.OnProcessed(msg.TaskName, StatusFailed, took)

	case res.Status() == dispatch.StatusError:
		log.Warn("task reported an error",
			zap.String("message", res.Message()),
			zap.Duration("took", took),
		)
		w.hooks.OnProcessed(msg.TaskName, dispatch.StatusError, took)

	default:
		log.Info("task succeeded", zap.Duration("took", took))
		w.hooks.OnProcessed(msg.TaskName, dispatch.StatusSuccess, took)
	}

	if err := w.broker.Ack(ctx, d); err != nil {
		log.Error("failed to ack message", zap.Error(err))
	}
}

func argStrings(args dispatch.Args) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}
