package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/broker"
	"github.com/ricirt/taskdispatch/internal/dispatch"
)

// Metrics groups all Prometheus instruments used across the binaries.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	TasksEnqueued  *prometheus.CounterVec
	EnqueueFailed  *prometheus.CounterVec
	TasksProcessed *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	UnknownTasks   *prometheus.CounterVec
	QueueReady     *prometheus.GaugeVec
	QueueDead      *prometheus.GaugeVec
	BeatFired      *prometheus.CounterVec
}

// New registers all instruments with reg. Pass a fresh prometheus.Registry
// rather than the default registerer so tests stay isolated.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_enqueued_total",
			Help: "Task messages published to the broker.",
		}, []string{"task", "queue"}),

		EnqueueFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_enqueue_failed_total",
			Help: "Task messages that could not be published. Their side effects are lost.",
		}, []string{"task", "queue"}),

		TasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_processed_total",
			Help: "Task messages consumed by workers, by outcome.",
		}, []string{"task", "status"}),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Handler run time from dispatch to result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),

		UnknownTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_unknown_total",
			Help: "Messages dead-lettered because no handler is registered.",
		}, []string{"task"}),

		QueueReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_ready_messages",
			Help: "Messages waiting for a consumer.",
		}, []string{"queue"}),

		QueueDead: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_dead_messages",
			Help: "Messages parked on the dead-letter list.",
		}, []string{"queue"}),

		BeatFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beat_fired_total",
			Help: "Scheduled rule firings, including ones whose enqueue failed.",
		}, []string{"task"}),
	}

	reg.MustRegister(
		m.TasksEnqueued,
		m.EnqueueFailed,
		m.TasksProcessed,
		m.TaskDuration,
		m.UnknownTasks,
		m.QueueReady,
		m.QueueDead,
		m.BeatFired,
	)

	return m
}

// Hooks returns the dispatch callbacks that feed these instruments, so the
// client and workers stay free of Prometheus imports.
func (m *Metrics) Hooks() dispatch.Hooks {
	return dispatch.Hooks{
		OnEnqueued: func(task, queue string) {
			m.TasksEnqueued.WithLabelValues(task, queue).Inc()
		},
		OnEnqueueFailed: func(task, queue string) {
			m.EnqueueFailed.WithLabelValues(task, queue).Inc()
		},
		OnProcessed: func(task, status string, took time.Duration) {
			m.TasksProcessed.WithLabelValues(task, status).Inc()
			m.TaskDuration.WithLabelValues(task).Observe(took.Seconds())
		},
		OnUnknown: func(task string) {
			m.UnknownTasks.WithLabelValues(task).Inc()
		},
	}
}

// ObserveQueues samples broker depths into the queue gauges and returns the
// snapshot it recorded.
func (m *Metrics) ObserveQueues(ctx context.Context, b broker.Broker, queues []string) ([]broker.QueueStats, error) {
	out := make([]broker.QueueStats, 0, len(queues))
	for _, q := range queues {
		s, err := b.Stats(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("queue stats %s: %w", q, err)
		}
		m.QueueReady.WithLabelValues(q).Set(float64(s.Ready))
		m.QueueDead.WithLabelValues(q).Set(float64(s.Dead))
		out = append(out, s)
	}
	return out, nil
}

// OnBeatFired is the beat fire hook.
func (m *Metrics) OnBeatFired(task string) {
	m.BeatFired.WithLabelValues(task).Inc()
}

// SampleQueues refreshes the queue gauges every interval until ctx is done.
func (m *Metrics) SampleQueues(ctx context.Context, b broker.Broker, queues []string, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := m.ObserveQueues(ctx, b, queues); err != nil && ctx.Err() == nil {
			logger.Warn("queue sampling failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
