package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/broker"
	"github.com/ricirt/taskdispatch/internal/metrics"
)

// QueueHandler serves broker depth and dead-letter views. Reading depths
// also refreshes the Prometheus queue gauges.
type QueueHandler struct {
	broker       broker.Broker
	queues       []string
	metrics      *metrics.Metrics
	counter      *metrics.Counter
	localWorkers bool
	logger       *zap.Logger
}

// NewQueueHandler builds the handler. localWorkers reports whether the
// counter also sees consumption, which is only true when workers run in
// this process.
func NewQueueHandler(b broker.Broker, queues []string, m *metrics.Metrics, c *metrics.Counter, localWorkers bool, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{broker: b, queues: queues, metrics: m, counter: c, localWorkers: localWorkers, logger: logger}
}

// List handles GET /api/v1/queues
//
// @Summary  Ready and dead-letter depth per queue
// @Tags     queues
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/queues [get]
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	stats, err := h.metrics.ObserveQueues(r.Context(), h.broker, h.queues)
	if err != nil {
		h.logger.Error("queue stats failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

// DeadLetters handles GET /api/v1/queues/{queue}/dead
//
// @Summary  Most recent dead letters of one queue
// @Tags     queues
// @Produce  json
// @Param    queue  path      string  true   "Queue name"
// @Param    limit  query     int     false  "Max items (default 20, max 200)"
// @Success  200    {object}  map[string]any
// @Failure  404    {object}  map[string]string
// @Router   /api/v1/queues/{queue}/dead [get]
func (h *QueueHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	if !h.known(queue) {
		respondError(w, http.StatusNotFound, "unknown queue")
		return
	}
	limit := parseLimit(r, 20, 200)
	items, err := h.broker.DeadLetters(r.Context(), queue, int64(limit))
	if err != nil {
		h.logger.Error("dead letters failed", zap.String("queue", queue), zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	if items == nil {
		items = []broker.DeadLetter{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"queue": queue, "data": items})
}

// Snapshot handles GET /api/v1/metrics
//
// Enqueue counts are always this process's. Processed and unknown counts
// are included only when workers run in-process; otherwise they live in
// each worker's Prometheus metrics and local_workers is false.
//
// @Summary  JSON snapshot of task counters and queue depth
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *QueueHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	stats, err := h.metrics.ObserveQueues(r.Context(), h.broker, h.queues)
	if err != nil {
		h.logger.Error("queue stats failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	var ready, dead int64
	for _, s := range stats {
		ready += s.Ready
		dead += s.Dead
	}
	snap := h.counter.Snapshot()
	if !h.localWorkers {
		snap.Processed, snap.Unknown = nil, nil
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks":         snap,
		"local_workers": h.localWorkers,
		"queue_depth": map[string]int64{
			"ready": ready,
			"dead":  dead,
		},
	})
}

func (h *QueueHandler) known(queue string) bool {
	for _, q := range h.queues {
		if q == queue {
			return true
		}
	}
	return false
}
