package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/api/handler"
	apimw "github.com/ricirt/taskdispatch/internal/api/middleware"
	"github.com/ricirt/taskdispatch/internal/broker"
	"github.com/ricirt/taskdispatch/internal/metrics"
	"github.com/ricirt/taskdispatch/internal/repository"
)

// Deps are the collaborators of the producer-facing API.
type Deps struct {
	Producer handler.Producer
	Store    repository.Store
	Broker   broker.Broker
	Queues   []string
	Metrics  *metrics.Metrics
	Counter  *metrics.Counter
	Gatherer prometheus.Gatherer
	Checks   []handler.Check
	Logger   *zap.Logger

	// LocalWorkers is set when this process also runs the worker pool.
	LocalWorkers bool
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps) http.Handler {
	r := base(d.Logger)

	eh := handler.NewEventHandler(d.Producer, d.Logger)
	ah := handler.NewAdminHandler(d.Producer, d.Logger)
	nh := handler.NewNotificationHandler(d.Store, d.Logger)
	qh := handler.NewQueueHandler(d.Broker, d.Queues, d.Metrics, d.Counter, d.LocalWorkers, d.Logger)
	mountOps(r, handler.NewHealthHandler(d.Checks...), d.Gatherer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events/user-registered", eh.UserRegistered)
		r.Post("/events/task-created", eh.TaskCreated)
		r.Post("/events/task-updated", eh.TaskUpdated)

		r.Post("/admin/trigger/due-soon-check", ah.TriggerDueSoonCheck)
		r.Post("/admin/trigger/overdue-check", ah.TriggerOverdueCheck)
		r.Post("/admin/send-test-notification", ah.SendTestNotification)
		r.Post("/admin/bulk-notifications", ah.BulkNotifications)

		r.Get("/users/{id}/notifications", nh.ListByUser)

		r.Get("/queues", qh.List)
		r.Get("/queues/{queue}/dead", qh.DeadLetters)

		// JSON metrics snapshot
		r.Get("/metrics", qh.Snapshot)
	})

	return r
}

// NewOpsRouter serves only probes and the Prometheus scrape endpoint. The
// worker and beat binaries expose it.
func NewOpsRouter(gatherer prometheus.Gatherer, logger *zap.Logger, checks ...handler.Check) http.Handler {
	r := base(logger)
	mountOps(r, handler.NewHealthHandler(checks...), gatherer)
	return r
}

func base(logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))
	return r
}

func mountOps(r chi.Router, hh *handler.HealthHandler, gatherer prometheus.Gatherer) {
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
