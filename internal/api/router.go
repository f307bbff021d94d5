package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dinnerconnect/notifier/internal/api/handler"
	apimw "github.com/dinnerconnect/notifier/internal/api/middleware"
	"github.com/dinnerconnect/notifier/internal/metrics"
	"github.com/dinnerconnect/notifier/internal/queue"
)

// NewRouter wires the enqueue API: the ops endpoints plus
// POST /api/v1/notifications in front of the producer.
func NewRouter(
	producer handler.Enqueuer,
	q queue.Queue,
	reg prometheus.Gatherer,
	m *metrics.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := newBaseRouter(q, reg, m, logger)

	nh := handler.NewNotificationHandler(producer, logger)
	r.Post("/api/v1/notifications", nh.Create)

	return r
}

// NewOpsRouter serves only health and metrics. The consumer process exposes
// it on METRICS_PORT.
func NewOpsRouter(
	q queue.Queue,
	reg prometheus.Gatherer,
	m *metrics.Metrics,
	logger *zap.Logger,
) http.Handler {
	return newBaseRouter(q, reg, m, logger)
}

func newBaseRouter(q queue.Queue, reg prometheus.Gatherer, m *metrics.Metrics, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	var observe func(int)
	if m != nil {
		observe = m.ObserveDepth
	}
	mh := handler.NewMetricsHandler(q, observe)
	hh := handler.NewHealthHandler()

	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// JSON queue snapshot
	r.Get("/api/v1/metrics", mh.GetMetrics)

	return r
}
