package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dinnerconnect/notifier/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	Enqueued         *prometheus.CounterVec
	Received         prometheus.Counter
	Dispatched       *prometheus.CounterVec
	DispatchFailures *prometheus.CounterVec
	Deleted          *prometheus.CounterVec
	DispatchLatency  *prometheus.HistogramVec
	QueueDepth       prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_enqueued_total",
			Help: "Total number of notifications accepted by the queue.",
		}, []string{"type"}),

		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_received_total",
			Help: "Total number of queue deliveries received by the consumer, redeliveries included.",
		}),

		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total number of notifications handed to their sender without error.",
		}, []string{"type"}),

		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatch_failures_total",
			Help: "Total number of deliveries that failed, by type and stage (decode, dispatch, delete).",
		}, []string{"type", "stage"}),

		Deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_deleted_total",
			Help: "Total number of notifications acknowledged and removed from the queue.",
		}, []string{"type"}),

		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_dispatch_seconds",
			Help:    "Time spent in the sender for a single notification.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_queue_depth",
			Help: "Approximate number of messages waiting in the queue at the last snapshot.",
		}),
	}

	reg.MustRegister(
		m.Enqueued,
		m.Received,
		m.Dispatched,
		m.DispatchFailures,
		m.Deleted,
		m.DispatchLatency,
		m.QueueDepth,
	)

	return m
}

// ConsumerHooks returns the metric callbacks expected by worker.MetricHooks.
// Keeps the prometheus calls here so the worker package stays import-free.
func (m *Metrics) ConsumerHooks() (
	onReceived func(n int),
	onDispatched func(domain.Kind, time.Duration),
	onFailed func(kind domain.Kind, stage string),
	onDeleted func(domain.Kind),
) {
	onReceived = func(n int) {
		m.Received.Add(float64(n))
	}
	onDispatched = func(k domain.Kind, latency time.Duration) {
		m.Dispatched.WithLabelValues(string(k)).Inc()
		m.DispatchLatency.WithLabelValues(string(k)).Observe(latency.Seconds())
	}
	onFailed = func(k domain.Kind, stage string) {
		m.DispatchFailures.WithLabelValues(kindLabel(k), stage).Inc()
	}
	onDeleted = func(k domain.Kind) {
		m.Deleted.WithLabelValues(string(k)).Inc()
	}
	return
}

// ProducerHook returns the callback expected by producer.New.
func (m *Metrics) ProducerHook() func(domain.Kind) {
	return func(k domain.Kind) {
		m.Enqueued.WithLabelValues(string(k)).Inc()
	}
}

// ObserveDepth records a queue-depth snapshot.
func (m *Metrics) ObserveDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// kindLabel maps an undecodable message (empty kind) to a stable label.
func kindLabel(k domain.Kind) string {
	if k == "" {
		return "unknown"
	}
	return string(k)
}
