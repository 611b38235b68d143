package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsCreated  *prometheus.CounterVec
	DeliveriesSent        *prometheus.CounterVec
	DeliveriesFailed      *prometheus.CounterVec
	DeliveriesRetried     *prometheus.CounterVec
	DeliveriesSuppressed  *prometheus.CounterVec
	DeliveryLatency       *prometheus.HistogramVec
	QueueDepth            *prometheus.GaugeVec
	RealtimeConnections   prometheus.Gauge
	RealtimeOnlineUsers   prometheus.Gauge
	RealtimeEvents        *prometheus.CounterVec
	RealtimeEventsDropped prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct. Callers pass a private registry so
// tests can build as many as they like.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notifications accepted by the engine.",
		}, []string{"category"}),

		DeliveriesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_sent_total",
			Help: "Channel deliveries acknowledged by a sender.",
		}, []string{"channel"}),

		DeliveriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_failed_total",
			Help: "Channel deliveries that failed permanently (fatal or retries exhausted).",
		}, []string{"channel"}),

		DeliveriesRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_retried_total",
			Help: "Channel deliveries rescheduled after a retryable failure.",
		}, []string{"channel"}),

		DeliveriesSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_suppressed_total",
			Help: "Recipient/channel pairs skipped or deferred by user preferences.",
		}, []string{"channel", "reason"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delivery_processing_seconds",
			Help:    "Latency from dequeue to sender acknowledgement.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Current number of items in each dispatch lane.",
		}, []string{"lane"}),

		RealtimeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Open realtime connections on this node.",
		}),
		RealtimeOnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_online_users",
			Help: "Distinct authenticated users with at least one open connection.",
		}),
		RealtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Events written to client send buffers.",
		}, []string{"type"}),
		RealtimeEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Events dropped because a client's send buffer was full.",
		}),
	}

	reg.MustRegister(
		m.NotificationsCreated,
		m.DeliveriesSent,
		m.DeliveriesFailed,
		m.DeliveriesRetried,
		m.DeliveriesSuppressed,
		m.DeliveryLatency,
		m.QueueDepth,
		m.RealtimeConnections,
		m.RealtimeOnlineUsers,
		m.RealtimeEvents,
		m.RealtimeEventsDropped,
	)

	return m
}

// WorkerHooks returns the metric callback functions expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() (
	onSent func(domain.Channel, time.Duration),
	onRetried func(domain.Channel),
	onFailed func(domain.Channel),
	onDepths func(high, normal, low int),
) {
	onSent = func(ch domain.Channel, latency time.Duration) {
		m.DeliveriesSent.WithLabelValues(string(ch)).Inc()
		m.DeliveryLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
	}
	onRetried = func(ch domain.Channel) {
		m.DeliveriesRetried.WithLabelValues(string(ch)).Inc()
	}
	onFailed = func(ch domain.Channel) {
		m.DeliveriesFailed.WithLabelValues(string(ch)).Inc()
	}
	onDepths = func(high, normal, low int) {
		m.QueueDepth.WithLabelValues("high").Set(float64(high))
		m.QueueDepth.WithLabelValues("normal").Set(float64(normal))
		m.QueueDepth.WithLabelValues("low").Set(float64(low))
	}
	return
}

// EngineHooks returns the callbacks expected by service.Hooks.
func (m *Metrics) EngineHooks() (
	onCreated func(domain.Category),
	onSuppressed func(ch domain.Channel, reason string),
) {
	onCreated = func(c domain.Category) {
		m.NotificationsCreated.WithLabelValues(string(c)).Inc()
	}
	onSuppressed = func(ch domain.Channel, reason string) {
		m.DeliveriesSuppressed.WithLabelValues(string(ch), reason).Inc()
	}
	return
}

// RealtimeHooks returns the callbacks expected by realtime.Hooks.
func (m *Metrics) RealtimeHooks() (
	onGauge func(connections, users int),
	onEvent func(eventType string),
	onDropped func(),
) {
	onGauge = func(connections, users int) {
		m.RealtimeConnections.Set(float64(connections))
		m.RealtimeOnlineUsers.Set(float64(users))
	}
	onEvent = func(t string) {
		m.RealtimeEvents.WithLabelValues(t).Inc()
	}
	onDropped = func() {
		m.RealtimeEventsDropped.Inc()
	}
	return
}
