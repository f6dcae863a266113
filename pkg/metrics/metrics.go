package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Outbox related metrics
	OutboxMessagesProcessed prometheus.Counter
	OutboxMessagesFailed    prometheus.Counter
	OutboxDeadLettered      prometheus.Counter
	OutboxClaimContention   prometheus.Counter
	OutboxPublishRetries    *prometheus.CounterVec
	OutboxCycleDuration     prometheus.Histogram
	OutboxProcessingLatency *prometheus.HistogramVec

	// Notification metrics
	NotificationsDelivered    *prometheus.CounterVec
	NotificationsFailed       prometheus.Counter
	NotificationsDeadLettered prometheus.Counter
	NotificationCycleDuration prometheus.Histogram

	// Scheduler metrics
	JobRuns *prometheus.CounterVec

	// Realtime hub metrics
	HubConnections prometheus.Gauge
}

// NewMetrics creates all application metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OutboxMessagesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "messages_processed_total",
			Help:      "Total number of outbox messages published and marked processed",
		}),
		OutboxMessagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "messages_failed_total",
			Help:      "Total number of outbox processing attempts that failed",
		}),
		OutboxDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "messages_dead_lettered_total",
			Help:      "Total number of outbox messages that exhausted their retries",
		}),
		OutboxClaimContention: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "claim_contention_total",
			Help:      "Claims lost to a concurrent dispatcher",
		}),
		OutboxPublishRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_retries_total",
			Help:      "In-cycle publish retry attempts",
		}, []string{"event_type"}),
		OutboxCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one outbox dispatch cycle",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		OutboxProcessingLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "processing_latency_seconds",
			Help:      "Time between message capture and successful publish",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"event_type"}),

		NotificationsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "delivered_total",
			Help:      "Notifications pushed through the delivery sink",
		}, []string{"target"}),
		NotificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "failed_total",
			Help:      "Notification delivery attempts that failed",
		}),
		NotificationsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "dead_lettered_total",
			Help:      "Notifications that exhausted their retries",
		}),
		NotificationCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one notification dispatch cycle",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Recurring job executions by job id and status",
		}, []string{"job", "status"}),

		HubConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Currently connected notification hub clients",
		}),
	}
}

// New creates metrics on a private registry. Useful in tests.
func New(namespace string) *Metrics {
	return NewMetrics(prometheus.NewRegistry(), namespace)
}
