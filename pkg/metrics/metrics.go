// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookDeliveries counts provider callbacks by outcome
	// (enqueued, ignored, status, enqueue_failed, invalid).
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Provider webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	// JobsTotal counts settled jobs by outcome (ack, retry, dead_letter, rejected).
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Queue jobs settled by outcome",
		},
		[]string{"outcome"},
	)

	// JobDuration tracks processing time of one job.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job processing duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"outcome"},
	)

	// JobPanics counts recovered worker panics.
	JobPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "job_panics_total",
			Help: "Recovered panics in queue workers",
		},
	)

	// DeadLetters counts jobs moved to the dead-letter stream.
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Jobs moved to dead-letter",
		},
		[]string{"reason"},
	)

	// OutboundSends counts provider send attempts by kind and outcome.
	OutboundSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_sends_total",
			Help: "Outbound provider sends by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// BotReplies counts canned replies produced by the keyword rule.
	BotReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_replies_total",
			Help: "Automated keyword replies",
		},
	)

	// MessagesTotal tracks persisted messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"direction"},
	)

	// RealtimeSessionsActive tracks connected realtime sessions.
	RealtimeSessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_sessions_active",
			Help: "Number of active realtime sessions",
		},
		[]string{"transport"},
	)

	// Broadcasts counts realtime events by delivery result.
	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Realtime events by result",
		},
		[]string{"result"},
	)

	// TenantNotifications counts contact status webhooks by outcome.
	TenantNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_notifications_total",
			Help: "Tenant webhook notifications by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordJob records the settlement of one job.
func RecordJob(outcome string, duration float64) {
	JobsTotal.WithLabelValues(outcome).Inc()
	JobDuration.WithLabelValues(outcome).Observe(duration)
}

// SessionOpened increments the active session gauge for transport.
func SessionOpened(transport string) {
	RealtimeSessionsActive.WithLabelValues(transport).Inc()
}

// SessionClosed decrements the active session gauge for transport.
func SessionClosed(transport string) {
	RealtimeSessionsActive.WithLabelValues(transport).Dec()
}
