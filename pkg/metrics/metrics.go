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

	// MessagesAppended tracks messages durably appended to the log.
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_appended_total",
			Help: "Total messages appended to conversation logs",
		},
		[]string{"kind"},
	)

	// FanoutPublished tracks fan-out events published to the side channel.
	FanoutPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_published_total",
			Help: "Fan-out events published, by outcome",
		},
		[]string{"event", "outcome"},
	)

	// UnreadQueries tracks unread-count computations.
	UnreadQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_unread_queries_total",
			Help: "Unread-count derivations from the message log",
		},
	)

	// GroupOperations tracks group administration calls.
	GroupOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_group_operations_total",
			Help: "Group administration operations, by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// ConversationsActive tracks live conversations by kind.
	ConversationsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_conversations_active",
			Help: "Live conversations",
		},
		[]string{"kind"},
	)

	// SSESubscribersActive tracks active SSE event subscribers.
	SSESubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_subscribers_active",
			Help: "Number of active SSE event subscribers",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGroupOperation records a group administration call and its outcome.
func RecordGroupOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	GroupOperations.WithLabelValues(operation, outcome).Inc()
}

// IncrementSSESubscribers increments the active SSE subscriber count.
func IncrementSSESubscribers() {
	SSESubscribersActive.Inc()
}

// DecrementSSESubscribers decrements the active SSE subscriber count.
func DecrementSSESubscribers() {
	SSESubscribersActive.Dec()
}
