package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// WebhookCallbackTotal counts inbound payment callbacks by gateway and terminal result.
	WebhookCallbackTotal *prometheus.CounterVec
	// WebhookCallbackLatency records end-to-end callback processing latency in milliseconds.
	WebhookCallbackLatency *prometheus.HistogramVec
	// OrderTransitionTotal counts state machine decisions by edge and outcome.
	OrderTransitionTotal *prometheus.CounterVec
	// CommitRetryTotal counts transient-failure retries of the transition commit.
	CommitRetryTotal *prometheus.CounterVec
	// ActionDispatchTotal counts triggered-action executions by action and result.
	ActionDispatchTotal *prometheus.CounterVec
	// QueueDLQTotal counts tasks moved to the dead-letter queue.
	QueueDLQTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		WebhookCallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_callback_total",
			Help:      "Count of processed payment callbacks by gateway and result.",
		}, []string{"gateway", "result"})
		WebhookCallbackLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_callback_duration_ms",
			Help:      "Latency of callback processing in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"gateway", "result"})
		OrderTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transition_total",
			Help:      "Count of order status transitions by edge and outcome.",
		}, []string{"from", "to", "result"})
		CommitRetryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_retry_total",
			Help:      "Count of transient failures that triggered a commit retry.",
		}, []string{"gateway"})
		ActionDispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_dispatch_total",
			Help:      "Count of triggered-action executions by action and result.",
		}, []string{"action", "result"})
		QueueDLQTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dlq_total",
			Help:      "Number of tasks moved to the dead-letter queue.",
		}, []string{"kind"})

		registerCounterVec(reg, &WebhookCallbackTotal)
		registerHistogramVec(reg, &WebhookCallbackLatency)
		registerCounterVec(reg, &OrderTransitionTotal)
		registerCounterVec(reg, &CommitRetryTotal)
		registerCounterVec(reg, &ActionDispatchTotal)
		registerCounterVec(reg, &QueueDLQTotal)
	})
}

func registerCounterVec(reg prometheus.Registerer, vec **prometheus.CounterVec) {
	if err := reg.Register(*vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				*vec = existing
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

func registerHistogramVec(reg prometheus.Registerer, vec **prometheus.HistogramVec) {
	if err := reg.Register(*vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				*vec = existing
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
