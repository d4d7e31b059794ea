package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery statuses.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusRateLimited = "rate_limited"
	StatusRejected    = "circuit_open"
)

// NotificationMetrics covers notification providers.
type NotificationMetrics struct {
	deliveries      *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	rateLimited     prometheus.Counter
}

// NewNotificationMetrics creates the collectors and registers them on registry.
func NewNotificationMetrics(registry prometheus.Registerer) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cribwatch_notification_deliveries_total",
			Help: "Notification delivery attempts by provider, channel and status",
		}, []string{"provider", "channel", "status"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cribwatch_notification_delivery_duration_seconds",
			Help:    "Time taken for notification delivery by provider",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cribwatch_notification_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		}, []string{"provider"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cribwatch_notification_rate_limited_total",
			Help: "Notifications dropped by the rate limiter",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// RecordDelivery records one provider attempt.
func (m *NotificationMetrics) RecordDelivery(provider, channel, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(provider, channel, status).Inc()
	if status == StatusSuccess || status == StatusError {
		m.deliveryLatency.WithLabelValues(provider).Observe(d.Seconds())
	}
}

// UpdateCircuitBreakerState publishes a breaker transition.
func (m *NotificationMetrics) UpdateCircuitBreakerState(provider string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(float64(state))
}

// IncRateLimited counts a message dropped by the limiter.
func (m *NotificationMetrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.deliveries.Describe(ch)
	m.deliveryLatency.Describe(ch)
	m.breakerState.Describe(ch)
	m.rateLimited.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.deliveries.Collect(ch)
	m.deliveryLatency.Collect(ch)
	m.breakerState.Collect(ch)
	m.rateLimited.Collect(ch)
}
