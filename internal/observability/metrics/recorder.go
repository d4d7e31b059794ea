package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RecorderMetrics covers the observation dispatcher and its sinks.
type RecorderMetrics struct {
	enqueued   *prometheus.CounterVec
	dropped    prometheus.Counter
	sinkErrors *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

// NewRecorderMetrics creates the collectors and registers them on registry.
func NewRecorderMetrics(registry prometheus.Registerer) (*RecorderMetrics, error) {
	m := &RecorderMetrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cribwatch_recorder_records_total",
			Help: "Records accepted by the dispatcher by kind",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cribwatch_recorder_dropped_total",
			Help: "Records dropped because the dispatcher queue was full",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cribwatch_recorder_sink_errors_total",
			Help: "Failed writes by sink",
		}, []string{"sink"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cribwatch_recorder_queue_depth",
			Help: "Records waiting in the dispatcher queue",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register recorder metrics: %w", err)
	}
	return m, nil
}

// RecordEnqueued counts an accepted record.
func (m *RecorderMetrics) RecordEnqueued(kind string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(kind).Inc()
}

// IncDropped counts a record dropped on a full queue.
func (m *RecorderMetrics) IncDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// RecordSinkError counts a failed sink write.
func (m *RecorderMetrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// SetQueueDepth publishes the current queue length.
func (m *RecorderMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *RecorderMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.enqueued.Describe(ch)
	m.dropped.Describe(ch)
	m.sinkErrors.Describe(ch)
	m.queueDepth.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *RecorderMetrics) Collect(ch chan<- prometheus.Metric) {
	m.enqueued.Collect(ch)
	m.dropped.Collect(ch)
	m.sinkErrors.Collect(ch)
	m.queueDepth.Collect(ch)
}
