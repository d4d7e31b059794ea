package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestPipelineMetrics(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	m.ObserveVisionCycle(300 * time.Millisecond)
	m.ObserveMotionCycle(5*time.Millisecond, 3.25)
	m.IncVisionErrors()
	m.ObserveAudioWindow(10*time.Millisecond, true)
	m.ObserveAudioWindow(10*time.Millisecond, false)
	m.RecordAlert("warning", true)
	m.RecordAlert("warning", false)
	m.RecordAlert("warning", false)
	m.SetFrameStats("0", 120, 7)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.visionErrors), 1e-9)
	assert.InDelta(t, 3.25, testutil.ToFloat64(m.motionMagnitude), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.audioWindows), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.cryDetections), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.alerts.WithLabelValues("warning", OutcomeSuppressed)), 1e-9)
	assert.InDelta(t, 7.0, testutil.ToFloat64(m.framesDropped.WithLabelValues("0")), 1e-9)

	family := gather(t, registry, "cribwatch_vision_cycle_duration_seconds")
	require.Len(t, family.GetMetric(), 1)
	h := family.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), h.GetSampleCount())
	assert.InDelta(t, 0.3, h.GetSampleSum(), 1e-9)
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	t.Parallel()
	var m *PipelineMetrics
	assert.NotPanics(t, func() {
		m.ObserveVisionCycle(time.Second)
		m.RecordAlert("cry", true)
		m.SetFrameStats("1", 1, 1)
	})
	var n *NotificationMetrics
	assert.NotPanics(t, func() { n.RecordDelivery("discord", "alert", StatusSuccess, time.Second) })
	var r *RecorderMetrics
	assert.NotPanics(t, func() { r.IncDropped() })
}

func TestNotificationMetrics(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := NewNotificationMetrics(registry)
	require.NoError(t, err)

	m.RecordDelivery("discord", "alert", StatusSuccess, 200*time.Millisecond)
	m.RecordDelivery("discord", "alert", StatusRejected, 0)
	m.UpdateCircuitBreakerState("discord", 2)
	m.IncRateLimited()

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("discord", "alert", StatusSuccess)), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("discord")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.rateLimited), 1e-9)

	family := gather(t, registry, "cribwatch_notification_delivery_duration_seconds")
	assert.Equal(t, uint64(1), family.GetMetric()[0].GetHistogram().GetSampleCount(), "rejected attempts are not timed")
}

func TestRecorderMetrics(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := NewRecorderMetrics(registry)
	require.NoError(t, err)

	m.RecordEnqueued("vision")
	m.IncDropped()
	m.RecordSinkError("mqtt")
	m.SetQueueDepth(12)

	family := gather(t, registry, "cribwatch_recorder_queue_depth")
	assert.Equal(t, dto.MetricType_GAUGE, family.GetType())
	assert.InDelta(t, 12.0, family.GetMetric()[0].GetGauge().GetValue(), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.sinkErrors.WithLabelValues("mqtt")), 1e-9)
}

func TestDoubleRegistrationFails(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	_, err := NewRecorderMetrics(registry)
	require.NoError(t, err)
	_, err = NewRecorderMetrics(registry)
	require.Error(t, err)
}
