// Package metrics provides Prometheus collectors for the monitoring pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Alert outcomes.
const (
	OutcomeSent       = "sent"
	OutcomeSuppressed = "suppressed"
)

// PipelineMetrics covers the vision, motion, audio and alert paths.
type PipelineMetrics struct {
	visionCycleDuration prometheus.Histogram
	motionCycleDuration prometheus.Histogram
	visionErrors        prometheus.Counter
	motionMagnitude     prometheus.Gauge
	audioWindows        prometheus.Counter
	audioDuration       prometheus.Histogram
	cryDetections       prometheus.Counter
	alerts              *prometheus.CounterVec
	framesCaptured      *prometheus.GaugeVec
	framesDropped       *prometheus.GaugeVec
}

// NewPipelineMetrics creates the collectors and registers them on registry.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		visionCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cribwatch_vision_cycle_duration_seconds",
			Help:    "Duration of one vision loop iteration including inference",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		motionCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cribwatch_motion_cycle_duration_seconds",
			Help:    "Duration of one motion loop iteration",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		visionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cribwatch_vision_errors_total",
			Help: "Vision classifications that failed and fell back to the last known result",
		}),
		motionMagnitude: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cribwatch_motion_magnitude",
			Help: "Most recent mean optical flow displacement in pixels",
		}),
		audioWindows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cribwatch_audio_windows_total",
			Help: "Audio analysis windows processed",
		}),
		audioDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cribwatch_audio_analysis_duration_seconds",
			Help:    "Time spent analyzing one audio window",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		cryDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cribwatch_cry_detections_total",
			Help: "Audio windows classified as crying",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cribwatch_alerts_total",
			Help: "Alert decisions by channel and outcome",
		}, []string{"channel", "outcome"}),
		framesCaptured: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cribwatch_camera_frames_captured",
			Help: "Frames captured by the camera since it was opened",
		}, []string{"camera"}),
		framesDropped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cribwatch_camera_frames_dropped",
			Help: "Frames overwritten before any reader consumed them",
		}, []string{"camera"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

// ObserveVisionCycle records one vision iteration.
func (m *PipelineMetrics) ObserveVisionCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.visionCycleDuration.Observe(d.Seconds())
}

// ObserveMotionCycle records one motion iteration and its magnitude.
func (m *PipelineMetrics) ObserveMotionCycle(d time.Duration, magnitude float64) {
	if m == nil {
		return
	}
	m.motionCycleDuration.Observe(d.Seconds())
	m.motionMagnitude.Set(magnitude)
}

// IncVisionErrors counts a failed classification.
func (m *PipelineMetrics) IncVisionErrors() {
	if m == nil {
		return
	}
	m.visionErrors.Inc()
}

// ObserveAudioWindow records one analyzed window.
func (m *PipelineMetrics) ObserveAudioWindow(d time.Duration, crying bool) {
	if m == nil {
		return
	}
	m.audioWindows.Inc()
	m.audioDuration.Observe(d.Seconds())
	if crying {
		m.cryDetections.Inc()
	}
}

// RecordAlert counts a cooldown decision.
func (m *PipelineMetrics) RecordAlert(channel string, sent bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSuppressed
	if sent {
		outcome = OutcomeSent
	}
	m.alerts.WithLabelValues(channel, outcome).Inc()
}

// SetFrameStats publishes the capture counters of one camera.
func (m *PipelineMetrics) SetFrameStats(camera string, captured, dropped uint64) {
	if m == nil {
		return
	}
	m.framesCaptured.WithLabelValues(camera).Set(float64(captured))
	m.framesDropped.WithLabelValues(camera).Set(float64(dropped))
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.visionCycleDuration.Describe(ch)
	m.motionCycleDuration.Describe(ch)
	m.visionErrors.Describe(ch)
	m.motionMagnitude.Describe(ch)
	m.audioWindows.Describe(ch)
	m.audioDuration.Describe(ch)
	m.cryDetections.Describe(ch)
	m.alerts.Describe(ch)
	m.framesCaptured.Describe(ch)
	m.framesDropped.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.visionCycleDuration.Collect(ch)
	m.motionCycleDuration.Collect(ch)
	m.visionErrors.Collect(ch)
	m.motionMagnitude.Collect(ch)
	m.audioWindows.Collect(ch)
	m.audioDuration.Collect(ch)
	m.cryDetections.Collect(ch)
	m.alerts.Collect(ch)
	m.framesCaptured.Collect(ch)
	m.framesDropped.Collect(ch)
}
