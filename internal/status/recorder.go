package status

import (
	"context"
	"time"
)

// Event types written by the pipeline.
const (
	EventAlert        = "alert"
	EventCry          = "cry"
	EventStatusReport = "status_report"
	EventVisionError  = "vision_error"
	EventCameraSwitch = "camera_switch"
)

// Event severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityDanger  = "danger"
)

// Event is a discrete occurrence worth persisting.
type Event struct {
	Type      string         `json:"event_type"`
	Severity  string         `json:"severity"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Recorder persists or publishes pipeline observations. Implementations must
// be safe for use from a single dispatcher goroutine.
type Recorder interface {
	RecordVision(ctx context.Context, baby BabyStatus) error
	RecordMotion(ctx context.Context, motion MotionStatus) error
	RecordAudio(ctx context.Context, audio AudioStatus) error
	RecordEvent(ctx context.Context, event Event) error
}
