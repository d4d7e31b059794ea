package pipeline

import (
	"context"

	"github.com/cribwatch/cribwatch/internal/alert"
	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Camera is a frame source. *camera.Source implements it.
type Camera interface {
	Start(id int) bool
	GetFrame() (camera.Frame, bool)
	SwitchCamera(id int) bool
	Stop()
	ID() int
	Running() bool
	Stats() (captured, dropped uint64)
}

// CameraFactory returns a new stopped camera.
type CameraFactory func() Camera

// MotionEstimator turns consecutive frames into a motion status.
// *motion.Estimator implements it.
type MotionEstimator interface {
	Estimate(f camera.Frame) status.MotionStatus
	Reset()
}

// AudioSource publishes the latest audio analysis. *audio.Analyzer
// implements it.
type AudioSource interface {
	Start(ctx context.Context, stream audio.Stream) error
	Status() status.AudioStatus
	Running() bool
	Stop()
}

// AlertScheduler receives every classification and audio status.
// *alert.Scheduler implements it.
type AlertScheduler interface {
	Observe(ctx context.Context, baby status.BabyStatus, motion status.MotionStatus, image alert.ImageFunc)
	ObserveAudio(ctx context.Context, audio status.AudioStatus, image alert.ImageFunc)
	Tick(ctx context.Context, image alert.ImageFunc) bool
	ForceReport(ctx context.Context, image alert.ImageFunc) bool
}
