// Package motion estimates frame-to-frame movement with sparse pyramidal
// Lucas-Kanade optical flow over Shi-Tomasi corners. The tracker is
// pluggable; package motion/opencv provides the OpenCV one.
package motion

import (
	"math"
	"sync"

	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Tracking parameters.
const (
	maxCorners     = 100
	qualityLevel   = 0.3
	minDistance    = 7
	blockSize      = 7
	pyramidLevels  = 2
	motionThresh   = 2.0
	moderateThresh = 5.0
	strongThresh   = 10.0
)

// Descriptions reported in MotionStatus.
const (
	DescStrong     = "Strong movement detected"
	DescModerate   = "Moderate movement detected"
	DescSlight     = "Slight movement detected"
	DescNone       = "No significant movement"
	DescNoFeatures = "No trackable features found"
)

// Estimator compares each frame against the previous one. It is safe for
// concurrent use but is normally driven by a single loop.
type Estimator struct {
	mu      sync.Mutex
	prev    *Gray
	tracker Tracker
	log     logger.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithTracker replaces the built-in Lucas-Kanade tracker.
func WithTracker(t Tracker) Option {
	return func(e *Estimator) {
		if t != nil {
			e.tracker = t
		}
	}
}

// NewEstimator returns an estimator with no reference frame.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{tracker: lkTracker{}, log: logger.Global().Module("motion")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reset drops the reference frame.
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.prev = nil
	e.mu.Unlock()
}

// Estimate returns the motion between the previous frame and f, then makes f
// the reference. The first frame, and any frame whose size differs from the
// reference, yields zero motion.
func (e *Estimator) Estimate(f camera.Frame) (result status.MotionStatus) {
	if err := f.Validate(); err != nil {
		e.log.Debug("skipping invalid frame", logger.Error(err))
		return status.MotionStatus{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := &Gray{Pix: f.Gray(), Width: f.Width, Height: f.Height}
	prev := e.prev
	e.prev = cur
	if prev == nil || prev.Width != cur.Width || prev.Height != cur.Height {
		return status.MotionStatus{}
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("motion estimation panicked", logger.Any("panic", r))
			result = status.MotionStatus{}
		}
	}()

	displacements, features, err := e.tracker.Track(*prev, *cur)
	if err != nil {
		e.log.Warn("motion tracking failed", logger.Error(err))
		return status.MotionStatus{}
	}
	if features == 0 {
		return status.MotionStatus{Description: DescNoFeatures}
	}
	if len(displacements) == 0 {
		return status.MotionStatus{}
	}
	var sum float64
	for _, d := range displacements {
		sum += d
	}
	return Classify(sum / float64(len(displacements)))
}

// Classify maps a mean displacement in pixels to a MotionStatus.
func Classify(magnitude float64) status.MotionStatus {
	var desc string
	switch {
	case magnitude > strongThresh:
		desc = DescStrong
	case magnitude > moderateThresh:
		desc = DescModerate
	case magnitude > motionThresh:
		desc = DescSlight
	default:
		desc = DescNone
	}
	return status.MotionStatus{
		HasMotion:   magnitude > motionThresh,
		Magnitude:   math.Round(magnitude*100) / 100,
		Description: desc,
	}
}
