// Package pipeline runs the vision and motion loops that fuse camera, audio
// and classifier output into one status snapshot and feed the alert
// scheduler.
package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cribwatch/cribwatch/internal/alert"
	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/lifecycle"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/observability/metrics"
	"github.com/cribwatch/cribwatch/internal/status"
	"github.com/cribwatch/cribwatch/internal/vision"
)

// Defaults used when Config fields are zero.
const (
	DefaultVisionFPS         = 2.0
	DefaultMotionFPS         = 15.0
	DefaultLogInterval       = 5 * time.Second
	DefaultVisionStopTimeout = 5 * time.Second
	DefaultMotionStopTimeout = 2 * time.Second
	DefaultJPEGQuality       = 85
)

// Config configures an Orchestrator.
type Config struct {
	DeviceID          int     // streaming camera
	AIDeviceID        int     // classification camera, equal to DeviceID to share it
	VisionFPS         float64 // vision loop rate in Hz
	MotionFPS         float64 // motion loop rate in Hz
	LogInterval       time.Duration
	VisionStopTimeout time.Duration
	MotionStopTimeout time.Duration
	JPEGQuality       int // quality of images attached to notifications
}

// ConfigFromSettings maps settings onto an orchestrator config.
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		DeviceID:          s.Camera.DeviceID,
		AIDeviceID:        s.AICameraID(),
		VisionFPS:         s.Pipeline.VisionFPS,
		MotionFPS:         s.Pipeline.MotionFPS,
		LogInterval:       s.Pipeline.LogInterval,
		VisionStopTimeout: s.Pipeline.VisionStopTimeout,
		MotionStopTimeout: s.Pipeline.MotionStopTimeout,
		JPEGQuality:       s.WebServer.JPEGQuality,
	}
}

func (c Config) withDefaults() Config {
	if c.VisionFPS <= 0 {
		c.VisionFPS = DefaultVisionFPS
	}
	if c.MotionFPS <= 0 {
		c.MotionFPS = DefaultMotionFPS
	}
	if c.LogInterval <= 0 {
		c.LogInterval = DefaultLogInterval
	}
	if c.VisionStopTimeout <= 0 {
		c.VisionStopTimeout = DefaultVisionStopTimeout
	}
	if c.MotionStopTimeout <= 0 {
		c.MotionStopTimeout = DefaultMotionStopTimeout
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Stream, Motion and Alerts
// are required. A nil Classifier disables the vision modality and a nil
// Audio disables audio.
type Deps struct {
	Stream      Camera
	NewCamera   CameraFactory // opens the classification camera when it differs from Stream
	Motion      MotionEstimator
	Classifier  vision.Classifier
	Audio       AudioSource
	AudioStream audio.Stream
	Alerts      AlertScheduler
	Recorder    status.Recorder
	Metrics     *metrics.PipelineMetrics
}

// Orchestrator owns the vision and motion loops.
type Orchestrator struct {
	cfg       Config
	stream    Camera
	newCamera CameraFactory
	motion    MotionEstimator
	guard     *vision.Guard
	audio     AudioSource
	audioIn   audio.Stream
	alerts    AlertScheduler
	recorder  status.Recorder
	metrics   *metrics.PipelineMetrics
	snapshot  *status.Snapshot
	clock     func() time.Time
	log       logger.Logger

	aiMu sync.Mutex
	ai   Camera // nil when classification uses the streaming camera

	lifeMu     sync.Mutex
	running    bool
	stopped    bool
	cancel     context.CancelFunc
	group      *errgroup.Group
	visionDone chan struct{}
	motionDone chan struct{}
}

// New returns a stopped orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Stream == nil || deps.Motion == nil || deps.Alerts == nil {
		return nil, errors.Newf("pipeline requires a camera, a motion estimator and an alert scheduler").
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		stream:    deps.Stream,
		newCamera: deps.NewCamera,
		motion:    deps.Motion,
		audio:     deps.Audio,
		audioIn:   deps.AudioStream,
		alerts:    deps.Alerts,
		recorder:  deps.Recorder,
		metrics:   deps.Metrics,
		snapshot:  status.NewSnapshot(),
		clock:     time.Now,
		log:       GetLogger(),
	}
	if deps.Classifier != nil {
		o.guard = vision.NewGuard(deps.Classifier)
	}
	return o, nil
}

// Start opens the devices and launches both loops. Devices that fail to open
// leave their modality idle; the loops still run. Start on a running or
// stopped orchestrator is an error.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if o.running || o.stopped {
		return errors.Newf("pipeline already started").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}

	if !o.stream.Start(o.cfg.DeviceID) {
		o.log.Warn("streaming camera unavailable, motion and video disabled until a camera is selected",
			logger.Int("device_id", o.cfg.DeviceID))
	}
	if o.cfg.AIDeviceID != o.cfg.DeviceID {
		o.SetAICamera(o.cfg.AIDeviceID)
	}
	if o.audio != nil && o.audioIn != nil {
		if err := o.audio.Start(ctx, o.audioIn); err != nil {
			o.log.Warn("audio unavailable, continuing without audio analysis", logger.Error(err))
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	visionDone := make(chan struct{})
	motionDone := make(chan struct{})
	g.Go(func() error {
		defer close(visionDone)
		o.visionLoop(gctx)
		return nil
	})
	g.Go(func() error {
		defer close(motionDone)
		o.motionLoop(gctx)
		return nil
	})

	o.cancel = cancel
	o.group = g
	o.visionDone = visionDone
	o.motionDone = motionDone
	o.running = true

	o.log.Info("pipeline started",
		logger.Float64("vision_fps", o.cfg.VisionFPS),
		logger.Float64("motion_fps", o.cfg.MotionFPS),
		logger.Int("camera", o.cfg.DeviceID),
		logger.Int("ai_camera", o.AICameraID()),
		logger.Bool("vision", o.guard != nil),
		logger.Bool("audio", o.audio != nil && o.audio.Running()))
	return nil
}

// Wait blocks until both loops have returned.
func (o *Orchestrator) Wait() error {
	o.lifeMu.Lock()
	g := o.group
	o.lifeMu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop cancels the loops, joins them with bounded timeouts, then releases
// the cameras and audio and closes the recorder. It is safe to call more
// than once.
func (o *Orchestrator) Stop() {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if o.stopped {
		return
	}
	o.stopped = true

	if o.running {
		o.cancel()
		if !lifecycle.Join(o.visionDone, o.cfg.VisionStopTimeout) {
			o.log.Warn("vision loop did not stop in time", logger.Duration("timeout", o.cfg.VisionStopTimeout))
		}
		if !lifecycle.Join(o.motionDone, o.cfg.MotionStopTimeout) {
			o.log.Warn("motion loop did not stop in time", logger.Duration("timeout", o.cfg.MotionStopTimeout))
		}
		o.running = false
	}

	o.stream.Stop()
	o.aiMu.Lock()
	if o.ai != nil {
		o.ai.Stop()
		o.ai = nil
	}
	o.aiMu.Unlock()
	if o.audio != nil {
		o.audio.Stop()
	}
	if c, ok := o.recorder.(io.Closer); ok {
		if err := c.Close(); err != nil {
			o.log.Warn("error closing recorder", logger.Error(err))
		}
	}
	o.log.Info("pipeline stopped")
}

// Status returns a copy of the combined snapshot.
func (o *Orchestrator) Status() status.CombinedStatus {
	return o.snapshot.Get()
}

// Snapshot returns the shared snapshot for readers.
func (o *Orchestrator) Snapshot() *status.Snapshot {
	return o.snapshot
}

// VisionStats returns the classifier outcome counters, or false when vision
// is disabled.
func (o *Orchestrator) VisionStats() (vision.GuardStats, bool) {
	if o.guard == nil {
		return vision.GuardStats{}, false
	}
	return o.guard.Stats(), true
}

// StreamFrame returns the newest frame of the streaming camera.
func (o *Orchestrator) StreamFrame() (camera.Frame, bool) {
	return o.stream.GetFrame()
}

// CameraID returns the streaming camera index.
func (o *Orchestrator) CameraID() int {
	return o.stream.ID()
}

// AICameraID returns the camera used for classification.
func (o *Orchestrator) AICameraID() int {
	o.aiMu.Lock()
	defer o.aiMu.Unlock()
	if o.ai != nil {
		return o.ai.ID()
	}
	return o.stream.ID()
}

// SwitchCamera re-points the streaming camera. The motion reference is
// dropped so the switch is not reported as movement.
func (o *Orchestrator) SwitchCamera(ctx context.Context, id int) bool {
	prev := o.stream.ID()
	// one device cannot be opened twice
	o.aiMu.Lock()
	if o.ai != nil && o.ai.ID() == id {
		o.ai.Stop()
		o.ai = nil
	}
	o.aiMu.Unlock()

	ok := o.stream.SwitchCamera(id)
	o.motion.Reset()
	o.recordEvent(ctx, status.EventCameraSwitch, status.SeverityInfo, map[string]any{
		"role":    "stream",
		"from":    prev,
		"to":      id,
		"success": ok,
	})
	return ok
}

// SetAICamera re-points classification to device id. When id is the
// streaming camera, or the device fails to open, classification uses the
// streaming camera. It reports whether id is now the classification source.
func (o *Orchestrator) SetAICamera(id int) bool {
	o.aiMu.Lock()
	defer o.aiMu.Unlock()

	prev := o.ai
	if id == o.stream.ID() || o.newCamera == nil {
		o.ai = nil
		if prev != nil {
			prev.Stop()
		}
		if id != o.stream.ID() {
			o.log.Warn("no camera factory, classification uses the streaming camera", logger.Int("device_id", id))
			return false
		}
		o.log.Info("classification uses the streaming camera", logger.Int("device_id", id))
		return true
	}
	if prev != nil && prev.ID() == id && prev.Running() {
		return true
	}

	if prev != nil {
		prev.Stop()
	}
	cam := o.newCamera()
	if !cam.Start(id) {
		o.ai = nil
		o.log.Warn("classification camera unavailable, falling back to the streaming camera",
			logger.Int("device_id", id),
			logger.Int("fallback_id", o.stream.ID()))
		return false
	}
	o.ai = cam
	o.log.Info("classification camera selected", logger.Int("device_id", id))
	return true
}

// ForceReport sends the status report now with the latest frame attached.
func (o *Orchestrator) ForceReport(ctx context.Context) bool {
	frame, ok := o.visionFrame()
	var image alert.ImageFunc
	if ok {
		image = o.imageFunc(frame)
	}
	return o.alerts.ForceReport(ctx, image)
}

// visionFrame prefers the classification camera and falls back to the
// streaming camera when it has no frame.
func (o *Orchestrator) visionFrame() (camera.Frame, bool) {
	o.aiMu.Lock()
	ai := o.ai
	o.aiMu.Unlock()
	if ai != nil {
		if f, ok := ai.GetFrame(); ok {
			return f, true
		}
	}
	return o.stream.GetFrame()
}

func (o *Orchestrator) imageFunc(frame camera.Frame) alert.ImageFunc {
	return func() []byte {
		img, err := camera.EncodeJPEG(frame, o.cfg.JPEGQuality)
		if err != nil {
			o.log.Warn("failed to encode notification image", logger.Error(err))
			return nil
		}
		return img
	}
}

func (o *Orchestrator) audioStatus() status.AudioStatus {
	if o.audio == nil {
		return status.AudioStatus{}
	}
	return o.audio.Status()
}

func (o *Orchestrator) recordEvent(ctx context.Context, eventType, severity string, data map[string]any) {
	if o.recorder == nil {
		return
	}
	ev := status.Event{Type: eventType, Severity: severity, Data: data, Timestamp: o.clock()}
	if err := o.recorder.RecordEvent(ctx, ev); err != nil {
		o.log.Debug("event not recorded", logger.String("event_type", eventType), logger.Error(err))
	}
}
