package camera

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/lifecycle"
	"github.com/cribwatch/cribwatch/internal/logger"
)

const (
	// DefaultWidth and DefaultHeight are the requested capture resolution.
	DefaultWidth  = 640
	DefaultHeight = 480
	// DefaultFPS is the requested capture rate.
	DefaultFPS = 30
	// DefaultStopTimeout bounds the join of the capture goroutine.
	DefaultStopTimeout = 2 * time.Second

	readRetryDelay = 10 * time.Millisecond
)

// Device is an open capture device. Read blocks until a frame is available.
// Read and Close are never called concurrently by Source: the capture
// goroutine closes the device when it exits.
type Device interface {
	Read() (Frame, error)
	Close() error
}

// Config is passed to an Opener.
type Config struct {
	Width       int
	Height      int
	FPS         int
	StopTimeout time.Duration
}

// Opener opens the device with the given index.
type Opener func(id int, cfg Config) (Device, error)

// Source owns one device and a capture goroutine that keeps only the newest
// frame. Consumers that fall behind see frames dropped, never queued.
type Source struct {
	opener Opener
	cfg    Config
	log    logger.Logger

	// lifecycle state
	mu      sync.Mutex
	id      int
	running bool
	stop    chan struct{}
	done    chan struct{}

	// published frame; gen identifies the capture loop allowed to publish
	frameMu  sync.Mutex
	frame    Frame
	hasFrame bool
	consumed bool
	gen      uint64

	captured atomic.Uint64
	dropped  atomic.Uint64
}

// NewSource returns a stopped source. Zero fields in cfg take defaults.
func NewSource(opener Opener, cfg Config) *Source {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Source{
		opener: opener,
		cfg:    cfg,
		log:    GetLogger(),
		id:     -1,
	}
}

// Start opens device id and begins capturing. It returns false when the
// device cannot be opened; callers continue without this source.
func (s *Source) Start(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(id)
}

func (s *Source) startLocked(id int) bool {
	if s.running {
		if s.id == id {
			return true
		}
		s.stopLocked()
	}

	dev, err := s.opener(id, s.cfg)
	if err != nil {
		enhanced := errors.New(err).
			Component("camera").
			Category(errors.CategoryCamera).
			Context("device_id", id).
			Build()
		s.log.Warn("cannot open camera",
			logger.Int("device_id", id),
			logger.Error(enhanced))
		return false
	}

	s.frameMu.Lock()
	s.gen++
	gen := s.gen
	s.frameMu.Unlock()

	s.id = id
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.captureLoop(dev, id, gen, s.stop, s.done)

	s.log.Info("camera started",
		logger.Int("device_id", id),
		logger.Int("width", s.cfg.Width),
		logger.Int("height", s.cfg.Height),
		logger.Int("fps", s.cfg.FPS))
	return true
}

func (s *Source) captureLoop(dev Device, id int, gen uint64, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if err := dev.Close(); err != nil {
			s.log.Warn("error closing camera", logger.Int("device_id", id), logger.Error(err))
		}
	}()
	for {
		select {
		case <-stop:
			return
		default:
		}

		f, err := dev.Read()
		if err != nil || f.Empty() {
			select {
			case <-stop:
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		if f.Captured.IsZero() {
			f.Captured = time.Now()
		}
		s.publish(f, gen)
	}
}

// publish stores f unless the loop that read it has been stopped.
func (s *Source) publish(f Frame, gen uint64) {
	s.frameMu.Lock()
	if gen != s.gen {
		s.frameMu.Unlock()
		return
	}
	if s.hasFrame && !s.consumed {
		s.dropped.Add(1)
	}
	s.frame = f
	s.hasFrame = true
	s.consumed = false
	s.frameMu.Unlock()
	s.captured.Add(1)
}

// GetFrame returns a copy of the newest frame, or false before the first
// frame has been captured.
func (s *Source) GetFrame() (Frame, bool) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if !s.hasFrame {
		return Frame{}, false
	}
	s.consumed = true
	return s.frame.Clone(), true
}

// SwitchCamera stops the current device, clears the published frame and
// starts device id, all under one lock.
func (s *Source) SwitchCamera(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.clearFrame()
	s.log.Info("switching camera", logger.Int("device_id", id))
	return s.startLocked(id)
}

// Stop ends capture and closes the device. It is safe to call repeatedly.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// stopLocked signals the capture loop and waits for it. A loop still blocked
// in Read after the timeout closes its device once Read returns, and any
// frame it reads is discarded.
func (s *Source) stopLocked() {
	if !s.running {
		return
	}
	close(s.stop)

	s.frameMu.Lock()
	s.gen++
	s.frameMu.Unlock()

	if !lifecycle.Join(s.done, s.cfg.StopTimeout) {
		s.log.Warn("camera capture loop did not stop in time, device closes when the pending read returns",
			logger.Int("device_id", s.id),
			logger.Duration("timeout", s.cfg.StopTimeout))
	}
	s.running = false
	s.log.Info("camera stopped", logger.Int("device_id", s.id))
}

func (s *Source) clearFrame() {
	s.frameMu.Lock()
	s.frame = Frame{}
	s.hasFrame = false
	s.consumed = false
	s.frameMu.Unlock()
}

// ID returns the active device index, or -1 when never started.
func (s *Source) ID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Running reports whether a capture goroutine is active.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Resolution returns the size of the newest frame, or the configured size.
func (s *Source) Resolution() (width, height int) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if s.hasFrame {
		return s.frame.Width, s.frame.Height
	}
	return s.cfg.Width, s.cfg.Height
}

// Stats returns the number of frames captured and frames overwritten unread.
func (s *Source) Stats() (captured, dropped uint64) {
	return s.captured.Load(), s.dropped.Load()
}
