// Package audio captures microphone audio, classifies fixed windows for
// crying and breathing, and relays raw PCM for live listening.
package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/lifecycle"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Defaults used when Config fields are zero.
const (
	DefaultSampleRate       = 16000
	DefaultChunkDuration    = 4 * time.Second
	DefaultAnalysisInterval = 100 * time.Millisecond
	DefaultRelayInterval    = 50 * time.Millisecond
	DefaultRelaySeconds     = 2
	DefaultStopTimeout      = 2 * time.Second
)

// Stream delivers mono float32 blocks to onSamples from its own goroutine
// until Stop is called.
type Stream interface {
	Start(ctx context.Context, onSamples func([]float32)) error
	Stop() error
}

// Config configures an Analyzer.
type Config struct {
	SampleRate         int
	ChunkDuration      time.Duration
	AnalysisInterval   time.Duration
	RelayEnabled       bool
	RelayInterval      time.Duration
	RelayBufferSeconds int
	StopTimeout        time.Duration
}

// ConfigFromSettings maps audio settings onto an analyzer config.
func ConfigFromSettings(s *conf.AudioSettings) Config {
	return Config{
		SampleRate:         s.SampleRate,
		ChunkDuration:      s.ChunkDuration,
		AnalysisInterval:   s.AnalysisInterval,
		RelayEnabled:       s.Relay.Enabled,
		RelayInterval:      s.Relay.Interval,
		RelayBufferSeconds: s.Relay.BufferSeconds,
		StopTimeout:        s.StopTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = DefaultChunkDuration
	}
	if c.AnalysisInterval <= 0 {
		c.AnalysisInterval = DefaultAnalysisInterval
	}
	if c.RelayInterval <= 0 {
		c.RelayInterval = DefaultRelayInterval
	}
	if c.RelayBufferSeconds <= 0 {
		c.RelayBufferSeconds = DefaultRelaySeconds
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
}

// WindowSize is the number of samples in one analysis window.
func (c Config) WindowSize() int {
	return int(float64(c.SampleRate) * c.ChunkDuration.Seconds())
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRelaySink forwards relayed PCM to sink.
func WithRelaySink(sink RelaySink) Option {
	return func(a *Analyzer) { a.sink = sink }
}

// WithWindowObserver is called after every analyzed window with the result
// and the time the analysis took.
func WithWindowObserver(fn func(status.AudioStatus, time.Duration)) Option {
	return func(a *Analyzer) { a.observer = fn }
}

// WithAnalyzeFunc replaces the window classifier.
func WithAnalyzeFunc(fn func([]float32, int) status.AudioStatus) Option {
	return func(a *Analyzer) { a.analyze = fn }
}

// Analyzer owns one capture stream and the analysis and relay loops fed by
// it. The stream callback only appends; it never waits on analysis.
type Analyzer struct {
	cfg      Config
	log      logger.Logger
	observer func(status.AudioStatus, time.Duration)
	analyze  func([]float32, int) status.AudioStatus

	buffer sampleBuffer
	relay  *relayRing

	sinkMu sync.Mutex
	sink   RelaySink

	statusMu sync.RWMutex
	current  status.AudioStatus

	lifeMu       sync.Mutex
	stream       Stream
	cancel       context.CancelFunc
	analysisDone chan struct{}
	relayDone    chan struct{}

	windows      atomic.Uint64
	relayDropped atomic.Uint64
}

// NewAnalyzer returns a stopped analyzer.
func NewAnalyzer(cfg Config, opts ...Option) *Analyzer {
	cfg.applyDefaults()
	a := &Analyzer{
		cfg:     cfg,
		log:     GetLogger(),
		analyze: AnalyzeWindow,
	}
	if cfg.RelayEnabled {
		a.relay = newRelayRing(cfg.SampleRate * 2 * cfg.RelayBufferSeconds)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetRelaySink replaces the relay destination. A nil sink discards relayed
// audio.
func (a *Analyzer) SetRelaySink(sink RelaySink) {
	a.sinkMu.Lock()
	a.sink = sink
	a.sinkMu.Unlock()
}

func (a *Analyzer) relaySink() RelaySink {
	a.sinkMu.Lock()
	defer a.sinkMu.Unlock()
	return a.sink
}

// Start begins capture on stream and launches the analysis and relay loops.
// A running analyzer is stopped first.
func (a *Analyzer) Start(ctx context.Context, stream Stream) error {
	a.Stop()

	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	a.buffer.reset()
	if a.relay != nil {
		a.relay.reset()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	if err := stream.Start(loopCtx, a.onSamples); err != nil {
		cancel()
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioSource).
			Context("operation", "start_stream").
			Build()
	}

	a.stream = stream
	a.cancel = cancel
	a.analysisDone = make(chan struct{})
	go a.analysisLoop(loopCtx, a.analysisDone)
	if a.relay != nil {
		a.relayDone = make(chan struct{})
		go a.relayLoop(loopCtx, a.relayDone)
	}

	a.log.Info("audio analyzer started",
		logger.Int("sample_rate", a.cfg.SampleRate),
		logger.Duration("chunk", a.cfg.ChunkDuration),
		logger.Bool("relay", a.relay != nil))
	return nil
}

// onSamples is the stream callback.
func (a *Analyzer) onSamples(samples []float32) {
	if len(samples) == 0 {
		return
	}
	a.buffer.append(samples)
	if a.relay != nil && !a.relay.write(FloatToPCM16(samples)) {
		a.relayDropped.Add(1)
	}
}

func (a *Analyzer) analysisLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.cfg.AnalysisInterval)
	defer ticker.Stop()

	windowSize := a.cfg.WindowSize()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			window, ok := a.buffer.take(windowSize)
			if !ok {
				break
			}
			a.processWindow(window)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// processWindow analyzes one window. A panic keeps the previous status.
func (a *Analyzer) processWindow(window []float32) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("audio analysis panicked, keeping previous status", logger.Any("panic", r))
		}
	}()

	start := time.Now()
	result := a.analyze(window, a.cfg.SampleRate)
	result.Timestamp = time.Now()
	elapsed := time.Since(start)

	a.statusMu.Lock()
	a.current = result
	a.statusMu.Unlock()
	a.windows.Add(1)

	a.log.Debug("audio window analyzed",
		logger.Float64("rms", result.RMSLevel),
		logger.Float64("centroid", result.SpectralCentroid),
		logger.Bool("crying", result.IsCrying),
		logger.Bool("breathing", result.BreathingDetected),
		logger.Duration("elapsed", elapsed))

	if a.observer != nil {
		a.observer(result, elapsed)
	}
}

func (a *Analyzer) relayLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.cfg.RelayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pcm := a.relay.drain()
		if len(pcm) == 0 {
			continue
		}
		sink := a.relaySink()
		if sink == nil {
			continue
		}
		if err := sink.WriteAudio(pcm); err != nil {
			a.log.Debug("audio relay write failed", logger.Error(err))
		}
	}
}

// Status returns the most recently published window result.
func (a *Analyzer) Status() status.AudioStatus {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.current
}

// Running reports whether a stream is attached.
func (a *Analyzer) Running() bool {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	return a.stream != nil
}

// Stats returns the number of analyzed windows and dropped relay blocks.
func (a *Analyzer) Stats() (windows, relayDropped uint64) {
	return a.windows.Load(), a.relayDropped.Load()
}

// Buffered returns the number of samples waiting for analysis.
func (a *Analyzer) Buffered() int {
	return a.buffer.len()
}

// Stop halts the stream and joins both loops with bounded timeouts. It is
// safe to call on a stopped analyzer.
func (a *Analyzer) Stop() {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	if a.stream == nil {
		return
	}
	if err := a.stream.Stop(); err != nil {
		a.log.Warn("error stopping audio stream", logger.Error(err))
	}
	a.cancel()

	if !lifecycle.Join(a.analysisDone, a.cfg.StopTimeout) {
		a.log.Warn("audio analysis loop did not stop in time", logger.Duration("timeout", a.cfg.StopTimeout))
	}
	if !lifecycle.Join(a.relayDone, a.cfg.StopTimeout) {
		a.log.Warn("audio relay loop did not stop in time", logger.Duration("timeout", a.cfg.StopTimeout))
	}

	a.stream = nil
	a.cancel = nil
	a.analysisDone = nil
	a.relayDone = nil
	a.log.Info("audio analyzer stopped")
}

// DeviceInfo describes a capture device for listings.
type DeviceInfo struct {
	Index     int    `json:"id"`
	Name      string `json:"name"`
	DeviceID  string `json:"device_id,omitempty"`
	IsDefault bool   `json:"is_default"`
}
