// Package recorder fans pipeline observations out to persistence and
// telemetry sinks without blocking the loops that produce them.
package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/lifecycle"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/observability/metrics"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Defaults used when Config fields are zero.
const (
	DefaultQueueSize    = 256
	DefaultCallTimeout  = 5 * time.Second
	DefaultDrainTimeout = 10 * time.Second
)

// Record kinds, also used as metric labels.
const (
	KindVision = "vision"
	KindMotion = "motion"
	KindAudio  = "audio"
	KindEvent  = "event"
)

var (
	// ErrQueueFull is returned when a record is dropped because the queue is full.
	ErrQueueFull = errors.Newf("recorder queue is full").
			Component("recorder").
			Category(errors.CategoryLimit).
			Build()
	// ErrClosed is returned for records submitted after Close.
	ErrClosed = errors.Newf("recorder is closed").
			Component("recorder").
			Category(errors.CategoryState).
			Build()
)

// Sink is a named destination for records.
type Sink struct {
	Name     string
	Recorder status.Recorder
}

// Config configures a Dispatcher.
type Config struct {
	QueueSize    int
	CallTimeout  time.Duration // bound on a single sink write
	DrainTimeout time.Duration // bound on Close waiting for queued records
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

type record struct {
	kind   string
	baby   status.BabyStatus
	motion status.MotionStatus
	audio  status.AudioStatus
	event  status.Event
}

// Stats is a point-in-time view of the dispatcher counters.
type Stats struct {
	Enqueued   uint64 `json:"enqueued"`
	Dropped    uint64 `json:"dropped"`
	Delivered  uint64 `json:"delivered"`
	SinkErrors uint64 `json:"sink_errors"`
	QueueDepth int    `json:"queue_depth"`
}

// Dispatcher queues records and writes them to every sink from a single
// worker goroutine. Submitting never blocks: a full queue drops the record.
type Dispatcher struct {
	cfg     Config
	sinks   []Sink
	queue   chan record
	done    chan struct{}
	metrics *metrics.RecorderMetrics
	log     logger.Logger

	mu     sync.RWMutex
	closed bool

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	delivered  atomic.Uint64
	sinkErrors atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics publishes queue metrics to m.
func WithMetrics(m *metrics.RecorderMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New starts a dispatcher over sinks. Sinks with a nil Recorder are skipped.
func New(cfg Config, sinks []Sink, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:   cfg,
		queue: make(chan record, cfg.QueueSize),
		done:  make(chan struct{}),
		log:   GetLogger(),
	}
	for _, s := range sinks {
		if s.Recorder == nil {
			continue
		}
		d.sinks = append(d.sinks, s)
	}
	for _, opt := range opts {
		opt(d)
	}

	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name)
	}
	d.log.Info("recorder dispatcher started",
		logger.Int("queue_size", cfg.QueueSize),
		logger.Any("sinks", names))

	go d.run()
	return d
}

// RecordVision implements status.Recorder.
func (d *Dispatcher) RecordVision(_ context.Context, baby status.BabyStatus) error {
	return d.enqueue(record{kind: KindVision, baby: baby.Clone()})
}

// RecordMotion implements status.Recorder.
func (d *Dispatcher) RecordMotion(_ context.Context, motion status.MotionStatus) error {
	return d.enqueue(record{kind: KindMotion, motion: motion})
}

// RecordAudio implements status.Recorder.
func (d *Dispatcher) RecordAudio(_ context.Context, audio status.AudioStatus) error {
	return d.enqueue(record{kind: KindAudio, audio: audio})
}

// RecordEvent implements status.Recorder.
func (d *Dispatcher) RecordEvent(_ context.Context, event status.Event) error {
	return d.enqueue(record{kind: KindEvent, event: event})
}

func (d *Dispatcher) enqueue(r record) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- r:
		d.enqueued.Add(1)
		d.metrics.RecordEnqueued(r.kind)
		d.metrics.SetQueueDepth(len(d.queue))
		return nil
	default:
		n := d.dropped.Add(1)
		d.metrics.IncDropped()
		// first drop, then every hundredth
		if n == 1 || n%100 == 0 {
			d.log.Warn("recorder queue full, record dropped",
				logger.String("kind", r.kind),
				logger.Uint64("dropped_total", n))
		}
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for r := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		d.dispatch(r)
	}
}

func (d *Dispatcher) dispatch(r record) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CallTimeout)
		err := write(ctx, s.Recorder, r)
		cancel()
		if err != nil {
			d.sinkErrors.Add(1)
			d.metrics.RecordSinkError(s.Name)
			d.log.Warn("recorder sink write failed",
				logger.String("sink", s.Name),
				logger.String("kind", r.kind),
				logger.Error(err))
			continue
		}
		d.delivered.Add(1)
	}
}

func write(ctx context.Context, rec status.Recorder, r record) error {
	switch r.kind {
	case KindVision:
		return rec.RecordVision(ctx, r.baby)
	case KindMotion:
		return rec.RecordMotion(ctx, r.motion)
	case KindAudio:
		return rec.RecordAudio(ctx, r.audio)
	case KindEvent:
		return rec.RecordEvent(ctx, r.event)
	default:
		return errors.Newf("unknown record kind %q", r.kind).
			Component("recorder").
			Category(errors.CategoryValidation).
			Build()
	}
}

// Close stops accepting records and waits up to the drain timeout for the
// queued ones to be written. It is safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := len(d.queue)
	close(d.queue)
	d.mu.Unlock()

	if !lifecycle.Join(d.done, d.cfg.DrainTimeout) {
		d.log.Warn("recorder did not drain before timeout",
			logger.Int("pending", pending),
			logger.Duration("timeout", d.cfg.DrainTimeout))
		return errors.Newf("recorder drain timed out with %d records pending", pending).
			Component("recorder").
			Category(errors.CategoryTimeout).
			Build()
	}
	d.log.Info("recorder dispatcher stopped", logger.Uint64("dropped_total", d.dropped.Load()))
	return nil
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:   d.enqueued.Load(),
		Dropped:    d.dropped.Load(),
		Delivered:  d.delivered.Load(),
		SinkErrors: d.sinkErrors.Load(),
		QueueDepth: len(d.queue),
	}
}

var _ status.Recorder = (*Dispatcher)(nil)
