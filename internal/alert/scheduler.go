package alert

import (
	"context"
	"sync"
	"time"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Alert titles.
const (
	TitleDanger  = "DANGER: Immediate Attention Required"
	TitleWarning = "Warning: Check Baby"
	TitleCrying  = "Baby Crying Detected"
)

// Channel names.
const (
	ChannelWarning = "warning"
	ChannelCry     = "cry"
	ChannelReport  = "report"
)

// Defaults used when Config fields are zero.
const (
	DefaultWarningCooldown = 30 * time.Second
	DefaultCryCooldown     = 60 * time.Second
	DefaultReportInterval  = 300 * time.Second
)

// Notifier delivers alerts and status reports. Delivery failures are
// reported as false, never as panics or errors.
type Notifier interface {
	SendAlert(ctx context.Context, title, description string, level status.RiskLevel, image []byte) bool
	SendStatusReport(ctx context.Context, summary string, image []byte) bool
}

// ImageFunc lazily produces the JPEG attached to a notification. It is only
// called when a notification is actually sent. It may be nil or return nil.
type ImageFunc func() []byte

func (f ImageFunc) bytes() []byte {
	if f == nil {
		return nil
	}
	return f()
}

// TimeSource is an interface for getting the current time.
type TimeSource interface {
	Now() time.Time
}

type realTimeSource struct{}

func (realTimeSource) Now() time.Time { return time.Now() }

// Config holds the scheduler cooldowns.
type Config struct {
	WarningCooldown time.Duration
	CryCooldown     time.Duration
	ReportInterval  time.Duration
}

// ConfigFromSettings maps alert settings onto a scheduler config.
func ConfigFromSettings(s *conf.AlertSettings) Config {
	return Config{
		WarningCooldown: s.WarningCooldown,
		CryCooldown:     s.CryCooldown,
		ReportInterval:  s.StatusReportInterval,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeSource replaces the wall clock.
func WithTimeSource(ts TimeSource) Option {
	return func(s *Scheduler) { s.clock = ts }
}

// WithRecorder records an event for every notification sent.
func WithRecorder(rec status.Recorder) Option {
	return func(s *Scheduler) { s.recorder = rec }
}

// WithOutcomeHook is called for every cooldown decision with the channel name
// and whether the notification was sent.
func WithOutcomeHook(fn func(channel string, fired bool)) Option {
	return func(s *Scheduler) { s.outcome = fn }
}

// Scheduler applies per-channel cooldowns to observations and sends a
// summary of the collected history on a fixed interval.
type Scheduler struct {
	notifier Notifier
	clock    TimeSource
	recorder status.Recorder
	outcome  func(string, bool)
	log      logger.Logger
	interval time.Duration

	warning *Channel
	cry     *Channel

	mu         sync.Mutex
	history    []status.Observation
	lastReport time.Time
}

// NewScheduler returns a scheduler whose report interval starts now.
func NewScheduler(cfg Config, notifier Notifier, opts ...Option) *Scheduler {
	if cfg.WarningCooldown <= 0 {
		cfg.WarningCooldown = DefaultWarningCooldown
	}
	if cfg.CryCooldown <= 0 {
		cfg.CryCooldown = DefaultCryCooldown
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	s := &Scheduler{
		notifier: notifier,
		clock:    realTimeSource{},
		log:      GetLogger(),
		interval: cfg.ReportInterval,
		warning:  NewChannel(ChannelWarning, cfg.WarningCooldown),
		cry:      NewChannel(ChannelCry, cfg.CryCooldown),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastReport = s.clock.Now()
	return s
}

// Observe appends one observation to the history, raises a danger or warning
// alert when the warning channel is idle, and sends the status report once
// the interval has elapsed.
func (s *Scheduler) Observe(ctx context.Context, baby status.BabyStatus, motion status.MotionStatus, image ImageFunc) {
	now := s.clock.Now()

	s.mu.Lock()
	s.history = append(s.history, status.Observation{Baby: baby, Motion: motion, Timestamp: now})
	s.mu.Unlock()

	switch baby.RiskLevel {
	case status.RiskDanger:
		s.fire(ctx, s.warning, now, TitleDanger, DangerReasons(baby), status.RiskDanger, image)
	case status.RiskWarning:
		s.fire(ctx, s.warning, now, TitleWarning, baby.Description, status.RiskWarning, image)
	}

	if history, due := s.claimReport(now); due {
		s.sendReport(ctx, history, image)
	}
}

// ObserveAudio raises the crying alert when audio reports crying and the cry
// channel is idle.
func (s *Scheduler) ObserveAudio(ctx context.Context, audio status.AudioStatus, image ImageFunc) {
	if !audio.IsCrying {
		return
	}
	s.fire(ctx, s.cry, s.clock.Now(), TitleCrying, audio.Description, status.RiskWarning, image)
}

// Tick sends the status report once the interval has elapsed without adding
// an observation. It keeps reports flowing while classification is down.
func (s *Scheduler) Tick(ctx context.Context, image ImageFunc) bool {
	history, due := s.claimReport(s.clock.Now())
	if !due {
		return false
	}
	return s.sendReport(ctx, history, image)
}

// ForceReport drains the history and sends the report immediately. The
// interval timer restarts from now.
func (s *Scheduler) ForceReport(ctx context.Context, image ImageFunc) bool {
	now := s.clock.Now()
	s.mu.Lock()
	history := s.drainLocked()
	s.lastReport = now
	s.mu.Unlock()
	return s.sendReport(ctx, history, image)
}

// HistoryLen returns the number of observations waiting for the next report.
func (s *Scheduler) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// WarningChannel exposes the danger and warning channel.
func (s *Scheduler) WarningChannel() *Channel { return s.warning }

// CryChannel exposes the crying channel.
func (s *Scheduler) CryChannel() *Channel { return s.cry }

// claimReport drains the history when the report is due. Only one caller
// can claim a given interval.
func (s *Scheduler) claimReport(now time.Time) ([]status.Observation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastReport) < s.interval {
		return nil, false
	}
	s.lastReport = now
	return s.drainLocked(), true
}

func (s *Scheduler) drainLocked() []status.Observation {
	history := s.history
	s.history = nil
	return history
}

func (s *Scheduler) fire(ctx context.Context, ch *Channel, now time.Time, title, desc string, level status.RiskLevel, image ImageFunc) {
	fired := ch.TryFire(now)
	if s.outcome != nil {
		s.outcome(ch.Name(), fired)
	}
	if !fired {
		s.log.Debug("alert suppressed by cooldown",
			logger.String("channel", ch.Name()),
			logger.String("level", string(level)),
			logger.Duration("cooldown", ch.Cooldown()))
		return
	}

	ok := s.notifier.SendAlert(ctx, title, desc, level, image.bytes())
	s.log.Info("alert sent",
		logger.String("channel", ch.Name()),
		logger.String("title", title),
		logger.String("level", string(level)),
		logger.Bool("delivered", ok))

	eventType := status.EventAlert
	if ch == s.cry {
		eventType = status.EventCry
	}
	s.record(ctx, status.Event{
		Type:     eventType,
		Severity: string(level),
		Data: map[string]any{
			"title":       title,
			"description": desc,
			"delivered":   ok,
		},
		Timestamp: now,
	})
}

func (s *Scheduler) sendReport(ctx context.Context, history []status.Observation, image ImageFunc) bool {
	summary := Summarize(history, s.interval)
	ok := s.notifier.SendStatusReport(ctx, summary, image.bytes())
	if s.outcome != nil {
		s.outcome(ChannelReport, true)
	}
	s.log.Info("status report sent",
		logger.Int("samples", len(history)),
		logger.Bool("delivered", ok))
	s.record(ctx, status.Event{
		Type:     status.EventStatusReport,
		Severity: status.SeverityInfo,
		Data: map[string]any{
			"samples":   len(history),
			"delivered": ok,
		},
		Timestamp: s.clock.Now(),
	})
	return ok
}

func (s *Scheduler) record(ctx context.Context, ev status.Event) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordEvent(ctx, ev); err != nil {
		s.log.Debug("failed to record alert event", logger.Error(err))
	}
}
