package notification

import (
	"context"
	"time"

	"github.com/cribwatch/cribwatch/internal/alert"
	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/httpclient"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/observability/metrics"
	"github.com/cribwatch/cribwatch/internal/status"
)

const (
	// DefaultSendTimeout bounds a single provider attempt.
	DefaultSendTimeout = 15 * time.Second
	recordTimeout      = 5 * time.Second
	errRateLimited     = "rate limited"
)

type providerEntry struct {
	provider Provider
	breaker  *CircuitBreaker
}

// Service delivers messages to every provider that supports their channel.
// It is safe for concurrent use.
type Service struct {
	entries   []providerEntry
	limiter   *RateLimiter
	messages  MessageLog
	metrics   *metrics.NotificationMetrics
	timeout   time.Duration
	breakerCf CircuitBreakerConfig
	log       logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMessageLog records every delivery attempt to ml.
func WithMessageLog(ml MessageLog) Option {
	return func(s *Service) { s.messages = ml }
}

// WithMetrics publishes delivery metrics to m.
func WithMetrics(m *metrics.NotificationMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRateLimiter replaces the default limiter. A nil limiter disables
// rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Service) { s.limiter = rl }
}

// WithSendTimeout bounds each provider attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCircuitBreakerConfig sets the breaker config used for every provider.
func WithCircuitBreakerConfig(cfg CircuitBreakerConfig) Option {
	return func(s *Service) { s.breakerCf = cfg }
}

// NewService returns a service over providers.
func NewService(providers []Provider, opts ...Option) *Service {
	s := &Service{
		limiter:   NewRateLimiter(DefaultRateLimiterConfig()),
		timeout:   DefaultSendTimeout,
		breakerCf: DefaultCircuitBreakerConfig(),
		log:       GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range providers {
		s.entries = append(s.entries, providerEntry{
			provider: p,
			breaker:  NewCircuitBreaker(s.breakerCf, s.metrics, p.Name()),
		})
	}
	return s
}

// NewServiceFromSettings builds the enabled providers from settings. A
// service with no providers is valid and reports every send as failed.
func NewServiceFromSettings(settings *conf.NotificationSettings, client *httpclient.Client, opts ...Option) (*Service, error) {
	var providers []Provider
	if settings.Discord.Enabled {
		d := NewDiscordProvider(client, settings.Discord.WarningWebhook, settings.Discord.StatusWebhook)
		if d.Supports(ChannelWarning) || d.Supports(ChannelStatus) {
			providers = append(providers, d)
		} else {
			GetLogger().Warn("discord enabled without any webhook URL")
		}
	}
	if settings.Shoutrrr.Enabled {
		sp, err := NewShoutrrrProvider(settings.Shoutrrr.URLs, settings.Timeout)
		if err != nil {
			return nil, err
		}
		providers = append(providers, sp)
	}

	base := []Option{
		WithSendTimeout(settings.Timeout),
		WithRateLimiter(NewRateLimiter(RateLimiterConfig{RequestsPerMinute: settings.RateLimit})),
	}
	if settings.CircuitBreaker.MaxFailures > 0 && settings.CircuitBreaker.ResetTimeout > 0 {
		base = append(base, WithCircuitBreakerConfig(CircuitBreakerConfig{
			MaxFailures:         settings.CircuitBreaker.MaxFailures,
			Timeout:             settings.CircuitBreaker.ResetTimeout,
			HalfOpenMaxRequests: 1,
		}))
	}
	s := NewService(providers, append(base, opts...)...)
	s.log.Info("notification service initialized", logger.Int("providers", len(providers)))
	return s, nil
}

// SendAlert implements alert.Notifier.
func (s *Service) SendAlert(ctx context.Context, title, description string, level status.RiskLevel, image []byte) bool {
	return s.Send(ctx, NewMessage(ChannelWarning, title, description, level, image))
}

// SendStatusReport implements alert.Notifier.
func (s *Service) SendStatusReport(ctx context.Context, summary string, image []byte) bool {
	return s.Send(ctx, NewMessage(ChannelStatus, StatusReportTitle, summary, "", image))
}

// Send delivers msg and reports whether at least one provider accepted it.
func (s *Service) Send(ctx context.Context, msg *Message) bool {
	var targets []providerEntry
	for _, e := range s.entries {
		if e.provider.Supports(msg.Channel) {
			targets = append(targets, e)
		}
	}
	if len(targets) == 0 {
		s.log.Debug("no provider for channel, message dropped",
			logger.String("channel", string(msg.Channel)),
			logger.String("title", msg.Title))
		return false
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.IncRateLimited()
		s.log.Warn("notification rate limited",
			logger.String("channel", string(msg.Channel)),
			logger.String("title", msg.Title))
		s.record(ctx, msg, "", errors.NewStd(errRateLimited))
		return false
	}

	delivered := false
	for _, e := range targets {
		if s.deliver(ctx, e, msg) {
			delivered = true
		}
	}
	return delivered
}

func (s *Service) deliver(ctx context.Context, e providerEntry, msg *Message) bool {
	name := e.provider.Name()
	start := time.Now()
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return e.provider.Send(sendCtx, msg)
	})
	elapsed := time.Since(start)

	switch {
	case err == nil:
		s.metrics.RecordDelivery(name, string(msg.Channel), metrics.StatusSuccess, elapsed)
		s.log.Info("notification sent",
			logger.String("provider", name),
			logger.String("channel", string(msg.Channel)),
			logger.String("title", msg.Title),
			logger.Duration("duration", elapsed))
	case errors.Is(err, ErrCircuitBreakerOpen), errors.Is(err, ErrTooManyRequests):
		s.metrics.RecordDelivery(name, string(msg.Channel), metrics.StatusRejected, elapsed)
		s.log.Warn("notification rejected by circuit breaker",
			logger.String("provider", name),
			logger.String("channel", string(msg.Channel)))
	default:
		s.metrics.RecordDelivery(name, string(msg.Channel), metrics.StatusError, elapsed)
		s.log.Error("notification delivery failed",
			logger.String("provider", name),
			logger.String("channel", string(msg.Channel)),
			logger.Error(err))
	}
	s.record(ctx, msg, name, err)
	return err == nil
}

func (s *Service) record(ctx context.Context, msg *Message, provider string, sendErr error) {
	if s.messages == nil {
		return
	}
	rec := &Record{
		MessageID:   msg.ID.String(),
		Channel:     string(msg.Channel),
		Provider:    provider,
		Title:       msg.Title,
		Description: msg.Description,
		RiskLevel:   string(msg.Level),
		HasImage:    len(msg.Image) > 0,
		Success:     sendErr == nil,
		Timestamp:   msg.Timestamp,
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}

	// the delivery log is written even when the caller is shutting down
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.messages.SaveNotification(recCtx, rec); err != nil {
		s.log.Warn("failed to record notification",
			logger.String("provider", provider),
			logger.Error(err))
	}
}

// HasProviders reports whether any provider is configured.
func (s *Service) HasProviders() bool {
	return len(s.entries) > 0
}

// Providers describes every configured provider.
func (s *Service) Providers() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(s.entries))
	for _, e := range s.entries {
		st := e.breaker.GetStats()
		out = append(out, ProviderStatus{
			Name:         e.provider.Name(),
			Channels:     channelNames(e.provider),
			CircuitState: st.State.String(),
			Failures:     st.Failures,
		})
	}
	return out
}

var _ alert.Notifier = (*Service)(nil)
