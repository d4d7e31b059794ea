package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/observability/metrics"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means requests flow normally.
	StateClosed CircuitState = iota
	// StateHalfOpen means a single probe request is allowed through.
	StateHalfOpen
	// StateOpen means requests are rejected until the reset timeout passes.
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitBreakerOpen is returned when the circuit breaker is open.
	ErrCircuitBreakerOpen = errors.Newf("circuit breaker is open").
				Component("notification").
				Category(errors.CategoryState).
				Build()
	// ErrTooManyRequests is returned when the half-open probe is already in flight.
	ErrTooManyRequests = errors.Newf("circuit breaker is half-open, too many requests").
				Component("notification").
				Category(errors.CategoryState).
				Build()
)

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// Timeout is how long to wait before moving from open to half-open.
	Timeout time.Duration
	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns the default breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Timeout:             60 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Validate checks if the circuit breaker configuration is valid.
func (c CircuitBreakerConfig) Validate() error {
	if c.MaxFailures < 1 {
		return fmt.Errorf("max_failures must be at least 1, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("half_open_max_requests must be at least 1, got %d", c.HalfOpenMaxRequests)
	}
	return nil
}

// CircuitBreaker isolates one provider. After MaxFailures consecutive
// failures it rejects calls for Timeout, then lets a probe through.
type CircuitBreaker struct {
	config   CircuitBreakerConfig
	provider string
	clock    func() time.Time
	metrics  *metrics.NotificationMetrics
	log      logger.Logger

	mu               sync.RWMutex
	state            CircuitState
	failures         int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenRequests int
}

// NewCircuitBreaker creates a closed breaker for provider. An invalid config
// is logged and replaced by the defaults.
func NewCircuitBreaker(config CircuitBreakerConfig, m *metrics.NotificationMetrics, provider string) *CircuitBreaker {
	log := GetLogger().With(logger.String("provider", provider))
	if err := config.Validate(); err != nil {
		log.Warn("invalid circuit breaker config, using defaults", logger.Error(err))
		config = DefaultCircuitBreakerConfig()
	}
	cb := &CircuitBreaker{
		config:   config,
		provider: provider,
		clock:    time.Now,
		metrics:  m,
		log:      log,
		state:    StateClosed,
	}
	cb.lastStateChange = cb.clock()
	m.UpdateCircuitBreakerState(provider, int(StateClosed))
	return cb
}

// Call runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		state, failures := cb.State(), cb.Failures()
		return fmt.Errorf("circuit breaker rejected request (%v, %d consecutive failures): %w",
			state, failures, err)
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.clock().Sub(cb.lastStateChange) >= cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
		return nil
	default:
		return ErrCircuitBreakerOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.lastFailureTime = time.Time{}
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
		return
	}

	// shutdown cancellation is not a provider fault
	if errors.Is(err, context.Canceled) {
		if cb.state == StateHalfOpen {
			cb.halfOpenRequests = 0
		}
		return
	}

	cb.failures++
	cb.lastFailureTime = cb.clock()
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateOpen:
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(next CircuitState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	now := cb.clock()
	inPrevious := now.Sub(cb.lastStateChange)
	cb.state = next
	cb.lastStateChange = now
	if next != StateHalfOpen {
		cb.halfOpenRequests = 0
	}
	cb.metrics.UpdateCircuitBreakerState(cb.provider, int(next))

	cb.log.Info("circuit breaker state transition",
		logger.String("old_state", prev.String()),
		logger.String("new_state", next.String()),
		logger.Int("consecutive_failures", cb.failures),
		logger.Duration("time_in_previous_state", inPrevious))
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current number of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// IsHealthy reports whether the breaker is closed.
func (cb *CircuitBreaker) IsHealthy() bool {
	return cb.State() == StateClosed
}

// Reset closes the breaker and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.lastFailureTime = time.Time{}
	cb.halfOpenRequests = 0
	cb.setState(StateClosed)
}

// CircuitBreakerStats is a point-in-time view of a breaker.
type CircuitBreakerStats struct {
	State            CircuitState
	Failures         int
	LastFailureTime  time.Time
	LastStateChange  time.Time
	HalfOpenRequests int
}

// GetStats returns current statistics about the circuit breaker.
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitBreakerStats{
		State:            cb.state,
		Failures:         cb.failures,
		LastFailureTime:  cb.lastFailureTime,
		LastStateChange:  cb.lastStateChange,
		HalfOpenRequests: cb.halfOpenRequests,
	}
}
