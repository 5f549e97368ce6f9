package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/monitoring"
)

// RetryConfig controls the adaptive retry manager.
type RetryConfig struct {
	// MaxRetries is the total number of attempts before giving up. Default: 5.
	MaxRetries int

	// BaseDelay is the delay after the first failed attempt. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff before jitter. Default: 30s.
	MaxDelay time.Duration

	// Multiplier scales the delay after each attempt. Default: 2.0.
	Multiplier float64

	// Jitter perturbs each delay by ±Jitter of itself. Default: 0.1.
	Jitter float64

	// MinDelay is the floor after jitter. Default: 100ms.
	MinDelay time.Duration

	// Once the manager-wide failure streak exceeds StreakThreshold, delays
	// are scaled by streak/StreakThreshold up to StreakMaxScale.
	StreakThreshold int
	StreakMaxScale  float64

	// RateLimitCooldown is the least a rate-limited attempt waits.
	RateLimitCooldown time.Duration
}

// DefaultRetryConfig returns the documented defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		Multiplier:        2.0,
		Jitter:            0.1,
		MinDelay:          100 * time.Millisecond,
		StreakThreshold:   3,
		StreakMaxScale:    3.0,
		RateLimitCooldown: 30 * time.Second,
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = def.MinDelay
	}
	if cfg.StreakThreshold <= 0 {
		cfg.StreakThreshold = def.StreakThreshold
	}
	if cfg.StreakMaxScale < 1 {
		cfg.StreakMaxScale = def.StreakMaxScale
	}
	return cfg
}

// RetryMetrics is a point-in-time copy of the manager's running totals.
type RetryMetrics struct {
	Attempts            int64         `json:"attempts"`
	Successes           int64         `json:"successes"`
	Failures            int64         `json:"failures"`
	Exhausted           int64         `json:"exhausted"`
	Retries             int64         `json:"retries"`
	TotalDelay          time.Duration `json:"total_delay"`
	AverageDelay        time.Duration `json:"average_delay"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// RetryManager wraps fallible operations with bounded retries, exponential
// backoff with jitter, and streak-sensitive delay scaling. Every attempt goes
// through the label's circuit breaker.
type RetryManager struct {
	cfg      RetryConfig
	breakers *BreakerSet
	monitor  *monitoring.Monitor

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64

	mu      sync.Mutex
	metrics RetryMetrics
}

// RetryOption customizes a RetryManager.
type RetryOption func(*RetryManager)

// WithMonitor records every attempt and backoff wait on m.
func WithMonitor(m *monitoring.Monitor) RetryOption {
	return func(r *RetryManager) { r.monitor = m }
}

// WithSleeper replaces the context-aware sleep used between attempts.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *RetryManager) { r.sleep = fn }
}

// WithRand replaces the jitter source; fn returns values in [0, 1).
func WithRand(fn func() float64) RetryOption {
	return func(r *RetryManager) { r.rand = fn }
}

// NewRetryManager creates a manager. breakers may be shared across managers.
func NewRetryManager(cfg RetryConfig, breakers *BreakerSet, opts ...RetryOption) *RetryManager {
	if breakers == nil {
		breakers = NewBreakerSet(DefaultCircuitBreakerConfig())
	}
	m := &RetryManager{
		cfg:      applyDefaults(cfg),
		breakers: breakers,
		sleep:    Sleep,
		rand:     rand.Float64,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breakers returns the breaker registry used by the manager.
func (m *RetryManager) Breakers() *BreakerSet { return m.breakers }

// Config returns the effective configuration.
func (m *RetryManager) Config() RetryConfig { return m.cfg }

// Do is Execute for operations without a result.
func (m *RetryManager) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, m, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn under m's retry policy. It returns the first success, or
// an ExhaustedError tagged with label carrying the last failure. Permanent
// errors and open circuits end the loop at once. Cancellation of ctx is
// checked before every attempt and during every backoff sleep.
func Execute[T any](ctx context.Context, m *RetryManager, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	cb := m.breakers.Get(label)
	log := zap.L().With(zap.String("label", label))

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, eris.Wrapf(err, "resilience: %s cancelled", label)
		}

		start := time.Now()
		val, err := ExecuteVal(ctx, cb, fn)
		m.observe(label, start, err)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) || IsPermanent(err) {
			m.fail(false)
			return zero, eris.Wrapf(err, "resilience: %s", label)
		}
		streak := m.fail(true)
		if attempt == m.cfg.MaxRetries {
			break
		}

		delay := m.Backoff(attempt, streak, err)
		m.recordDelay(label, delay)
		log.Debug("resilience: retrying",
			zap.Int("attempt", attempt),
			zap.Int("streak", streak),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if serr := m.sleep(ctx, delay); serr != nil {
			return zero, eris.Wrapf(serr, "resilience: %s cancelled", label)
		}
	}

	m.mu.Lock()
	m.metrics.Exhausted++
	m.mu.Unlock()
	log.Warn("resilience: retries exhausted", zap.Int("attempts", m.cfg.MaxRetries), zap.Error(lastErr))
	return zero, &ExhaustedError{Label: label, Attempts: m.cfg.MaxRetries, Err: lastErr}
}

// Backoff computes the wait after a failed attempt (1-based) given the
// current failure streak and the error that caused it.
func (m *RetryManager) Backoff(attempt, streak int, err error) time.Duration {
	cfg := m.cfg
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))

	if streak > cfg.StreakThreshold {
		scale := math.Min(cfg.StreakMaxScale, float64(streak)/float64(cfg.StreakThreshold))
		delay *= scale
	}
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (m.rand()*2 - 1)
	}
	if delay < float64(cfg.MinDelay) {
		delay = float64(cfg.MinDelay)
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		floor := cfg.RateLimitCooldown
		if rl.RetryAfter > floor {
			floor = rl.RetryAfter
		}
		if float64(floor) > delay {
			delay = float64(floor)
		}
	}
	return time.Duration(delay)
}

// Metrics returns a copy of the running totals.
func (m *RetryManager) Metrics() RetryMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.metrics
	if out.Retries > 0 {
		out.AverageDelay = out.TotalDelay / time.Duration(out.Retries)
	}
	return out
}

// ResetMetrics zeroes the running totals and the failure streak.
func (m *RetryManager) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = RetryMetrics{}
}

func (m *RetryManager) observe(label string, start time.Time, err error) {
	m.mu.Lock()
	m.metrics.Attempts++
	if err == nil {
		m.metrics.Successes++
		m.metrics.ConsecutiveFailures = 0
	}
	m.mu.Unlock()
	if m.monitor != nil {
		m.monitor.Observe(label, start, err)
	}
}

// fail counts a failed attempt and returns the streak. Only retryable
// failures extend the streak.
func (m *RetryManager) fail(retryable bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.Failures++
	if retryable {
		m.metrics.ConsecutiveFailures++
	}
	return m.metrics.ConsecutiveFailures
}

func (m *RetryManager) recordDelay(label string, d time.Duration) {
	m.mu.Lock()
	m.metrics.Retries++
	m.metrics.TotalDelay += d
	m.mu.Unlock()
	if m.monitor != nil {
		m.monitor.RecordWait(label, d)
	}
}
