package resilience

import (
	"time"

	"github.com/sells-group/facility-cli/internal/config"
)

// FromRetryConfig converts config values to a RetryConfig. Zero values keep
// the defaults.
func FromRetryConfig(rc config.RetryConfig, rateLimitCooldownMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if rc.MaxRetries > 0 {
		cfg.MaxRetries = rc.MaxRetries
	}
	if rc.BaseDelayMs > 0 {
		cfg.BaseDelay = time.Duration(rc.BaseDelayMs) * time.Millisecond
	}
	if rc.MaxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(rc.MaxDelayMs) * time.Millisecond
	}
	if rc.BackoffMultiplier > 0 {
		cfg.Multiplier = rc.BackoffMultiplier
	}
	if rc.Jitter >= 0 {
		cfg.Jitter = rc.Jitter
	}
	if rc.StreakThreshold > 0 {
		cfg.StreakThreshold = rc.StreakThreshold
	}
	if rc.StreakMaxScale >= 1 {
		cfg.StreakMaxScale = rc.StreakMaxScale
	}
	if rateLimitCooldownMs > 0 {
		cfg.RateLimitCooldown = time.Duration(rateLimitCooldownMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(cc config.CircuitConfig) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if cc.FailureThreshold > 0 {
		cfg.FailureThreshold = cc.FailureThreshold
	}
	if cc.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(cc.ResetTimeoutSecs) * time.Second
	}
	return cfg
}
