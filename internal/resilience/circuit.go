// Package resilience provides circuit breaking, adaptive retry, and pacing
// for calls to external lookup sources.
package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls without invoking them.
	CircuitOpen
	// CircuitHalfOpen allows a single trial call.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name labels the breaker in errors and transition callbacks.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a trial call is
	// permitted. Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides whether an error counts as a failure. Defaults to
	// every error except permanent ones and caller cancellation.
	ShouldTrip func(err error) bool

	// OnStateChange is called on every transition, under the breaker lock.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the documented defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

func defaultShouldTrip(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsPermanent(err)
}

// CircuitBreaker gates one wrapped operation.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = defaultShouldTrip
	}
	return &CircuitBreaker{cfg: cfg, nowFunc: time.Now}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the circuit is open, in which case it returns an
// error matching ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !cb.admit() {
		if cb.cfg.Name == "" {
			return zero, ErrCircuitOpen
		}
		return zero, eris.Wrap(ErrCircuitOpen, cb.cfg.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			cb.settle(outcomeFailure)
			panic(r)
		}
	}()
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State returns the current state. An open circuit whose cooldown has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooledDown() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.moveTo(CircuitClosed)
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if !cb.cooledDown() {
			return false
		}
		cb.moveTo(CircuitHalfOpen)
		cb.probing = true
		return true
	case CircuitHalfOpen:
		// One trial at a time.
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeIgnored is an error ShouldTrip rejects, such as a cancelled
	// context. It proves nothing about the wrapped service.
	outcomeIgnored
)

func (cb *CircuitBreaker) record(err error) {
	switch {
	case err == nil:
		cb.settle(outcomeSuccess)
	case cb.cfg.ShouldTrip(err):
		cb.settle(outcomeFailure)
	default:
		cb.settle(outcomeIgnored)
	}
}

func (cb *CircuitBreaker) settle(o outcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.probing = false
		switch o {
		case outcomeFailure:
			cb.failures++
			cb.openedAt = cb.nowFunc()
			cb.moveTo(CircuitOpen)
		case outcomeSuccess:
			cb.failures = 0
			cb.moveTo(CircuitClosed)
		}
		// Ignored trials leave the circuit half-open for the next caller.
		return
	}

	switch o {
	case outcomeSuccess:
		cb.failures = 0
	case outcomeFailure:
		cb.failures++
		if cb.state == CircuitClosed && cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.nowFunc()
			cb.moveTo(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// BreakerSet hands out one breaker per label so a failing source never
// trips another.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewBreakerSet creates an empty per-label registry. Transitions are logged
// unless cfg carries its own OnStateChange.
func NewBreakerSet(cfg CircuitBreakerConfig) *BreakerSet {
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = logTransition
	}
	return &BreakerSet{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

func logTransition(name string, from, to CircuitState) {
	log := zap.L().Info
	if to == CircuitOpen {
		log = zap.L().Warn
	}
	log("resilience: circuit state changed",
		zap.String("circuit", name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

// Get returns the breaker for label, creating it on first use.
func (sb *BreakerSet) Get(label string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[label]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok = sb.breakers[label]; ok {
		return cb
	}
	cfg := sb.cfg
	cfg.Name = label
	cb = NewCircuitBreaker(cfg)
	sb.breakers[label] = cb
	return cb
}

// States returns every breaker's current state.
func (sb *BreakerSet) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		states[name] = cb.State()
	}
	return states
}

// Open returns the sorted labels whose circuit is currently open.
func (sb *BreakerSet) Open() []string {
	var open []string
	for name, st := range sb.States() {
		if st == CircuitOpen {
			open = append(open, name)
		}
	}
	sort.Strings(open)
	return open
}

// ResetAll closes every breaker.
func (sb *BreakerSet) ResetAll() {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	for _, cb := range sb.breakers {
		cb.Reset()
	}
}
