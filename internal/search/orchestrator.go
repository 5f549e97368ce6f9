// Package search drives the source adapters for one entity and reconciles
// what they return.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/monitoring"
	"github.com/sells-group/facility-cli/internal/reconcile"
	"github.com/sells-group/facility-cli/internal/resilience"
)

var (
	// ErrNoAdapters is returned by New when no adapter is registered.
	ErrNoAdapters = eris.New("search: no adapters registered")
	// ErrUnresolved reports that no adapter or fallback produced a usable
	// result. The accompanying record is a minimal fallback record.
	ErrUnresolved = eris.New("search: entity unresolved")
)

// Adapter looks an entity up in one external source.
type Adapter interface {
	Name() string
	Query(ctx context.Context, e model.Entity) (model.RawSourceResult, error)
}

// Config controls adapter pacing and early exit.
type Config struct {
	// HighConfidence ends the adapter loop once a result exceeds it.
	HighConfidence float64
	// MinDelay and MaxDelay bound the randomized pause between adapters.
	MinDelay time.Duration
	MaxDelay time.Duration
	// RateLimitCooldown replaces the pause after a rate-limited adapter.
	RateLimitCooldown time.Duration
	// Parallel queries every adapter at once, at most MaxInFlight at a time.
	Parallel    bool
	MaxInFlight int
	// MaxFallbacks caps fallback runs per entity.
	MaxFallbacks int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HighConfidence:    0.7,
		MinDelay:          time.Second,
		MaxDelay:          3 * time.Second,
		RateLimitCooldown: 30 * time.Second,
		MaxInFlight:       1,
		MaxFallbacks:      1,
	}
}

// Orchestrator resolves entities against a fixed, ordered adapter set.
type Orchestrator struct {
	cfg       Config
	adapters  []Adapter
	retry     *resilience.RetryManager
	fallbacks *fallback.Manager
	validator *reconcile.Validator
	monitor   *monitoring.Monitor

	sleep resilience.Sleeper
	delay func(lo, hi time.Duration) time.Duration

	mu             sync.RWMutex
	highConfidence float64
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the pacing sleep.
func WithSleeper(s resilience.Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithDelay replaces the randomized pause generator.
func WithDelay(fn func(lo, hi time.Duration) time.Duration) Option {
	return func(o *Orchestrator) { o.delay = fn }
}

// WithMonitor records pacing waits on m.
func WithMonitor(m *monitoring.Monitor) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// New creates an Orchestrator. fallbacks may be nil to disable fallback.
func New(cfg Config, adapters []Adapter, retry *resilience.RetryManager, fallbacks *fallback.Manager, validator *reconcile.Validator, opts ...Option) (*Orchestrator, error) {
	if len(adapters) == 0 {
		return nil, ErrNoAdapters
	}
	if retry == nil {
		retry = resilience.NewRetryManager(resilience.DefaultRetryConfig(), nil)
	}
	if validator == nil {
		validator = reconcile.NewValidator()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	o := &Orchestrator{
		cfg:            cfg,
		adapters:       adapters,
		retry:          retry,
		fallbacks:      fallbacks,
		validator:      validator,
		sleep:          resilience.Sleep,
		delay:          resilience.RandomDelay,
		highConfidence: cfg.HighConfidence,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Adapters returns the adapter names in query order.
func (o *Orchestrator) Adapters() []string {
	names := make([]string, len(o.adapters))
	for i, a := range o.adapters {
		names[i] = a.Name()
	}
	return names
}

// SetHighConfidence changes the early-exit threshold.
func (o *Orchestrator) SetHighConfidence(v float64) {
	o.mu.Lock()
	o.highConfidence = v
	o.mu.Unlock()
}

func (o *Orchestrator) threshold() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.highConfidence
}

// Resolve queries the adapters for e and reconciles the results. It always
// returns a record. When nothing usable came back the record is a minimal
// fallback built from e and the error wraps ErrUnresolved.
func (o *Orchestrator) Resolve(ctx context.Context, e model.Entity) (model.CanonicalRecord, error) {
	log := zap.L().With(zap.String("entity", e.Name))

	var (
		results []model.RawSourceResult
		lastErr error
	)
	if o.cfg.Parallel {
		results, lastErr = o.queryParallel(ctx, e)
	} else {
		results, lastErr = o.querySequential(ctx, e)
	}

	if len(results) == 0 {
		cause := lastErr
		if cause == nil {
			cause = ctx.Err()
		}
		log.Warn("search: no usable results", zap.Error(cause))
		rec := model.FallbackRecord(e, model.SourceFallbackErrorRecovery, model.MinimalConfidence)
		if cause != nil {
			return rec, eris.Wrapf(ErrUnresolved, "search: %s: %v", e.Name, cause)
		}
		return rec, eris.Wrapf(ErrUnresolved, "search: %s", e.Name)
	}

	rec := o.validator.Reconcile(results, &e)
	log.Debug("search: resolved",
		zap.Int("sources", len(results)),
		zap.Float64("confidence", rec.Confidence),
		zap.String("source", rec.Source),
	)
	return rec, nil
}

func (o *Orchestrator) querySequential(ctx context.Context, e model.Entity) ([]model.RawSourceResult, error) {
	var (
		results   []model.RawSourceResult
		lastErr   error
		fallbacks int
	)
	high := o.threshold()

	for i, a := range o.adapters {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := o.pause(ctx, lastErr); err != nil {
				break
			}
		}

		res, err := o.query(ctx, a, e)
		if err != nil {
			lastErr = err
			if fb, ok := o.tryFallback(ctx, e, a.Name(), err, results, &fallbacks); ok {
				results = append(results, fb)
				if fb.Confidence > high {
					break
				}
			}
			continue
		}
		lastErr = nil
		results = append(results, res)
		if res.Confidence > high {
			zap.L().Debug("search: early exit",
				zap.String("entity", e.Name),
				zap.String("adapter", a.Name()),
				zap.Float64("confidence", res.Confidence),
			)
			break
		}
	}
	return results, lastErr
}

type slot struct {
	res model.RawSourceResult
	err error
	ok  bool
}

func (o *Orchestrator) queryParallel(ctx context.Context, e model.Entity) ([]model.RawSourceResult, error) {
	high := o.threshold()
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]slot, len(o.adapters))
	g, gctx := errgroup.WithContext(qctx)
	g.SetLimit(o.cfg.MaxInFlight)
	for i, a := range o.adapters {
		g.Go(func() error {
			if gctx.Err() != nil {
				slots[i].err = gctx.Err()
				return nil
			}
			res, err := o.query(gctx, a, e)
			slots[i] = slot{res: res, err: err, ok: err == nil}
			if err == nil && res.Confidence > high {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		results   []model.RawSourceResult
		lastErr   error
		fallbacks int
		done      bool
	)
	for _, s := range slots {
		if s.ok {
			results = append(results, s.res)
			if s.res.Confidence > high {
				done = true
			}
		}
	}
	for i, s := range slots {
		if s.ok || done || ctx.Err() != nil {
			continue
		}
		lastErr = s.err
		if fb, ok := o.tryFallback(ctx, e, o.adapters[i].Name(), s.err, results, &fallbacks); ok {
			results = append(results, fb)
			done = fb.Confidence > high
		}
	}
	if len(results) > 0 {
		lastErr = nil
	}
	return results, lastErr
}

// query runs one adapter under the retry manager and checks the result shape.
func (o *Orchestrator) query(ctx context.Context, a Adapter, e model.Entity) (model.RawSourceResult, error) {
	res, err := resilience.Execute(ctx, o.retry, "adapter:"+a.Name(), func(ctx context.Context) (model.RawSourceResult, error) {
		res, err := a.Query(ctx, e)
		if err != nil {
			return res, err
		}
		return res, usable(res)
	})
	if err != nil {
		zap.L().Debug("search: adapter failed",
			zap.String("entity", e.Name),
			zap.String("adapter", a.Name()),
			zap.Error(err),
		)
		return model.RawSourceResult{}, err
	}
	if res.Source == "" {
		res.Source = a.Name()
	}
	if strings.TrimSpace(res.Name) == "" {
		res.Name = e.Name
	}
	if strings.TrimSpace(res.Address) == "" {
		res.Address = e.Address
	}
	res.Confidence = model.ClampConfidence(res.Confidence)
	return res, nil
}

// usable rejects results that carry no facts at all.
func usable(res model.RawSourceResult) error {
	if !res.HasAny() {
		return resilience.Permanent(eris.New("search: empty result"))
	}
	return nil
}

func (o *Orchestrator) tryFallback(ctx context.Context, e model.Entity, failed string, cause error, results []model.RawSourceResult, used *int) (model.RawSourceResult, bool) {
	if o.fallbacks == nil || *used >= o.cfg.MaxFallbacks || ctx.Err() != nil {
		return model.RawSourceResult{}, false
	}
	*used++
	fr := o.fallbacks.Execute(ctx, e.Key(), fallback.Context{
		Entity:  e,
		Failed:  failed,
		Cause:   cause,
		Results: results,
	})
	if !fr.OK {
		return model.RawSourceResult{}, false
	}
	return fr.Record, true
}

// pause waits between adapters: the randomized delay normally, the rate
// limit cooldown after a throttled adapter.
func (o *Orchestrator) pause(ctx context.Context, prev error) error {
	d := o.delay(o.cfg.MinDelay, o.cfg.MaxDelay)
	label := "pacing"
	if resilience.IsRateLimited(prev) && o.cfg.RateLimitCooldown > d {
		d = o.cfg.RateLimitCooldown
		label = "rate_limit_cooldown"
		zap.L().Info("search: rate limited, cooling down", zap.Duration("cooldown", d))
	}
	if o.monitor != nil {
		o.monitor.RecordWait(label, d)
	}
	return o.sleep(ctx, d)
}
