// Package batch drives entity resolution in dynamically sized batches.
package batch

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/config"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/monitoring"
	"github.com/sells-group/facility-cli/internal/resilience"
)

// ProcessFunc resolves one batch. It must return one record per entity, in
// order.
type ProcessFunc func(ctx context.Context, batch []model.Entity) ([]model.CanonicalRecord, error)

// Config controls batch sizing and pacing.
type Config struct {
	InitialSize            int
	MinSize                int
	MaxSize                int
	MaxConsecutiveFailures int

	BatchDelayMin time.Duration
	BatchDelayMax time.Duration

	LowSuccessRateThreshold float64
	LowSuccessDelayMin      time.Duration
	LowSuccessDelayMax      time.Duration
	// SuccessWindow is how many recent batches the rolling rate covers.
	SuccessWindow int

	SingleRetryDelayMin time.Duration
	SingleRetryDelayMax time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialSize:             10,
		MinSize:                 1,
		MaxSize:                 20,
		MaxConsecutiveFailures:  3,
		BatchDelayMin:           2 * time.Second,
		BatchDelayMax:           5 * time.Second,
		LowSuccessRateThreshold: 0.8,
		LowSuccessDelayMin:      10 * time.Second,
		LowSuccessDelayMax:      20 * time.Second,
		SuccessWindow:           5,
		SingleRetryDelayMin:     500 * time.Millisecond,
		SingleRetryDelayMax:     1500 * time.Millisecond,
	}
}

// FromConfig converts engine settings to a Config.
func FromConfig(ec config.EngineConfig) Config {
	cfg := Config{
		InitialSize:             ec.InitialBatchSize,
		MinSize:                 ec.MinBatchSize,
		MaxSize:                 ec.MaxBatchSize,
		MaxConsecutiveFailures:  ec.MaxConsecutiveFailures,
		LowSuccessRateThreshold: ec.LowSuccessRateThreshold,
		SuccessWindow:           ec.SuccessWindow,
	}
	cfg.BatchDelayMin, cfg.BatchDelayMax = ec.BatchDelay.Bounds()
	cfg.LowSuccessDelayMin, cfg.LowSuccessDelayMax = ec.LowSuccessRateDelay.Bounds()
	cfg.SingleRetryDelayMin, cfg.SingleRetryDelayMax = ec.SingleRetryDelay.Bounds()
	return normalize(cfg)
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MinSize <= 0 {
		cfg.MinSize = def.MinSize
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = cfg.MinSize
	}
	if cfg.InitialSize < cfg.MinSize {
		cfg.InitialSize = cfg.MinSize
	}
	if cfg.InitialSize > cfg.MaxSize {
		cfg.InitialSize = cfg.MaxSize
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.SuccessWindow <= 0 {
		cfg.SuccessWindow = def.SuccessWindow
	}
	return cfg
}

// Result is what one Run produced.
type Result struct {
	Records           []model.CanonicalRecord `json:"-"`
	TotalBatches      int                     `json:"total_batches"`
	SuccessfulBatches int                     `json:"successful_batches"`
	FailedBatches     int                     `json:"failed_batches"`
	AverageBatchSize  float64                 `json:"average_batch_size"`
	ProcessingTime    time.Duration           `json:"processing_time"`
	// Degraded counts entities retried one by one after a batch failure.
	Degraded int `json:"degraded"`
	// Fallbacks counts synthetic records for entities that never resolved.
	Fallbacks int  `json:"fallbacks"`
	Cancelled bool `json:"cancelled"`
}

// ProcessingTimeMs is the run time in milliseconds.
func (r Result) ProcessingTimeMs() int64 { return r.ProcessingTime.Milliseconds() }

// Stats accumulate across runs until ResetStats.
type Stats struct {
	Runs                int           `json:"runs"`
	Entities            int           `json:"entities"`
	TotalBatches        int           `json:"total_batches"`
	SuccessfulBatches   int           `json:"successful_batches"`
	FailedBatches       int           `json:"failed_batches"`
	Degraded            int           `json:"degraded"`
	Fallbacks           int           `json:"fallbacks"`
	ProcessingTime      time.Duration `json:"processing_time"`
	BatchSize           int           `json:"batch_size"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	MaxConsecutive      int           `json:"max_consecutive_failures"`
	RollingSuccessRate  float64       `json:"rolling_success_rate"`
}

// Processor splits entities into batches and adapts the batch size to
// observed failures. Only the running batch loop mutates size and counters;
// the mutex guards reads from control calls.
type Processor struct {
	monitor *monitoring.Monitor
	sleep   resilience.Sleeper
	delay   func(lo, hi time.Duration) time.Duration
	nowFunc func() time.Time

	mu       sync.Mutex
	cfg      Config
	size     int
	failures int
	window   []bool
	stats    Stats
}

// Option customizes a Processor.
type Option func(*Processor)

// WithMonitor records batch outcomes and waits on m.
func WithMonitor(m *monitoring.Monitor) Option {
	return func(p *Processor) { p.monitor = m }
}

// WithSleeper replaces the pacing sleep.
func WithSleeper(s resilience.Sleeper) Option {
	return func(p *Processor) { p.sleep = s }
}

// WithDelay replaces the randomized delay generator.
func WithDelay(fn func(lo, hi time.Duration) time.Duration) Option {
	return func(p *Processor) { p.delay = fn }
}

// NewProcessor creates a Processor starting at cfg.InitialSize.
func NewProcessor(cfg Config, opts ...Option) *Processor {
	cfg = normalize(cfg)
	p := &Processor{
		cfg:     cfg,
		size:    cfg.InitialSize,
		sleep:   resilience.Sleep,
		delay:   resilience.RandomDelay,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run resolves entities batch by batch and returns exactly one record per
// entity, in input order. A cancelled ctx stops the loop between batches;
// entities not yet processed get a not_processed fallback record.
func (p *Processor) Run(ctx context.Context, entities []model.Entity, process ProcessFunc) Result {
	start := p.nowFunc()
	res := Result{Records: make([]model.CanonicalRecord, 0, len(entities))}
	sizeSum := 0

	for i := 0; i < len(entities); {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		size := p.BatchSize()
		end := min(i+size, len(entities))
		chunk := entities[i:end]
		res.TotalBatches++
		sizeSum += len(chunk)

		log := zap.L().With(
			zap.Int("batch", res.TotalBatches),
			zap.Int("batch_size", len(chunk)),
			zap.Int("offset", i),
		)

		t0 := p.nowFunc()
		recs, err := safeProcess(ctx, process, chunk)
		if err == nil {
			err = validate(chunk, recs)
		}
		p.observe("batch", t0, err)

		if err == nil {
			p.onSuccess()
			res.SuccessfulBatches++
			res.Records = append(res.Records, recs...)
			log.Debug("batch: succeeded", zap.Int("next_size", p.BatchSize()))
		} else {
			p.onFailure()
			res.FailedBatches++
			log.Warn("batch: failed, retrying entities one by one",
				zap.Error(err),
				zap.Int("next_size", p.BatchSize()),
			)
			res.Records = append(res.Records, p.degrade(ctx, chunk, process, &res)...)
		}

		i = end
		if i >= len(entities) {
			break
		}

		if rate, ok := p.rollingRate(); ok && rate < p.config().LowSuccessRateThreshold {
			cfg := p.config()
			d := p.delay(cfg.LowSuccessDelayMin, cfg.LowSuccessDelayMax)
			log.Info("batch: low success rate, cooling down",
				zap.Float64("rolling_success_rate", rate),
				zap.Duration("delay", d),
			)
			if p.wait(ctx, "low_success_cooldown", d) != nil {
				continue
			}
		}

		cfg := p.config()
		_ = p.wait(ctx, "batch_delay", p.delay(cfg.BatchDelayMin, cfg.BatchDelayMax))
	}

	for _, e := range entities[len(res.Records):] {
		res.Records = append(res.Records, model.FallbackRecord(e, model.SourceNotProcessed, model.MinimalConfidence))
		res.Cancelled = true
	}

	if res.TotalBatches > 0 {
		res.AverageBatchSize = float64(sizeSum) / float64(res.TotalBatches)
	}
	res.ProcessingTime = p.nowFunc().Sub(start)
	p.accumulate(len(entities), res)

	zap.L().Info("batch: run complete",
		zap.Int("entities", len(entities)),
		zap.Int("total_batches", res.TotalBatches),
		zap.Int("successful_batches", res.SuccessfulBatches),
		zap.Int("failed_batches", res.FailedBatches),
		zap.Int("fallbacks", res.Fallbacks),
		zap.Bool("cancelled", res.Cancelled),
		zap.Duration("elapsed", res.ProcessingTime),
	)
	return res
}

// degrade retries each entity of a failed batch on its own. Entities that
// still fail get a synthetic fallback record.
func (p *Processor) degrade(ctx context.Context, chunk []model.Entity, process ProcessFunc, res *Result) []model.CanonicalRecord {
	out := make([]model.CanonicalRecord, 0, len(chunk))
	for _, e := range chunk {
		if ctx.Err() != nil {
			out = append(out, model.FallbackRecord(e, model.SourceNotProcessed, model.MinimalConfidence))
			res.Cancelled = true
			continue
		}
		res.Degraded++

		cfg := p.config()
		if p.wait(ctx, "single_retry_delay", p.delay(cfg.SingleRetryDelayMin, cfg.SingleRetryDelayMax)) != nil {
			out = append(out, model.FallbackRecord(e, model.SourceNotProcessed, model.MinimalConfidence))
			res.Cancelled = true
			continue
		}

		single := []model.Entity{e}
		t0 := p.nowFunc()
		recs, err := safeProcess(ctx, process, single)
		if err == nil {
			err = validate(single, recs)
		}
		p.observe("singleton", t0, err)
		if err == nil {
			out = append(out, recs[0])
			continue
		}

		zap.L().Warn("batch: entity failed in singleton mode",
			zap.String("entity", e.Name),
			zap.Error(err),
		)
		res.Fallbacks++
		out = append(out, model.FallbackRecord(e, model.SourceFallbackErrorRecovery, model.MinimalConfidence))
	}
	return out
}

// safeProcess calls process and turns a panic into an error.
func safeProcess(ctx context.Context, process ProcessFunc, chunk []model.Entity) (recs []model.CanonicalRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("batch: process panicked: %v", r)
		}
	}()
	return process(ctx, chunk)
}

// validate checks that recs answer chunk one for one.
func validate(chunk []model.Entity, recs []model.CanonicalRecord) error {
	if len(recs) != len(chunk) {
		return eris.Errorf("batch: got %d records for %d entities", len(recs), len(chunk))
	}
	var problems []string
	for i, r := range recs {
		if strings.TrimSpace(r.Name) == "" && strings.TrimSpace(r.EntityID) == "" {
			problems = append(problems, fmt.Sprintf("record %d has no identity", i))
		}
		if id := chunk[i].ID; id != "" && r.EntityID != "" && r.EntityID != id {
			problems = append(problems, fmt.Sprintf("record %d is for %q, want %q", i, r.EntityID, id))
		}
		if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
			problems = append(problems, fmt.Sprintf("record %d confidence %v out of range", i, r.Confidence))
		}
	}
	if len(problems) > 0 {
		return eris.Errorf("batch: invalid records: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (p *Processor) wait(ctx context.Context, label string, d time.Duration) error {
	if p.monitor != nil {
		p.monitor.RecordWait(label, d)
	}
	return p.sleep(ctx, d)
}

func (p *Processor) observe(label string, start time.Time, err error) {
	if p.monitor != nil {
		p.monitor.Observe(label, start, err)
	}
}

func (p *Processor) config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *Processor) onSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = 0
	p.size = min(p.size+1, p.cfg.MaxSize)
	p.pushWindow(true)
}

func (p *Processor) onFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	if p.failures >= p.cfg.MaxConsecutiveFailures {
		p.size = max(p.cfg.MinSize, p.size/2)
	}
	p.pushWindow(false)
}

func (p *Processor) pushWindow(ok bool) {
	p.window = append(p.window, ok)
	if n := len(p.window) - p.cfg.SuccessWindow; n > 0 {
		p.window = p.window[n:]
	}
}

func (p *Processor) rollingRate() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rollingRateLocked()
}

func (p *Processor) rollingRateLocked() (float64, bool) {
	if len(p.window) == 0 {
		return 0, false
	}
	ok := 0
	for _, w := range p.window {
		if w {
			ok++
		}
	}
	return float64(ok) / float64(len(p.window)), true
}

func (p *Processor) accumulate(entities int, res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Runs++
	p.stats.Entities += entities
	p.stats.TotalBatches += res.TotalBatches
	p.stats.SuccessfulBatches += res.SuccessfulBatches
	p.stats.FailedBatches += res.FailedBatches
	p.stats.Degraded += res.Degraded
	p.stats.Fallbacks += res.Fallbacks
	p.stats.ProcessingTime += res.ProcessingTime
}

// BatchSize returns the size the next batch will use.
func (p *Processor) BatchSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// SetBatchSize overrides the current batch size within [min, max].
func (p *Processor) SetBatchSize(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < p.cfg.MinSize || n > p.cfg.MaxSize {
		return eris.Errorf("batch: size %d outside [%d, %d]", n, p.cfg.MinSize, p.cfg.MaxSize)
	}
	p.size = n
	zap.L().Info("batch: size set", zap.Int("batch_size", n))
	return nil
}

// SetMaxConsecutiveFailures changes the failure count that triggers halving.
func (p *Processor) SetMaxConsecutiveFailures(n int) error {
	if n < 1 {
		return eris.Errorf("batch: max consecutive failures must be >= 1, got %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.MaxConsecutiveFailures = n
	zap.L().Info("batch: max consecutive failures set", zap.Int("max_consecutive_failures", n))
	return nil
}

// Stats returns a copy of the session statistics.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.BatchSize = p.size
	s.ConsecutiveFailures = p.failures
	s.MaxConsecutive = p.cfg.MaxConsecutiveFailures
	s.RollingSuccessRate, _ = p.rollingRateLocked()
	return s
}

// ResetStats clears session statistics, the failure streak, and the rolling
// window. The batch size returns to its initial value.
func (p *Processor) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Stats{}
	p.failures = 0
	p.window = nil
	p.size = p.cfg.InitialSize
}
