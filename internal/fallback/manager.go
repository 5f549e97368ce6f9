// Package fallback runs priority-ordered alternative lookups for an entity
// once its primary source has failed.
package fallback

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/resilience"
)

// HistoryLimit bounds the outcomes kept per entity.
const HistoryLimit = 10

// neutralRatio is the success ratio assumed for a strategy with no history.
const neutralRatio = 0.5

var (
	// ErrUnknownStrategy is returned when toggling a name that was never registered.
	ErrUnknownStrategy = eris.New("fallback: unknown strategy")
	// ErrNoStrategies is returned when no registered strategy is available.
	ErrNoStrategies = eris.New("fallback: no strategies available")
)

// Context carries what a strategy may use to look the entity up again.
type Context struct {
	Entity model.Entity
	// Failed is the adapter whose failure triggered the fallback.
	Failed string
	// Cause is the adapter's error.
	Cause error
	// Results are the raw results gathered so far for the entity.
	Results []model.RawSourceResult
}

// Strategy is an alternative lookup procedure.
type Strategy interface {
	Name() string
	Available() bool
	Execute(ctx context.Context, fc Context) (model.RawSourceResult, error)
}

// Result is the outcome of one fallback run.
type Result struct {
	Record    model.RawSourceResult
	Strategy  string
	OK        bool
	Attempted []string
	Err       error
}

// Outcome is one strategy attempt in an entity's history.
type Outcome struct {
	Strategy   string    `json:"strategy"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// StrategyStatus describes a registered strategy for reporting.
type StrategyStatus struct {
	Name      string  `json:"name"`
	Priority  int     `json:"priority"`
	Enabled   bool    `json:"enabled"`
	Available bool    `json:"available"`
	Attempts  int     `json:"attempts"`
	Successes int     `json:"successes"`
	Ratio     float64 `json:"success_ratio"`
}

type registered struct {
	strategy Strategy
	priority int
	enabled  bool
}

// Manager holds the registered strategies and their execution history.
type Manager struct {
	retry         *resilience.RetryManager
	minConfidence float64
	nowFunc       func() time.Time

	mu         sync.RWMutex
	strategies []*registered
	history    map[string][]Outcome
}

// NewManager creates a manager whose strategy attempts run through retry. A
// strategy result is accepted only when its confidence exceeds minConfidence.
func NewManager(retry *resilience.RetryManager, minConfidence float64) *Manager {
	return &Manager{
		retry:         retry,
		minConfidence: minConfidence,
		nowFunc:       time.Now,
		history:       make(map[string][]Outcome),
	}
}

// Register adds s at the given priority; lower runs first. Registering an
// existing name replaces it.
func (m *Manager) Register(s Strategy, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.strategies {
		if r.strategy.Name() == s.Name() {
			m.strategies[i] = &registered{strategy: s, priority: priority, enabled: true}
			m.sortLocked()
			return
		}
	}
	m.strategies = append(m.strategies, &registered{strategy: s, priority: priority, enabled: true})
	m.sortLocked()
}

func (m *Manager) sortLocked() {
	sort.SliceStable(m.strategies, func(i, j int) bool {
		return m.strategies[i].priority < m.strategies[j].priority
	})
}

// Enable marks a strategy usable again.
func (m *Manager) Enable(name string) error { return m.toggle(name, true) }

// Disable takes a strategy out of rotation without unregistering it.
func (m *Manager) Disable(name string) error { return m.toggle(name, false) }

func (m *Manager) toggle(name string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.strategies {
		if r.strategy.Name() == name {
			r.enabled = on
			zap.L().Info("fallback: strategy toggled", zap.String("strategy", name), zap.Bool("enabled", on))
			return nil
		}
	}
	return eris.Wrapf(ErrUnknownStrategy, "fallback: %q", name)
}

// active returns enabled, available strategies in priority order.
func (m *Manager) active() []Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Strategy
	for _, r := range m.strategies {
		if r.enabled && r.strategy.Available() {
			out = append(out, r.strategy)
		}
	}
	return out
}

// Execute tries each active strategy in priority order until one yields an
// acceptable result. Every attempt is recorded in entityKey's history. When
// every strategy fails the result is tagged all_strategies_failed.
func (m *Manager) Execute(ctx context.Context, entityKey string, fc Context) Result {
	log := zap.L().With(zap.String("entity", entityKey))
	res := Result{}

	strategies := m.active()
	if len(strategies) == 0 {
		res.Err = ErrNoStrategies
		res.Record = failedRecord(fc.Entity)
		return res
	}

	for _, s := range strategies {
		if ctx.Err() != nil {
			res.Err = eris.Wrap(ctx.Err(), "fallback: cancelled")
			break
		}
		name := s.Name()
		res.Attempted = append(res.Attempted, name)

		rec, err := resilience.Execute(ctx, m.retry, "strategy:"+name, func(ctx context.Context) (model.RawSourceResult, error) {
			return s.Execute(ctx, fc)
		})
		if err == nil {
			err = m.validate(rec)
		}
		m.record(entityKey, name, rec.Confidence, err)

		if err != nil {
			log.Debug("fallback: strategy failed", zap.String("strategy", name), zap.Error(err))
			res.Err = err
			continue
		}

		if rec.Source == "" {
			rec.Source = name
		}
		log.Info("fallback: strategy succeeded",
			zap.String("strategy", name),
			zap.Float64("confidence", rec.Confidence),
		)
		res.Record = rec
		res.Strategy = name
		res.OK = true
		res.Err = nil
		return res
	}

	res.Record = failedRecord(fc.Entity)
	return res
}

func failedRecord(e model.Entity) model.RawSourceResult {
	return model.RawSourceResult{
		Name:    e.Name,
		Address: e.Address,
		Source:  model.SourceAllStrategiesFailed,
	}
}

// validate applies the acceptance rule: an identifying name and confidence
// above the floor.
func (m *Manager) validate(rec model.RawSourceResult) error {
	if strings.TrimSpace(rec.Name) == "" {
		return resilience.Permanent(eris.New("fallback: result has no name"))
	}
	if !(rec.Confidence > m.minConfidence) {
		return resilience.Permanent(eris.Errorf("fallback: confidence %.2f not above %.2f", rec.Confidence, m.minConfidence))
	}
	return nil
}

func (m *Manager) record(entityKey, strategy string, confidence float64, err error) {
	o := Outcome{Strategy: strategy, Success: err == nil, Confidence: confidence, At: m.nowFunc()}
	if err != nil {
		o.Error = err.Error()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.history[entityKey], o)
	if len(h) > HistoryLimit {
		h = h[len(h)-HistoryLimit:]
	}
	m.history[entityKey] = h
}

// History returns a copy of entityKey's outcomes, oldest first.
func (m *Manager) History(entityKey string) []Outcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Outcome(nil), m.history[entityKey]...)
}

// ratiosLocked returns attempts and successes per strategy across all entities.
func (m *Manager) ratiosLocked() (attempts, successes map[string]int) {
	attempts = make(map[string]int)
	successes = make(map[string]int)
	for _, h := range m.history {
		for _, o := range h {
			attempts[o.Strategy]++
			if o.Success {
				successes[o.Strategy]++
			}
		}
	}
	return attempts, successes
}

func ratio(attempts, successes int) float64 {
	if attempts == 0 {
		return neutralRatio
	}
	return float64(successes) / float64(attempts)
}

// ReorderBySuccess re-sorts strategies by historical success ratio,
// descending, and renumbers their priorities. Ties keep their prior order.
func (m *Manager) ReorderBySuccess() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempts, successes := m.ratiosLocked()
	sort.SliceStable(m.strategies, func(i, j int) bool {
		a, b := m.strategies[i].strategy.Name(), m.strategies[j].strategy.Name()
		return ratio(attempts[a], successes[a]) > ratio(attempts[b], successes[b])
	})

	order := make([]string, len(m.strategies))
	for i, r := range m.strategies {
		r.priority = i + 1
		order[i] = r.strategy.Name()
	}
	zap.L().Info("fallback: strategies reordered", zap.Strings("order", order))
	return order
}

// Strategies reports every registered strategy in priority order.
func (m *Manager) Strategies() []StrategyStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attempts, successes := m.ratiosLocked()
	out := make([]StrategyStatus, 0, len(m.strategies))
	for _, r := range m.strategies {
		name := r.strategy.Name()
		out = append(out, StrategyStatus{
			Name:      name,
			Priority:  r.priority,
			Enabled:   r.enabled,
			Available: r.strategy.Available(),
			Attempts:  attempts[name],
			Successes: successes[name],
			Ratio:     ratio(attempts[name], successes[name]),
		})
	}
	return out
}

// ResetHistory forgets every recorded outcome.
func (m *Manager) ResetHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = make(map[string][]Outcome)
}
