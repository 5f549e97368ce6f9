package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Counters accumulates attempts and timing for one label or the whole session.
type Counters struct {
	Attempts       int64         `json:"attempts"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	WaitTime       time.Duration `json:"wait_time"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// SuccessRate is successes over attempts, or 0 with no attempts.
func (c Counters) SuccessRate() float64 {
	if c.Attempts == 0 {
		return 0
	}
	return float64(c.Successes) / float64(c.Attempts)
}

// Efficiency is the share of elapsed time spent working rather than waiting.
func (c Counters) Efficiency() float64 {
	total := c.ProcessingTime + c.WaitTime
	if total <= 0 {
		return 0
	}
	return float64(c.ProcessingTime) / float64(total)
}

// Snapshot is a point-in-time copy of the monitor plus whatever health state
// the owner attaches before evaluating alerts.
type Snapshot struct {
	Counters
	SuccessRate float64             `json:"success_rate"`
	Efficiency  float64             `json:"efficiency"`
	Uptime      time.Duration       `json:"uptime"`
	Labels      map[string]Counters `json:"labels"`

	// Filled by the engine, not the monitor.
	OpenCircuits     []string `json:"open_circuits,omitempty"`
	RetriesExhausted int64    `json:"retries_exhausted,omitempty"`
}

// Monitor records attempts, successes, wait time, and processing time per
// label. It never influences control flow.
type Monitor struct {
	mu      sync.Mutex
	started time.Time
	total   Counters
	labels  map[string]*Counters
	nowFunc func() time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		started: time.Now(),
		labels:  make(map[string]*Counters),
		nowFunc: time.Now,
	}
}

func (m *Monitor) label(name string) *Counters {
	c, ok := m.labels[name]
	if !ok {
		c = &Counters{}
		m.labels[name] = c
	}
	return c
}

// RecordAttempt counts one attempt for label.
func (m *Monitor) RecordAttempt(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total.Attempts++
	m.label(label).Attempts++
}

// RecordSuccess counts a success and the time it took.
func (m *Monitor) RecordSuccess(label string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total.Successes++
	m.total.ProcessingTime += elapsed
	c := m.label(label)
	c.Successes++
	c.ProcessingTime += elapsed
}

// RecordFailure counts a failure and the time it took.
func (m *Monitor) RecordFailure(label string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total.Failures++
	m.total.ProcessingTime += elapsed
	c := m.label(label)
	c.Failures++
	c.ProcessingTime += elapsed
}

// RecordWait adds time spent in a pacing or backoff sleep.
func (m *Monitor) RecordWait(label string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total.WaitTime += d
	m.label(label).WaitTime += d
}

// Observe records an attempt that started at start and ended with err.
func (m *Monitor) Observe(label string, start time.Time, err error) {
	m.RecordAttempt(label)
	elapsed := m.nowFunc().Sub(start)
	if err != nil {
		m.RecordFailure(label, elapsed)
		return
	}
	m.RecordSuccess(label, elapsed)
}

// Snapshot copies the current counters.
func (m *Monitor) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	labels := make(map[string]Counters, len(m.labels))
	for k, c := range m.labels {
		labels[k] = *c
	}
	return &Snapshot{
		Counters:    m.total,
		SuccessRate: m.total.SuccessRate(),
		Efficiency:  m.total.Efficiency(),
		Uptime:      m.nowFunc().Sub(m.started),
		Labels:      labels,
	}
}

// Reset zeroes every counter.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = Counters{}
	m.labels = make(map[string]*Counters)
	m.started = m.nowFunc()
}

// Report renders the snapshot as aligned text, labels sorted by name.
func (s *Snapshot) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime:        %s\n", s.Uptime.Round(time.Second))
	fmt.Fprintf(&b, "attempts:      %d (ok %d, failed %d)\n", s.Attempts, s.Successes, s.Failures)
	fmt.Fprintf(&b, "success rate:  %.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(&b, "processing:    %s\n", s.ProcessingTime.Round(time.Millisecond))
	fmt.Fprintf(&b, "waiting:       %s\n", s.WaitTime.Round(time.Millisecond))
	fmt.Fprintf(&b, "efficiency:    %.1f%%\n", s.Efficiency*100)
	if s.RetriesExhausted > 0 {
		fmt.Fprintf(&b, "exhausted:     %d\n", s.RetriesExhausted)
	}
	if len(s.OpenCircuits) > 0 {
		fmt.Fprintf(&b, "open circuits: %s\n", strings.Join(s.OpenCircuits, ", "))
	}

	names := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		c := s.Labels[k]
		fmt.Fprintf(&b, "  %-24s attempts=%d ok=%d failed=%d rate=%.1f%% wait=%s\n",
			k, c.Attempts, c.Successes, c.Failures, c.SuccessRate()*100, c.WaitTime.Round(time.Millisecond))
	}
	return b.String()
}
