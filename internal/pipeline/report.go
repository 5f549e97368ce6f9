package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/facility-cli/internal/batch"
	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/monitoring"
	"github.com/sells-group/facility-cli/internal/resilience"
)

// Status is the structured view of engine health served by the control API.
type Status struct {
	Running    bool                      `json:"running"`
	Adapters   []string                  `json:"adapters"`
	Monitor    *monitoring.Snapshot      `json:"monitor"`
	Batch      batch.Stats               `json:"batch"`
	Retry      resilience.RetryMetrics   `json:"retry"`
	Strategies []fallback.StrategyStatus `json:"strategies"`
	Circuits   map[string]string         `json:"circuits"`
}

// Status collects the current engine status.
func (e *Engine) Status() Status {
	circuits := make(map[string]string)
	for label, st := range e.retry.Breakers().States() {
		circuits[label] = st.String()
	}
	return Status{
		Running:    e.Running(),
		Adapters:   e.Adapters(),
		Monitor:    e.Snapshot(),
		Batch:      e.batches.Stats(),
		Retry:      e.retry.Metrics(),
		Strategies: e.Strategies(),
		Circuits:   circuits,
	}
}

// Report renders the engine status as human-readable text.
func (e *Engine) Report() string {
	return FormatReport(e.Status())
}

// FormatReport renders s as a plain-text report.
func FormatReport(s Status) string {
	var b strings.Builder

	b.WriteString("# Facility Reconciliation Report\n\n")
	if s.Monitor != nil {
		b.WriteString(s.Monitor.Report())
		b.WriteString("\n")
	}

	b.WriteString("## Batches\n")
	fmt.Fprintf(&b, "- Runs: %d (%d entities)\n", s.Batch.Runs, s.Batch.Entities)
	fmt.Fprintf(&b, "- Batches: %d total, %d ok, %d failed\n",
		s.Batch.TotalBatches, s.Batch.SuccessfulBatches, s.Batch.FailedBatches)
	fmt.Fprintf(&b, "- Current batch size: %d (failure streak %d/%d)\n",
		s.Batch.BatchSize, s.Batch.ConsecutiveFailures, s.Batch.MaxConsecutive)
	fmt.Fprintf(&b, "- Rolling success rate: %.0f%%\n", s.Batch.RollingSuccessRate*100)
	fmt.Fprintf(&b, "- Singleton retries: %d, fallback records: %d\n\n", s.Batch.Degraded, s.Batch.Fallbacks)

	b.WriteString("## Retries\n")
	fmt.Fprintf(&b, "- Attempts: %d (%d ok, %d failed)\n", s.Retry.Attempts, s.Retry.Successes, s.Retry.Failures)
	fmt.Fprintf(&b, "- Retries: %d, exhausted: %d\n", s.Retry.Retries, s.Retry.Exhausted)
	fmt.Fprintf(&b, "- Backoff: %s total, %s average\n\n", s.Retry.TotalDelay, s.Retry.AverageDelay)

	b.WriteString("## Fallback Strategies\n")
	if len(s.Strategies) == 0 {
		b.WriteString("None registered.\n")
	}
	for _, st := range s.Strategies {
		state := "enabled"
		switch {
		case !st.Enabled:
			state = "disabled"
		case !st.Available:
			state = "unavailable"
		}
		fmt.Fprintf(&b, "%d. %s [%s] %d/%d (%.0f%%)\n",
			st.Priority, st.Name, state, st.Successes, st.Attempts, st.Ratio*100)
	}
	b.WriteString("\n")

	b.WriteString("## Circuits\n")
	if len(s.Circuits) == 0 {
		b.WriteString("No circuits.\n")
	}
	labels := make([]string, 0, len(s.Circuits))
	for l := range s.Circuits {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Fprintf(&b, "- %s: %s\n", l, s.Circuits[l])
	}
	return b.String()
}
