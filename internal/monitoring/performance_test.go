package monitoring

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Counts(t *testing.T) {
	m := NewMonitor()

	m.RecordAttempt("web_search")
	m.RecordSuccess("web_search", 300*time.Millisecond)
	m.RecordAttempt("web_search")
	m.RecordFailure("web_search", 100*time.Millisecond)
	m.RecordAttempt("jina_search")
	m.RecordSuccess("jina_search", 600*time.Millisecond)
	m.RecordWait("web_search", time.Second)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Attempts)
	assert.Equal(t, int64(2), snap.Successes)
	assert.Equal(t, int64(1), snap.Failures)
	assert.Equal(t, time.Second, snap.ProcessingTime)
	assert.Equal(t, time.Second, snap.WaitTime)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 0.001)
	assert.InDelta(t, 0.5, snap.Efficiency, 0.001)

	require.Contains(t, snap.Labels, "web_search")
	ws := snap.Labels["web_search"]
	assert.Equal(t, int64(2), ws.Attempts)
	assert.InDelta(t, 0.5, ws.SuccessRate(), 0.001)
	assert.Equal(t, time.Second, ws.WaitTime)
}

func TestMonitor_RecordWaitIgnoresNonPositive(t *testing.T) {
	m := NewMonitor()
	m.RecordWait("x", 0)
	m.RecordWait("x", -time.Second)
	snap := m.Snapshot()
	assert.Zero(t, snap.WaitTime)
	assert.Empty(t, snap.Labels)
}

func TestMonitor_Observe(t *testing.T) {
	m := NewMonitor()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return base.Add(2 * time.Second) }

	m.Observe("batch", base, nil)
	m.Observe("batch", base, errors.New("boom"))

	c := m.Snapshot().Labels["batch"]
	assert.Equal(t, int64(2), c.Attempts)
	assert.Equal(t, int64(1), c.Successes)
	assert.Equal(t, int64(1), c.Failures)
	assert.Equal(t, 4*time.Second, c.ProcessingTime)
}

func TestMonitor_SnapshotIsCopy(t *testing.T) {
	m := NewMonitor()
	m.RecordAttempt("a")
	snap := m.Snapshot()
	m.RecordAttempt("a")
	assert.Equal(t, int64(1), snap.Labels["a"].Attempts)
}

func TestMonitor_Reset(t *testing.T) {
	m := NewMonitor()
	m.RecordAttempt("a")
	m.RecordSuccess("a", time.Second)
	m.Reset()

	snap := m.Snapshot()
	assert.Zero(t, snap.Attempts)
	assert.Empty(t, snap.Labels)
	assert.Zero(t, snap.SuccessRate)
	assert.Zero(t, snap.Efficiency)
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordAttempt("a")
			m.RecordSuccess("a", time.Millisecond)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), m.Snapshot().Successes)
}

func TestSnapshot_Report(t *testing.T) {
	m := NewMonitor()
	m.RecordAttempt("web_search")
	m.RecordSuccess("web_search", time.Second)
	m.RecordAttempt("adapter:jina")
	m.RecordFailure("adapter:jina", time.Second)

	snap := m.Snapshot()
	snap.OpenCircuits = []string{"adapter:jina"}
	snap.RetriesExhausted = 2

	out := snap.Report()
	assert.Contains(t, out, "attempts:      2 (ok 1, failed 1)")
	assert.Contains(t, out, "success rate:  50.0%")
	assert.Contains(t, out, "open circuits: adapter:jina")
	assert.Contains(t, out, "exhausted:     2")
	assert.Less(t, strings.Index(out, "adapter:jina  "), strings.Index(out, "web_search"))
}
