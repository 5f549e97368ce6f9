package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/config"
)

// SnapshotFunc supplies the current health snapshot.
type SnapshotFunc func() *Snapshot

// Checker evaluates snapshots on an interval and forwards new alerts to the
// Alerter. An alert that keeps firing is resent only after the repeat window;
// once it clears it may fire again immediately.
type Checker struct {
	snapshot SnapshotFunc
	alerter  *Alerter
	interval time.Duration
	repeat   time.Duration
	now      func() time.Time

	mu     sync.Mutex
	active map[string]time.Time // alert key -> last sent
}

// NewChecker creates a background alert checker.
func NewChecker(snapshot SnapshotFunc, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	repeat := time.Duration(cfg.RepeatAfterSecs) * time.Second
	if repeat <= 0 {
		repeat = 15 * time.Minute
	}
	return &Checker{
		snapshot: snapshot,
		alerter:  alerter,
		interval: interval,
		repeat:   repeat,
		now:      time.Now,
		active:   make(map[string]time.Time),
	}
}

// Run checks every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("alert checker started",
		zap.Duration("interval", c.interval),
		zap.Duration("repeat_after", c.repeat),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check evaluates one snapshot and returns how many alerts were dispatched.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap := c.snapshot()
	if snap == nil {
		return 0
	}

	due := c.filter(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, due)
	log.Info("monitoring: alerts dispatched",
		zap.Int("due", len(due)),
		zap.Int("sent", sent),
	)
	return len(due)
}

// filter drops alerts sent within the repeat window and forgets alerts that
// are no longer firing.
func (c *Checker) filter(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	firing := make(map[string]bool, len(alerts))
	var due []Alert
	for _, a := range alerts {
		k := alertKey(a)
		firing[k] = true
		if last, ok := c.active[k]; ok && now.Sub(last) < c.repeat {
			continue
		}
		c.active[k] = now
		due = append(due, a)
	}
	for k := range c.active {
		if !firing[k] {
			delete(c.active, k)
		}
	}
	return due
}

func alertKey(a Alert) string {
	if label, ok := a.Details["label"].(string); ok {
		return string(a.Type) + ":" + label
	}
	return string(a.Type)
}
