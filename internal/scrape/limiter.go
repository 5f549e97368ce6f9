package scrape

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Pacing constants, relative to the configured per-host rate.
const (
	rampEvery   = 5   // consecutive successes per increase
	rampStep    = 0.1 // share of the base rate added per increase
	ceilingMult = 1.5 // never exceed base*ceilingMult
	floorMult   = 0.125
)

// HostLimiter paces requests to one host. It backs off multiplicatively on
// throttling and recovers additively after runs of successes.
type HostLimiter struct {
	host    string
	limiter *rate.Limiter

	mu     sync.Mutex
	base   rate.Limit
	cur    rate.Limit
	streak int
}

// NewHostLimiter creates a limiter for host starting at base events/sec.
func NewHostLimiter(host string, base rate.Limit, burst int) *HostLimiter {
	return &HostLimiter{
		host:    host,
		limiter: rate.NewLimiter(base, burst),
		base:    base,
		cur:     base,
	}
}

// Wait blocks until a request may be sent.
func (l *HostLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// OnSuccess records a clean response, raising the rate by one step after
// every rampEvery in a row.
func (l *HostLimiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.streak++
	if l.streak < rampEvery {
		return
	}
	l.streak = 0
	l.set(min(l.cur+l.base*rampStep, l.base*ceilingMult))
}

// OnRateLimit halves the rate after a 429, 403, or detected block.
func (l *HostLimiter) OnRateLimit() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.streak = 0
	l.set(max(l.cur/2, l.base*floorMult))
	zap.L().Warn("scrape: host throttled, slowing down",
		zap.String("host", l.host),
		zap.Float64("rate", float64(l.cur)),
	)
}

func (l *HostLimiter) set(r rate.Limit) {
	l.cur = r
	l.limiter.SetLimit(r)
}

// Limit returns the current rate.
func (l *HostLimiter) Limit() rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// hostLimiters lazily creates one HostLimiter per normalized host.
type hostLimiters struct {
	mu    sync.Mutex
	rate  rate.Limit
	burst int
	hosts map[string]*HostLimiter
}

func newHostLimiters(perSecond float64, burst int) *hostLimiters {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &hostLimiters{
		rate:  rate.Limit(perSecond),
		burst: max(burst, 1),
		hosts: make(map[string]*HostLimiter),
	}
}

// hostKey folds case and a leading "www." so both spellings share a budget.
func hostKey(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

func (h *hostLimiters) get(host string) *HostLimiter {
	key := hostKey(host)
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.hosts[key]
	if !ok {
		lim = NewHostLimiter(key, h.rate, h.burst)
		h.hosts[key] = lim
	}
	return lim
}
