package scrape

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostLimiter_RampsAfterStreak(t *testing.T) {
	lim := NewHostLimiter("irongym.kr", 10, 1)

	for range rampEvery - 1 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 10.0, float64(lim.Limit()), 0.001, "no change before a full streak")

	lim.OnSuccess()
	assert.InDelta(t, 11.0, float64(lim.Limit()), 0.001)

	for range rampEvery {
		lim.OnSuccess()
	}
	assert.InDelta(t, 12.0, float64(lim.Limit()), 0.001)
}

func TestHostLimiter_ThrottleHalvesAndResetsStreak(t *testing.T) {
	lim := NewHostLimiter("irongym.kr", 10, 1)

	for range rampEvery - 1 {
		lim.OnSuccess()
	}
	lim.OnRateLimit()
	assert.InDelta(t, 5.0, float64(lim.Limit()), 0.001)

	lim.OnSuccess()
	assert.InDelta(t, 5.0, float64(lim.Limit()), 0.001, "streak restarted")
}

func TestHostLimiter_Bounds(t *testing.T) {
	lim := NewHostLimiter("irongym.kr", 8, 1)
	for range 100 * rampEvery {
		lim.OnSuccess()
	}
	assert.InDelta(t, 12.0, float64(lim.Limit()), 0.001)

	for range 20 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 1.0, float64(lim.Limit()), 0.001)
}

func TestHostLimiter_Wait_ContextCancelled(t *testing.T) {
	lim := NewHostLimiter("irongym.kr", 0.001, 1)
	assert.NoError(t, lim.Wait(context.Background()), "first token is free")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, lim.Wait(ctx))
}

func TestHostLimiters_SharedPerHost(t *testing.T) {
	h := newHostLimiters(0, 0)
	a := h.get("Naver.com")
	assert.Same(t, a, h.get("www.naver.com"))
	assert.NotSame(t, a, h.get("m.naver.com"))
	assert.InDelta(t, 1.0, float64(a.Limit()), 0.001)
}

func TestHostKey(t *testing.T) {
	assert.Equal(t, "naver.com", hostKey("WWW.Naver.com"))
	assert.Equal(t, "127.0.0.1:8080", hostKey("127.0.0.1:8080"))
}
