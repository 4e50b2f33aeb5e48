package httpserver

import (
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestConnectionLimits_AcquireRelease(t *testing.T) {
	limits := NewConnectionLimits(100, 10, 5.0, 5, clockwork.NewFakeClock())

	ok, reason := limits.Acquire("192.168.1.1")
	assert.True(t, ok)
	assert.Equal(t, LimitReason(""), reason)
	assert.Equal(t, int64(1), limits.Current())

	limits.Release("192.168.1.1")
	assert.Equal(t, int64(0), limits.Current())
	assert.Equal(t, 0, limits.perIP.count("192.168.1.1"))
}

func TestConnectionLimits_GlobalLimitExceeded(t *testing.T) {
	limits := NewConnectionLimits(2, 100, 100.0, 100, clockwork.NewFakeClock())

	ok1, _ := limits.Acquire("192.168.1.1")
	ok2, _ := limits.Acquire("192.168.1.2")
	assert.True(t, ok1)
	assert.True(t, ok2)

	ok3, reason := limits.Acquire("192.168.1.3")
	assert.False(t, ok3)
	assert.Equal(t, LimitReasonGlobal, reason)
	assert.Equal(t, http.StatusServiceUnavailable, reason.Status())
}

func TestConnectionLimits_PerIPLimitRollsBackGlobal(t *testing.T) {
	limits := NewConnectionLimits(100, 1, 100.0, 100, clockwork.NewFakeClock())

	ok1, _ := limits.Acquire("192.168.1.1")
	assert.True(t, ok1)

	ok2, reason := limits.Acquire("192.168.1.1")
	assert.False(t, ok2)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, http.StatusTooManyRequests, reason.Status())
	assert.Equal(t, int64(1), limits.Current(), "global slot rolled back")

	ok3, _ := limits.Acquire("192.168.1.2")
	assert.True(t, ok3, "other addresses are unaffected")
}

func TestConnectionLimits_RateRefillsWithClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := NewConnectionLimits(100, 100, 1.0, 2, clock)

	ok1, _ := limits.Acquire("10.0.0.1")
	ok2, _ := limits.Acquire("10.0.0.1")
	ok3, reason := limits.Acquire("10.0.0.1")
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
	assert.Equal(t, LimitReasonRate, reason)
	assert.Equal(t, int64(2), limits.Current(), "rate rejection takes no slot")

	ok4, _ := limits.Acquire("10.0.0.2")
	assert.True(t, ok4, "buckets are per address")

	clock.Advance(time.Second)
	ok5, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok5)
}

func TestConnectionLimits_IdleRateBucketsExpire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := NewConnectionLimits(100, 100, 10.0, 10, clock)

	limits.Acquire("10.0.0.1")
	limits.Acquire("10.0.0.2")
	assert.Equal(t, 2, limits.rate.tracked())

	clock.Advance(rateLimiterIdleExpiry + time.Minute)
	limits.Acquire("10.0.0.3")

	assert.Equal(t, 1, limits.rate.tracked())
}

func TestConnectionLimits_Concurrent(t *testing.T) {
	limits := NewConnectionLimits(50, 100, 1000.0, 1000, clockwork.NewFakeClock())

	var granted atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := limits.Acquire("192.168.1.1"); ok {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(50), granted.Load())
	assert.Equal(t, int64(50), limits.Current())
	assert.Equal(t, 50, limits.perIP.count("192.168.1.1"))
}
