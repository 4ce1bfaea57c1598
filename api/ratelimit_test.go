package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helyxium/trustcore/internal/clock"
)

var limiterEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestIPRateLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl := newIPRateLimiter(clock.Fake(limiterEpoch))

	for i := 0; i < ipMaxFailures-1; i++ {
		rl.recordFailure("192.168.1.1")
		blocked, _ := rl.check("192.168.1.1")
		assert.False(t, blocked, "should not block before ipMaxFailures")
	}
}

func TestIPRateLimiter_BlocksAfterThreshold(t *testing.T) {
	rl := newIPRateLimiter(clock.Fake(limiterEpoch))

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.168.1.1")
	}

	blocked, retryAfter := rl.check("192.168.1.1")
	require.True(t, blocked)
	assert.Equal(t, ipBaseLockout, retryAfter)
}

func TestIPRateLimiter_ExponentialBackoff(t *testing.T) {
	rl := newIPRateLimiter(clock.Fake(limiterEpoch))

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.168.1.1")
	}
	_, first := rl.check("192.168.1.1")

	rl.recordFailure("192.168.1.1")
	_, second := rl.check("192.168.1.1")
	assert.Equal(t, 2*first, second)
}

func TestIPRateLimiter_LockoutElapses(t *testing.T) {
	fc := clock.Fake(limiterEpoch)
	rl := newIPRateLimiter(fc)

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.168.1.1")
	}
	fc.Advance(ipBaseLockout - time.Second)
	blocked, _ := rl.check("192.168.1.1")
	require.True(t, blocked)

	fc.Advance(2 * time.Second)
	blocked, _ = rl.check("192.168.1.1")
	assert.False(t, blocked)
}

func TestIPRateLimiter_IsolatesIPs(t *testing.T) {
	rl := newIPRateLimiter(clock.Fake(limiterEpoch))

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.168.1.1")
	}
	blocked, _ := rl.check("192.168.1.1")
	require.True(t, blocked)

	blocked, _ = rl.check("10.0.0.1")
	assert.False(t, blocked, "different IP should not be blocked")
}

func TestIPRateLimiter_SuccessClears(t *testing.T) {
	rl := newIPRateLimiter(clock.Fake(limiterEpoch))

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.168.1.1")
	}
	rl.recordSuccess("192.168.1.1")
	blocked, _ := rl.check("192.168.1.1")
	assert.False(t, blocked)
}

func TestIPRateLimiter_StaleRecordExpires(t *testing.T) {
	fc := clock.Fake(limiterEpoch)
	rl := newIPRateLimiter(fc)

	for i := 0; i < ipMaxFailures-1; i++ {
		rl.recordFailure("192.168.1.1")
	}
	fc.Advance(attemptExpiry + time.Minute)
	blocked, _ := rl.check("192.168.1.1")
	assert.False(t, blocked)

	rl.mu.Lock()
	_, tracked := rl.attempts["192.168.1.1"]
	rl.mu.Unlock()
	assert.False(t, tracked, "expired record should be dropped")
}

func TestIPRateLimiter_MaxLockoutCap(t *testing.T) {
	rl := newIPRateLimiter(clock.Fake(limiterEpoch))

	for i := 0; i < ipMaxFailures+20; i++ {
		rl.recordFailure("192.168.1.1")
	}

	_, retryAfter := rl.check("192.168.1.1")
	assert.Equal(t, ipMaxLockout, retryAfter)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"127.0.0.1:51234", "127.0.0.1"},
		{"[::1]:8722", "::1"},
		{"unix", "unix"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("POST", "/auth/login", nil)
		r.RemoteAddr = tt.remote
		assert.Equal(t, tt.want, clientIP(r), tt.remote)
	}
}

func TestWriteRetryAfterRoundsUp(t *testing.T) {
	w := httptest.NewRecorder()
	writeRetryAfter(w, 200*time.Millisecond)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	writeRetryAfter(w, 90*time.Second)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))
}
