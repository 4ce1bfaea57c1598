package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/helyxium/trustcore/internal/clock"
)

// ipRateLimiter backs off a client address that keeps failing logins,
// independently of per-account lockout. Unknown identifiers never reach
// the account guard, so without it they could be guessed at full speed.
type ipRateLimiter struct {
	clock clock.Clock

	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	ipMaxFailures = 20
	ipBaseLockout = time.Minute
	ipMaxLockout  = 30 * time.Minute
	attemptExpiry = time.Hour
)

func newIPRateLimiter(c clock.Clock) *ipRateLimiter {
	return &ipRateLimiter{clock: c, attempts: make(map[string]*attemptRecord)}
}

func (rl *ipRateLimiter) check(ip string) (bool, time.Duration) {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		return false, 0
	}
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, ip)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *ipRateLimiter) recordFailure(ip string) {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[ip] = rec
	}
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= ipMaxFailures {
		lockout := ipBaseLockout
		for i := 0; i < rec.failures-ipMaxFailures; i++ {
			lockout *= 2
			if lockout >= ipMaxLockout {
				lockout = ipMaxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (rl *ipRateLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
