package account

import "time"

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 300 * time.Second
)

// Guard applies the lockout policy to a profile. It holds no state of its
// own; callers persist the profile after every transition.
type Guard struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// DefaultGuard locks for 300s after 5 consecutive failures.
func DefaultGuard() Guard {
	return Guard{MaxFailedAttempts: DefaultMaxFailedAttempts, LockoutDuration: DefaultLockoutDuration}
}

// Locked reports whether p is locked at now.
func (g Guard) Locked(p *UserProfile, now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// ExpireLock clears an elapsed lock and resets the failure counter. It
// reports whether p changed.
func (g Guard) ExpireLock(p *UserProfile, now time.Time) bool {
	if p.LockedUntil == nil || now.Before(*p.LockedUntil) {
		return false
	}
	p.LockedUntil = nil
	p.FailedAttempts = 0
	return true
}

// RecordFailure counts a failed verification and locks p once the
// threshold is reached. It reports whether p is now locked.
func (g Guard) RecordFailure(p *UserProfile, now time.Time) bool {
	p.FailedAttempts++
	if p.FailedAttempts >= g.MaxFailedAttempts {
		until := now.Add(g.LockoutDuration).UTC()
		p.LockedUntil = &until
		return true
	}
	return false
}

// RecordSuccess resets the failure state and stamps the login time.
func (g Guard) RecordSuccess(p *UserProfile, now time.Time) {
	p.FailedAttempts = 0
	p.LockedUntil = nil
	login := now.UTC()
	p.LastLogin = &login
}
