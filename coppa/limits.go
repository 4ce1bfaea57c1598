package coppa

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/helyxium/trustcore/storage"
	"github.com/helyxium/trustcore/trusterr"
)

// mutateChild applies fn to a copy of the child profile under the child's
// lock. When fn reports a change the copy is persisted, then published.
func (e *Engine) mutateChild(userID string, fn func(p *ChildProfile, now time.Time) (bool, error)) (*ChildProfile, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	current, version, err := e.childOrNotFound(userID)
	if err != nil {
		return nil, err
	}
	next := current.clone()
	changed, err := fn(next, e.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return next, nil
	}

	env, err := storage.PlainRecord(next, version+1)
	if err != nil {
		return nil, err
	}
	if err := e.repo.PutCAS(Namespace, ChildRecordType, userID, version, env); err != nil {
		return nil, trusterr.Persistence("updating child profile", err)
	}

	e.mu.Lock()
	e.children[userID] = &childEntry{profile: next, version: version + 1}
	e.mu.Unlock()
	return next.clone(), nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// rollover resets the daily counter when now falls on a later UTC day than
// the last recorded activity.
func rollover(p *ChildProfile, now time.Time) bool {
	if !p.LastActivity.IsZero() && sameUTCDay(p.LastActivity, now) {
		return false
	}
	p.TotalSessionTimeToday = 0
	p.LastActivity = now
	return true
}

func statusFor(p *ChildProfile) SessionLimitStatus {
	remaining := max(p.SessionTimeLimits.DailyLimit-p.TotalSessionTimeToday, 0)
	return SessionLimitStatus{
		IsChild:               true,
		DailyLimit:            p.SessionTimeLimits.DailyLimit,
		SessionLimit:          p.SessionTimeLimits.SessionLimit,
		BreakInterval:         p.SessionTimeLimits.BreakInterval,
		TimeUsedToday:         p.TotalSessionTimeToday,
		RemainingDaily:        remaining,
		CanStartSession:       remaining > 0,
		BreakRemindersEnabled: p.BreakRemindersEnabled,
	}
}

func unrestricted() SessionLimitStatus {
	return SessionLimitStatus{CanStartSession: true}
}

// CheckSessionLimits reports the child's remaining play time for the current
// UTC day. A day rollover resets the counter and is persisted. Users without
// a child profile are unrestricted.
func (e *Engine) CheckSessionLimits(ctx context.Context, userID string) (SessionLimitStatus, error) {
	if !e.IsChildUser(userID) {
		return unrestricted(), nil
	}
	p, err := e.mutateChild(userID, func(p *ChildProfile, now time.Time) (bool, error) {
		return rollover(p, now), nil
	})
	if err != nil {
		return SessionLimitStatus{}, err
	}
	return statusFor(p), nil
}

// RecordSessionTime adds minutes of play to today's total.
func (e *Engine) RecordSessionTime(ctx context.Context, userID string, minutes int) (SessionLimitStatus, error) {
	if minutes <= 0 {
		return SessionLimitStatus{}, trusterr.Validationf("minutes must be positive")
	}
	if !e.IsChildUser(userID) {
		return unrestricted(), nil
	}
	p, err := e.mutateChild(userID, func(p *ChildProfile, now time.Time) (bool, error) {
		rollover(p, now)
		p.TotalSessionTimeToday += minutes
		p.LastActivity = now
		return true, nil
	})
	if err != nil {
		return SessionLimitStatus{}, err
	}
	status := statusFor(p)
	if !status.CanStartSession {
		e.logger.InfoContext(ctx, "daily limit reached", "user_id", userID, "used", status.TimeUsedToday)
	}
	return status, nil
}

// UpdateParentalSettings merges the non-nil fields of s onto the child's
// current settings. The merged time limits must still be valid.
func (e *Engine) UpdateParentalSettings(ctx context.Context, userID string, s ParentalSettings) (*ChildProfile, error) {
	var filters []string
	if s.ContentFilters != nil {
		filters = make([]string, 0, len(s.ContentFilters))
		for _, f := range s.ContentFilters {
			f = strings.TrimSpace(f)
			if f == "" {
				return nil, trusterr.Validationf("content filter must not be empty")
			}
			filters = append(filters, f)
		}
	}

	p, err := e.mutateChild(userID, func(p *ChildProfile, _ time.Time) (bool, error) {
		changed := s.SessionTimeLimits.applyTo(&p.SessionTimeLimits)
		if err := p.SessionTimeLimits.validate(); err != nil {
			return false, err
		}
		if filters != nil && !slices.Equal(p.ContentFilters, filters) {
			p.ContentFilters = filters
			changed = true
		}
		changed = s.SocialRestrictions.applyTo(&p.SocialRestrictions) || changed
		changed = setIfChanged(&p.BreakRemindersEnabled, s.BreakRemindersEnabled) || changed
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "parental settings updated", "user_id", userID)
	return p, nil
}
