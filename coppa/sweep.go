package coppa

import (
	"context"
	"errors"
	"time"

	"github.com/helyxium/trustcore/storage"
	"github.com/helyxium/trustcore/trusterr"
)

// DefaultSweepInterval is how often RunConsentSweeper runs when no interval
// is given.
const DefaultSweepInterval = time.Hour

// CleanupExpiredConsents deletes unverified consents past their expiry and
// returns how many were removed. Verified consents are never removed.
func (e *Engine) CleanupExpiredConsents(ctx context.Context) (int, error) {
	now := e.clock.Now().UTC()

	expired := make(map[string][]string)
	e.mu.RLock()
	for id, c := range e.consents {
		if !c.Verified && c.ExpiredAt(now) {
			expired[c.ChildUserID] = append(expired[c.ChildUserID], id)
		}
	}
	e.mu.RUnlock()

	removed := 0
	var errs []error
	for childID, ids := range expired {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := e.sweepChild(childID, ids)
		removed += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if removed > 0 {
		e.logger.InfoContext(ctx, "expired consents removed", "count", removed)
	}
	return removed, errors.Join(errs...)
}

func (e *Engine) sweepChild(childID string, ids []string) (int, error) {
	unlock := e.locks.Lock(childID)
	defer unlock()

	now := e.clock.Now().UTC()
	var doomed []*ParentalConsent
	e.mu.RLock()
	for _, id := range ids {
		if c, ok := e.consents[id]; ok && !c.Verified && c.ExpiredAt(now) {
			doomed = append(doomed, c.clone())
		}
	}
	e.mu.RUnlock()
	if len(doomed) == 0 {
		return 0, nil
	}

	child, version, hasChild := e.snapshotChild(childID)
	var next *ChildProfile
	if hasChild {
		for _, c := range doomed {
			if child.ConsentID == c.ID {
				next = child.clone()
				next.ConsentID = ""
			}
		}
	}
	var childEnv *storage.Envelope
	if next != nil {
		env, err := storage.PlainRecord(next, version+1)
		if err != nil {
			return 0, err
		}
		childEnv = env
	}

	err := e.repo.Batch(Namespace, func(tx storage.BatchTx) error {
		for _, c := range doomed {
			if err := deleteIfPresent(tx, ConsentRecordType, c.ID); err != nil {
				return err
			}
		}
		if childEnv != nil {
			return tx.PutCAS(ChildRecordType, childID, version, childEnv)
		}
		return nil
	})
	if err != nil {
		return 0, trusterr.Persistence("removing expired consents", err)
	}

	e.mu.Lock()
	for _, c := range doomed {
		delete(e.consents, c.ID)
		delete(e.byToken, c.TokenHash)
	}
	if next != nil {
		e.children[childID] = &childEntry{profile: next, version: version + 1}
	}
	e.mu.Unlock()
	return len(doomed), nil
}

// RunConsentSweeper calls CleanupExpiredConsents immediately and then every
// interval until ctx is cancelled. It blocks; run it in its own goroutine.
func (e *Engine) RunConsentSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	sweep := func() {
		if _, err := e.CleanupExpiredConsents(ctx); err != nil && ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "consent sweep failed", "error", err)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
