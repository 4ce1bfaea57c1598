package credential

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/helyxium/trustcore/internal/util"
)

// Hasher runs PBKDF2 derivations on a bounded pool so concurrent logins
// cannot saturate every core.
type Hasher struct {
	iterations int
	sem        *semaphore.Weighted
}

// NewHasher returns a Hasher. Iteration counts below the PBKDF2 floor are
// raised to it; workers <= 0 means GOMAXPROCS.
func NewHasher(iterations, workers int) *Hasher {
	if iterations < util.PBKDF2MinIterations {
		iterations = util.PBKDF2MinIterations
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Hasher{iterations: iterations, sem: semaphore.NewWeighted(int64(workers))}
}

// Iterations returns the configured PBKDF2 iteration count.
func (h *Hasher) Iterations() int { return h.iterations }

// Derive computes the PBKDF2 key for password and salt. ctx is honored only
// while waiting for a worker slot; a derivation that has started always
// runs to completion.
func (h *Hasher) Derive(ctx context.Context, password string, salt []byte) ([]byte, error) {
	return h.deriveWith(ctx, password, salt, h.iterations)
}

func (h *Hasher) deriveWith(ctx context.Context, password string, salt []byte, iterations int) ([]byte, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)
	return util.PBKDF2SHA256(password, salt, iterations)
}
