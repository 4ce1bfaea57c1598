// Package core wires the trust components together from a Config and owns
// their lifecycle.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/auth"
	"github.com/helyxium/trustcore/config"
	"github.com/helyxium/trustcore/coppa"
	"github.com/helyxium/trustcore/credential"
	"github.com/helyxium/trustcore/custodian"
	"github.com/helyxium/trustcore/internal/clock"
	"github.com/helyxium/trustcore/session"
	"github.com/helyxium/trustcore/storage/bbolt"
)

// Core holds the opened trust components. Close must be called to flush
// the database and destroy key material.
type Core struct {
	Config    *config.Config
	Custodian *custodian.Custodian
	Store     *bbolt.Store
	Accounts  *account.Store
	Sessions  *session.Manager
	Coppa     *coppa.Engine
	Auth      *auth.Manager

	logger    *slog.Logger
	stop      context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Option configures Open.
type Option func(*options)

type options struct {
	clock    clock.Clock
	notifier coppa.Notifier
	sweeper  bool
}

// WithClock injects a time source into every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithNotifier replaces the log-only consent notifier.
func WithNotifier(n coppa.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithoutSweeper disables the background consent sweep, for one-shot CLI
// commands.
func WithoutSweeper() Option {
	return func(o *options) { o.sweeper = false }
}

// NewLogger returns the JSON logger used by every component.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Open loads or creates key material under cfg.KeyDir, opens the database
// at cfg.DatabasePath and builds the components on top of them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Core, error) {
	o := options{clock: clock.Real(), sweeper: true}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = NewLogger(io.Discard, slog.LevelInfo)
	}

	policy, err := custodian.ParseCorruptKeyPolicy(cfg.Security.CorruptKeyPolicy)
	if err != nil {
		return nil, err
	}
	cust, err := custodian.Open(cfg.KeyDir(), custodian.WithLogger(logger), custodian.WithCorruptKeyPolicy(policy))
	if err != nil {
		return nil, fmt.Errorf("opening key custodian: %w", err)
	}

	store, err := bbolt.NewRepositoryFromFile(cfg.DatabasePath(), nil)
	if err != nil {
		cust.Close()
		return nil, err
	}
	fail := func(err error) (*Core, error) {
		store.Close()
		cust.Close()
		return nil, err
	}

	accounts, err := account.Load(store)
	if err != nil {
		return fail(fmt.Errorf("loading accounts: %w", err))
	}
	coppaOpts := []coppa.Option{
		coppa.WithClock(o.clock),
		coppa.WithLogger(logger),
		coppa.WithConsentTTL(cfg.Coppa.ConsentTTL.Duration),
		coppa.WithDefaultLimits(coppa.SessionTimeLimits{
			DailyLimit:    cfg.Coppa.DailyLimit,
			SessionLimit:  cfg.Coppa.SessionLimit,
			BreakInterval: cfg.Coppa.BreakInterval,
		}),
	}
	if o.notifier != nil {
		coppaOpts = append(coppaOpts, coppa.WithNotifier(o.notifier))
	}
	engine, err := coppa.Load(store, coppaOpts...)
	if err != nil {
		return fail(fmt.Errorf("loading coppa records: %w", err))
	}

	sessions := session.NewManager(
		session.WithTTL(cfg.Security.SessionTTL.Duration),
		session.WithClock(o.clock),
	)
	hasher := credential.NewHasher(cfg.Security.PBKDF2Iterations, cfg.Security.HashWorkers)
	manager := auth.New(auth.Deps{
		Repo:        store,
		Sealer:      cust,
		Accounts:    accounts,
		Credentials: credential.NewStore(store, cust, hasher),
		Sessions:    sessions,
		Coppa:       engine,
	},
		auth.WithClock(o.clock),
		auth.WithLogger(logger),
		auth.WithIssuer(cfg.Security.TOTPIssuer),
		auth.WithChallengeTTL(cfg.Security.MFAChallengeTTL.Duration),
		auth.WithGuard(account.Guard{
			MaxFailedAttempts: cfg.Security.MaxFailedAttempts,
			LockoutDuration:   cfg.Security.LockoutDuration.Duration,
		}),
	)

	c := &Core{
		Config:    cfg,
		Custodian: cust,
		Store:     store,
		Accounts:  accounts,
		Sessions:  sessions,
		Coppa:     engine,
		Auth:      manager,
		logger:    logger.With("component", "core"),
	}

	sweepCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	c.stop = stop
	if o.sweeper {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			engine.RunConsentSweeper(sweepCtx, cfg.Coppa.SweepInterval.Duration)
		}()
	}

	c.logger.InfoContext(ctx, "trust core opened", "data_dir", cfg.DataDir, "users", accounts.Len())
	return c, nil
}

// Close stops background work, flushes and closes the database, then
// destroys in-memory key material. It is safe to call more than once.
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		c.stop()
		c.wg.Wait()
		c.closeErr = errors.Join(c.Store.Close(), c.Custodian.Close())
	})
	return c.closeErr
}
