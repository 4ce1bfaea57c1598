// Package auth composes the credential store, the lockout guard, the
// session table and the COPPA engine into the operations the application
// calls: registration, login with optional second factor, password and MFA
// management, and the child-safety workflow.
package auth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/coppa"
	"github.com/helyxium/trustcore/credential"
	"github.com/helyxium/trustcore/internal/clock"
	"github.com/helyxium/trustcore/internal/uuid"
	"github.com/helyxium/trustcore/session"
	"github.com/helyxium/trustcore/storage"
	"github.com/helyxium/trustcore/trusterr"
)

// DefaultIssuer labels TOTP enrollments in authenticator apps.
const DefaultIssuer = "Helyxium"

// Deps are the components a Manager orchestrates. All are required.
type Deps struct {
	Repo        storage.Repository
	Sealer      credential.Sealer
	Accounts    *account.Store
	Credentials *credential.Store
	Sessions    *session.Manager
	Coppa       *coppa.Engine
}

// Manager is the authentication orchestrator. It is safe for concurrent use.
type Manager struct {
	repo        storage.Repository
	sealer      credential.Sealer
	accounts    *account.Store
	credentials *credential.Store
	sessions    *session.Manager
	coppa       *coppa.Engine

	guard      account.Guard
	clock      clock.Clock
	logger     *slog.Logger
	audit      *auditLogger
	issuer     string
	challenges *challengeStore
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithGuard replaces the default 5 attempts / 300s lockout policy.
func WithGuard(g account.Guard) Option {
	return func(m *Manager) {
		if g.MaxFailedAttempts > 0 && g.LockoutDuration > 0 {
			m.guard = g
		}
	}
}

// WithIssuer sets the TOTP issuer label.
func WithIssuer(issuer string) Option {
	return func(m *Manager) {
		if issuer != "" {
			m.issuer = issuer
		}
	}
}

// WithChallengeTTL sets how long an MFA challenge stays open.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.challenges.ttl = ttl
		}
	}
}

func New(deps Deps, opts ...Option) *Manager {
	m := &Manager{
		repo:        deps.Repo,
		sealer:      deps.Sealer,
		accounts:    deps.Accounts,
		credentials: deps.Credentials,
		sessions:    deps.Sessions,
		coppa:       deps.Coppa,
		guard:       account.DefaultGuard(),
		clock:       clock.Real(),
		issuer:      DefaultIssuer,
		challenges:  newChallengeStore(DefaultChallengeTTL),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m.logger = m.logger.With("component", "auth")
	m.audit = newAuditLogger(m.logger, m.clock)
	return m
}

// RegisterRequest carries the fields of a new account. Age is optional.
type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Age         *int   `json:"age,omitempty"`
}

func (r *RegisterRequest) normalize() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	if r.Username == "" || r.Email == "" || r.Password == "" {
		return trusterr.Validationf("username, email and password are required")
	}
	at := strings.LastIndexByte(r.Email, '@')
	if at <= 0 || at == len(r.Email)-1 {
		return trusterr.Validationf("email %q is invalid", r.Email)
	}
	if r.DisplayName == "" {
		r.DisplayName = r.Username
	}
	if r.Age != nil && *r.Age < 0 {
		return trusterr.Validationf("age must not be negative")
	}
	return nil
}

// prepareAccount validates req and derives the sealed credential for a
// fresh user id. Nothing is written.
func (m *Manager) prepareAccount(ctx context.Context, req *RegisterRequest) (*account.UserProfile, *storage.Envelope, error) {
	if err := credential.ValidatePasswordStrength(req.Password); err != nil {
		return nil, nil, err
	}
	if err := m.accounts.CheckAvailable(req.Username, req.Email); err != nil {
		return nil, nil, err
	}
	p, err := account.NewUserProfile(uuid.New(), req.Username, req.Email, req.DisplayName, req.Age, m.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	env, err := m.credentials.Prepare(ctx, p.ID, req.Password)
	if err != nil {
		return nil, nil, err
	}
	return p, env, nil
}

func (m *Manager) createAccount(p *account.UserProfile, env *storage.Envelope) error {
	return m.accounts.Create(p, func(tx storage.BatchTx) error {
		return credential.PutTx(tx, p.ID, env)
	})
}

// Register creates an account with password login. Users under 13 must
// go through RegisterChild.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if err := req.normalize(); err != nil {
		return "", err
	}
	if req.Age != nil && *req.Age < account.ConsentAge {
		return "", trusterr.ErrAgeRestricted
	}
	p, env, err := m.prepareAccount(ctx, &req)
	if err != nil {
		return "", err
	}
	if err := m.createAccount(p, env); err != nil {
		return "", err
	}
	m.audit.log(ctx, AuditRegister, p.ID, slog.Bool("minor", p.IsMinor))
	return p.ID, nil
}

// RegisterChild creates an under-13 account together with its child
// profile and a pending consent request. It returns the new user id and
// the consent token. The child cannot log in until the token is verified.
func (m *Manager) RegisterChild(ctx context.Context, req RegisterRequest, parent coppa.ParentContact) (string, string, error) {
	if err := req.normalize(); err != nil {
		return "", "", err
	}
	if req.Age == nil || *req.Age >= account.ConsentAge {
		return "", "", trusterr.Validationf("child registration requires an age under %d", account.ConsentAge)
	}
	p, env, err := m.prepareAccount(ctx, &req)
	if err != nil {
		return "", "", err
	}

	token, err := m.coppa.EnrollChild(ctx, p.ID, *req.Age, parent)
	if err != nil {
		return "", "", err
	}
	if err := m.createAccount(p, env); err != nil {
		if rbErr := m.coppa.RemoveChild(ctx, p.ID); rbErr != nil {
			m.logger.ErrorContext(ctx, "rolling back child enrollment", "user_id", p.ID, "error", rbErr)
		}
		return "", "", err
	}
	m.audit.log(ctx, AuditRegister, p.ID, slog.Bool("minor", true), slog.Bool("child", true))
	m.audit.log(ctx, AuditConsentRequested, p.ID, slog.String("method", string(parent.Method)))
	return p.ID, token, nil
}

// GetUserProfile returns a copy of the user's profile.
func (m *Manager) GetUserProfile(userID string) (*account.UserProfile, error) {
	return m.accounts.Get(userID)
}

// ActiveSessionCount returns the number of valid sessions for userID.
func (m *Manager) ActiveSessionCount(userID string) int {
	return m.sessions.ActiveCount(userID)
}
