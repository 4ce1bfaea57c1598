package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/credential"
	"github.com/helyxium/trustcore/session"
	"github.com/helyxium/trustcore/trusterr"
)

// Result is the outcome of a login attempt.
type Result string

const (
	ResultSuccess         Result = "success"
	ResultFailed          Result = "failed"
	ResultMFARequired     Result = "mfa_required"
	ResultAccountLocked   Result = "account_locked"
	ResultConsentRequired Result = "consent_required"
)

// Outcome describes a login attempt. SessionID is set only on Success and
// ChallengeID only on MFARequired.
type Outcome struct {
	Result      Result     `json:"result"`
	UserID      string     `json:"user_id,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	ChallengeID string     `json:"challenge_id,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// Authenticate verifies one factor for the user named by identifier
// (username or email). Expected results such as a wrong password or a
// locked account are reported in Outcome; errors mean the attempt could
// not be evaluated.
func (m *Manager) Authenticate(ctx context.Context, identifier, secret string, method account.AuthMethod, extra map[string]string) (Outcome, error) {
	if !method.Valid() {
		return Outcome{}, trusterr.Validationf("unknown auth method %q", method)
	}
	p, ok := m.accounts.FindByIdentifier(identifier)
	if !ok {
		if method == account.MethodPassword {
			if err := m.credentials.VerifyAbsent(ctx, secret); err != nil {
				return Outcome{}, err
			}
		}
		m.audit.logFailure(ctx, AuditLoginFailure, "", "unknown_identifier", slog.String("method", string(method)))
		return Outcome{Result: ResultFailed}, nil
	}

	p, err := m.checkLock(p.ID)
	if errors.Is(err, trusterr.ErrAccountLocked) {
		m.audit.logFailure(ctx, AuditLoginFailure, p.ID, "locked", slog.String("method", string(method)))
		return Outcome{Result: ResultAccountLocked, UserID: p.ID, LockedUntil: p.LockedUntil}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	ok, err = m.verifyFactor(ctx, p, method, secret, extra)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return m.fail(ctx, p.ID, method)
	}

	if p.RequiresMFA() {
		ch, err := m.challenges.issue(p.ID, method, m.clock.Now())
		if err != nil {
			return Outcome{}, err
		}
		m.audit.log(ctx, AuditMFARequired, p.ID, slog.String("method", string(method)))
		return Outcome{Result: ResultMFARequired, UserID: p.ID, ChallengeID: ch.ID}, nil
	}
	return m.finishLogin(ctx, p, []account.AuthMethod{method})
}

// CompleteMFA verifies the second factor for an open challenge. The
// challenge is consumed whether or not the factor verifies.
func (m *Manager) CompleteMFA(ctx context.Context, challengeID string, method account.AuthMethod, secret string) (Outcome, error) {
	if !method.Valid() {
		return Outcome{}, trusterr.Validationf("unknown auth method %q", method)
	}
	ch, ok := m.challenges.get(challengeID, m.clock.Now())
	if !ok {
		m.audit.logFailure(ctx, AuditLoginFailure, "", "unknown_challenge")
		return Outcome{Result: ResultFailed}, nil
	}
	if method == ch.Primary {
		return Outcome{}, trusterr.Validationf("second factor must differ from %s", ch.Primary)
	}
	m.challenges.remove(challengeID)

	p, err := m.checkLock(ch.UserID)
	if errors.Is(err, trusterr.ErrAccountLocked) {
		return Outcome{Result: ResultAccountLocked, UserID: p.ID, LockedUntil: p.LockedUntil}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if !p.HasMethod(method) {
		return m.fail(ctx, p.ID, method)
	}

	ok, err = m.verifyFactor(ctx, p, method, secret, nil)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return m.fail(ctx, p.ID, method)
	}
	return m.finishLogin(ctx, p, []account.AuthMethod{ch.Primary, method})
}

// checkLock clears an elapsed lock and reports a current one as
// ErrAccountLocked, returning the profile in both cases.
func (m *Manager) checkLock(userID string) (*account.UserProfile, error) {
	now := m.clock.Now()
	var locked *account.UserProfile
	p, err := m.accounts.Update(userID, func(p *account.UserProfile) error {
		if m.guard.Locked(p, now) {
			locked = p.Clone()
			return trusterr.ErrAccountLocked
		}
		if m.guard.ExpireLock(p, now) {
			return nil
		}
		return account.ErrNoChange
	})
	if locked != nil {
		return locked, trusterr.ErrAccountLocked
	}
	return p, err
}

// locallyVerifiable reports whether verifyFactor can ever accept method.
func locallyVerifiable(method account.AuthMethod) bool {
	return method == account.MethodPassword || method == account.MethodTOTP
}

// verifyFactor checks secret against method. Only password and TOTP can
// succeed; biometric, hardware token and one-time code methods have no
// local verifier.
func (m *Manager) verifyFactor(ctx context.Context, p *account.UserProfile, method account.AuthMethod, secret string, extra map[string]string) (bool, error) {
	switch method {
	case account.MethodPassword:
		return m.credentials.Verify(ctx, p.ID, secret)
	case account.MethodBiometricFingerprint, account.MethodBiometricFace:
		return m.verifyBiometric(ctx, p.ID, method, extra), nil
	case account.MethodHardwareToken, account.MethodSMSCode, account.MethodEmailCode:
		return false, nil
	case account.MethodTOTP:
		if !p.HasMethod(account.MethodTOTP) {
			return false, nil
		}
		return m.verifyTOTP(p.ID, secret)
	default:
		return false, fmt.Errorf("auth method %q: %w", method, trusterr.ErrValidation)
	}
}

func (m *Manager) verifyBiometric(ctx context.Context, userID string, method account.AuthMethod, extra map[string]string) bool {
	m.logger.DebugContext(ctx, "biometric verification unavailable", "user_id", userID, "method", string(method), "fields", len(extra))
	return false
}

func (m *Manager) fail(ctx context.Context, userID string, method account.AuthMethod) (Outcome, error) {
	now := m.clock.Now()
	var locked bool
	p, err := m.accounts.Update(userID, func(p *account.UserProfile) error {
		locked = m.guard.RecordFailure(p, now)
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	m.audit.logFailure(ctx, AuditLoginFailure, userID, "bad_credentials",
		slog.String("method", string(method)), slog.Int("failed_attempts", p.FailedAttempts))
	if locked {
		m.audit.log(ctx, AuditAccountLocked, userID, slog.Time("locked_until", *p.LockedUntil))
	}
	return Outcome{Result: ResultFailed, UserID: userID}, nil
}

// finishLogin applies the consent gate, records the login and issues a
// session.
func (m *Manager) finishLogin(ctx context.Context, p *account.UserProfile, methods []account.AuthMethod) (Outcome, error) {
	consented := m.coppa.HasVerifiedConsent(p.ID)
	if p.RequiresParentalConsent && !consented {
		m.audit.logFailure(ctx, AuditLoginFailure, p.ID, "consent_required")
		return Outcome{Result: ResultConsentRequired, UserID: p.ID}, nil
	}

	now := m.clock.Now()
	var locked *account.UserProfile
	_, err := m.accounts.Update(p.ID, func(p *account.UserProfile) error {
		if m.guard.Locked(p, now) {
			locked = p.Clone()
			return trusterr.ErrAccountLocked
		}
		m.guard.RecordSuccess(p, now)
		if p.RequiresParentalConsent && consented {
			p.CoppaVerified = true
		}
		return nil
	})
	if locked != nil {
		return Outcome{Result: ResultAccountLocked, UserID: p.ID, LockedUntil: locked.LockedUntil}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	s, err := m.sessions.Create(p.ID, methods)
	if err != nil {
		return Outcome{}, err
	}
	m.audit.log(ctx, AuditLoginSuccess, p.ID, slog.Int("factors", len(methods)))
	return Outcome{Result: ResultSuccess, UserID: p.ID, SessionID: s.ID}, nil
}

// CreateSession issues a session for an existing user without verifying a
// factor. Callers are expected to have authenticated the user already.
func (m *Manager) CreateSession(ctx context.Context, userID string, methods []account.AuthMethod) (session.Session, error) {
	if _, err := m.accounts.Get(userID); err != nil {
		return session.Session{}, err
	}
	return m.sessions.Create(userID, methods)
}

// ValidateSession returns the live session and its user's profile.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (session.Session, *account.UserProfile, error) {
	s, err := m.sessions.Validate(sessionID)
	if err != nil {
		return session.Session{}, nil, err
	}
	p, err := m.accounts.Get(s.UserID)
	if err != nil {
		return session.Session{}, nil, err
	}
	return s, p, nil
}

// LogoutOthers ends every session of userID except keepSessionID and
// returns how many were ended.
func (m *Manager) LogoutOthers(ctx context.Context, userID, keepSessionID string) int {
	n := m.sessions.LogoutUser(userID, keepSessionID)
	if n > 0 {
		m.audit.log(ctx, AuditLogout, userID, slog.Int("sessions", n))
	}
	return n
}

// Logout ends a session.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	s, err := m.sessions.Logout(sessionID)
	if err != nil {
		return err
	}
	m.audit.log(ctx, AuditLogout, s.UserID)
	return nil
}

// ChangePassword replaces the user's password after verifying the old
// one. Sessions are untouched; callers that want the others ended follow
// up with LogoutOthers.
func (m *Manager) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if _, err := m.accounts.Get(userID); err != nil {
		return err
	}
	ok, err := m.credentials.Verify(ctx, userID, oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		m.audit.logFailure(ctx, AuditPasswordChanged, userID, "bad_credentials")
		return trusterr.ErrUnauthorized
	}
	if err := credential.ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	if err := m.credentials.Set(ctx, userID, newPassword); err != nil {
		return err
	}
	m.audit.log(ctx, AuditPasswordChanged, userID)
	return nil
}
