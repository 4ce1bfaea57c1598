package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/helyxium/trustcore/internal/clock"
)

// AuditEvent identifies a security-relevant action.
type AuditEvent string

const (
	AuditRegister          AuditEvent = "register"
	AuditLoginSuccess      AuditEvent = "login_success"
	AuditLoginFailure      AuditEvent = "login_failure"
	AuditAccountLocked     AuditEvent = "account_locked"
	AuditMFARequired       AuditEvent = "mfa_required"
	AuditMFAEnabled        AuditEvent = "mfa_enabled"
	AuditLogout            AuditEvent = "logout"
	AuditPasswordChanged   AuditEvent = "password_changed"
	AuditCoppaVerification AuditEvent = "coppa_verification"
	AuditConsentRequested  AuditEvent = "consent_requested"
	AuditConsentVerified   AuditEvent = "consent_verified"
)

// auditLogger writes structured audit records. Secrets, tokens and
// passwords are never passed to it.
type auditLogger struct {
	logger *slog.Logger
	clock  clock.Clock
}

func newAuditLogger(logger *slog.Logger, c clock.Clock) *auditLogger {
	return &auditLogger{logger: logger.With("component", "audit"), clock: c}
}

func (al *auditLogger) log(ctx context.Context, event AuditEvent, userID string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", al.clock.Now().UTC().Format(time.RFC3339)),
	}
	if userID != "" {
		base = append(base, slog.String("user_id", userID))
	}
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", append(base, attrs...)...)
}

// logFailure records a failed attempt with a reason.
func (al *auditLogger) logFailure(ctx context.Context, event AuditEvent, userID, reason string, attrs ...slog.Attr) {
	al.log(ctx, event, userID, append([]slog.Attr{slog.String("reason", reason)}, attrs...)...)
}
