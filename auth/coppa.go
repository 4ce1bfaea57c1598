package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/coppa"
	"github.com/helyxium/trustcore/internal/util"
	"github.com/helyxium/trustcore/trusterr"
)

// ErrProfileFlagPending accompanies a verified consent whose grant was
// stored but whose CoppaVerified profile flag could not be written. The
// login gate reads the grant, and the next successful login sets the flag.
var ErrProfileFlagPending = errors.New("consent verified; profile flag not updated")

// IsCoppaCompliant reports whether the user may use the application under
// the child-safety policy. Users 13 and over, or of unknown age, always are.
func (m *Manager) IsCoppaCompliant(userID string) bool {
	p, err := m.accounts.Get(userID)
	if err != nil {
		return false
	}
	if !p.RequiresParentalConsent {
		return true
	}
	return p.CoppaVerified || m.coppa.HasVerifiedConsent(userID)
}

// SetCoppaVerification records the outcome of an external consent check
// on the user profile.
func (m *Manager) SetCoppaVerification(ctx context.Context, userID string, verified bool) error {
	_, err := m.accounts.Update(userID, func(p *account.UserProfile) error {
		if p.CoppaVerified == verified {
			return account.ErrNoChange
		}
		p.CoppaVerified = verified
		return nil
	})
	if err != nil {
		return err
	}
	m.audit.log(ctx, AuditCoppaVerification, userID, slog.Bool("verified", verified))
	return nil
}

// CreateChildProfile attaches a child profile to an existing user.
func (m *Manager) CreateChildProfile(ctx context.Context, userID string, age int) (*coppa.ChildProfile, error) {
	if _, err := m.accounts.Get(userID); err != nil {
		return nil, err
	}
	return m.coppa.CreateChildProfile(ctx, userID, age)
}

// RequestParentalConsent starts a new consent request for the child.
func (m *Manager) RequestParentalConsent(ctx context.Context, userID string, parent coppa.ParentContact) (string, error) {
	token, err := m.coppa.RequestParentalConsent(ctx, userID, parent)
	if err != nil {
		return "", err
	}
	m.audit.log(ctx, AuditConsentRequested, userID, slog.String("method", string(parent.Method)))
	return token, nil
}

// VerifyParentalConsent redeems a consent token and marks the child's
// profile as verified. If only the profile flag fails to persist, the
// consent is returned together with an ErrProfileFlagPending error.
func (m *Manager) VerifyParentalConsent(ctx context.Context, token string, proof coppa.ConsentProof) (*coppa.ParentalConsent, error) {
	c, err := m.coppa.VerifyParentalConsent(ctx, token, proof)
	if err != nil {
		return nil, err
	}
	m.audit.log(ctx, AuditConsentVerified, c.ChildUserID, slog.String("method", string(c.Method)))
	if err := m.SetCoppaVerification(ctx, c.ChildUserID, true); err != nil {
		m.logger.WarnContext(ctx, "consent verified but profile flag not stored", "user_id", c.ChildUserID, "error", err)
		return c, fmt.Errorf("%w: %w", ErrProfileFlagPending, err)
	}
	return c, nil
}

// AuthorizeParent returns nil when adultID is an adult account whose email
// matches the parent on record for childID. With requireVerified the
// child's latest consent must also be verified and addressed to that
// parent. Other callers get ErrForbidden.
func (m *Manager) AuthorizeParent(adultID, childID string, requireVerified bool) error {
	_, err := m.parentOf(adultID, childID, requireVerified)
	return err
}

func (m *Manager) parentOf(adultID, childID string, requireVerified bool) (*account.UserProfile, error) {
	if adultID == childID {
		return nil, fmt.Errorf("%w: a child cannot act as its own parent", trusterr.ErrForbidden)
	}
	adult, err := m.accounts.Get(adultID)
	if err != nil {
		return nil, err
	}
	if adult.IsMinor || m.coppa.IsChildUser(adultID) {
		return nil, fmt.Errorf("%w: parental actions require an adult account", trusterr.ErrForbidden)
	}
	child, err := m.coppa.GetChildProfile(childID)
	if err != nil {
		return nil, err
	}
	email := util.FoldIdentifier(adult.Email)
	if child.ParentEmail == "" || util.FoldIdentifier(child.ParentEmail) != email {
		return nil, fmt.Errorf("%w: not the parent on record for %s", trusterr.ErrForbidden, childID)
	}
	if requireVerified {
		c, err := m.coppa.LatestConsent(childID)
		if err != nil || !c.Verified || util.FoldIdentifier(c.ParentEmail) != email {
			return nil, fmt.Errorf("%w: no verified consent from this parent for %s", trusterr.ErrForbidden, childID)
		}
	}
	return adult, nil
}

// RequestConsentAsParent lets the parent on record restart consent for
// childID. The request must be addressed to the parent's own email. The
// token reaches the parent only through the Notifier; the consent id is
// returned.
func (m *Manager) RequestConsentAsParent(ctx context.Context, parentID, childID string, contact coppa.ParentContact) (string, error) {
	adult, err := m.parentOf(parentID, childID, false)
	if err != nil {
		m.audit.logFailure(ctx, AuditConsentRequested, childID, "not_parent")
		return "", err
	}
	if util.FoldIdentifier(contact.Email) != util.FoldIdentifier(adult.Email) {
		m.audit.logFailure(ctx, AuditConsentRequested, childID, "foreign_contact")
		return "", fmt.Errorf("%w: consent requests go to the parent on record", trusterr.ErrForbidden)
	}
	if _, err := m.RequestParentalConsent(ctx, childID, contact); err != nil {
		return "", err
	}
	return m.ConsentID(childID)
}

// ConsentID returns the id of the child's latest consent request.
func (m *Manager) ConsentID(childID string) (string, error) {
	p, err := m.coppa.GetChildProfile(childID)
	if err != nil {
		return "", err
	}
	if p.ConsentID == "" {
		return "", fmt.Errorf("consent for %s: %w", childID, trusterr.ErrNotFound)
	}
	return p.ConsentID, nil
}

func (m *Manager) CheckSessionLimits(ctx context.Context, userID string) (coppa.SessionLimitStatus, error) {
	return m.coppa.CheckSessionLimits(ctx, userID)
}

func (m *Manager) RecordSessionTime(ctx context.Context, userID string, minutes int) (coppa.SessionLimitStatus, error) {
	return m.coppa.RecordSessionTime(ctx, userID, minutes)
}

func (m *Manager) UpdateParentalSettings(ctx context.Context, userID string, s coppa.ParentalSettings) (*coppa.ChildProfile, error) {
	return m.coppa.UpdateParentalSettings(ctx, userID, s)
}

// Coppa exposes the policy engine for read-only queries.
func (m *Manager) Coppa() *coppa.Engine { return m.coppa }
