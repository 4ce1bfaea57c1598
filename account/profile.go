// Package account holds user profiles, the lockout guard that protects them,
// and the owned repository that serializes their mutation.
package account

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/helyxium/trustcore/trusterr"
)

const (
	// AdultAge is the age at which a user stops being a minor.
	AdultAge = 18
	// ConsentAge is the age below which verified parental consent is required.
	ConsentAge = 13
)

// AuthMethod is a closed set of authentication factors.
type AuthMethod string

const (
	MethodPassword             AuthMethod = "password"
	MethodBiometricFingerprint AuthMethod = "biometric_fingerprint"
	MethodBiometricFace        AuthMethod = "biometric_face"
	MethodHardwareToken        AuthMethod = "hardware_token"
	MethodSMSCode              AuthMethod = "sms_code"
	MethodEmailCode            AuthMethod = "email_code"
	MethodTOTP                 AuthMethod = "totp"
)

// Valid reports whether m is one of the declared methods.
func (m AuthMethod) Valid() bool {
	switch m {
	case MethodPassword, MethodBiometricFingerprint, MethodBiometricFace,
		MethodHardwareToken, MethodSMSCode, MethodEmailCode, MethodTOTP:
		return true
	default:
		return false
	}
}

// ParseAuthMethod maps a wire value to an AuthMethod. The empty string means password.
func ParseAuthMethod(s string) (AuthMethod, error) {
	if s == "" {
		return MethodPassword, nil
	}
	m := AuthMethod(s)
	if !m.Valid() {
		return "", trusterr.Validationf("unknown auth method %q", s)
	}
	return m, nil
}

// UserProfile is the plaintext metadata stored for each user. IsMinor and
// RequiresParentalConsent are fixed at creation from Age.
type UserProfile struct {
	ID                      string            `json:"id"`
	Username                string            `json:"username"`
	Email                   string            `json:"email"`
	DisplayName             string            `json:"display_name"`
	Age                     *int              `json:"age,omitempty"`
	IsMinor                 bool              `json:"is_minor"`
	RequiresParentalConsent bool              `json:"requires_parental_consent"`
	EnabledAuthMethods      []AuthMethod      `json:"enabled_auth_methods"`
	LastLogin               *time.Time        `json:"last_login,omitempty"`
	FailedAttempts          int               `json:"failed_attempts"`
	LockedUntil             *time.Time        `json:"locked_until,omitempty"`
	CoppaVerified           bool              `json:"coppa_verified"`
	CreatedAt               time.Time         `json:"created_at"`
	Preferences             map[string]string `json:"preferences,omitempty"`
}

// NewUserProfile builds a profile with password as the only enabled method.
func NewUserProfile(id, username, email, displayName string, age *int, now time.Time) (*UserProfile, error) {
	if age != nil && *age < 0 {
		return nil, trusterr.Validationf("age must not be negative")
	}
	p := &UserProfile{
		ID:                 id,
		Username:           username,
		Email:              email,
		DisplayName:        displayName,
		EnabledAuthMethods: []AuthMethod{MethodPassword},
		CreatedAt:          now.UTC(),
	}
	if age != nil {
		a := *age
		p.Age = &a
		p.IsMinor = a < AdultAge
		p.RequiresParentalConsent = a < ConsentAge
	}
	return p, nil
}

// HasMethod reports whether m is enabled.
func (p *UserProfile) HasMethod(m AuthMethod) bool {
	return slices.Contains(p.EnabledAuthMethods, m)
}

// EnableMethod adds m to the enabled set. It reports whether the set changed.
func (p *UserProfile) EnableMethod(m AuthMethod) (bool, error) {
	if !m.Valid() {
		return false, fmt.Errorf("enable %q: %w", m, trusterr.ErrValidation)
	}
	if p.HasMethod(m) {
		return false, nil
	}
	p.EnabledAuthMethods = append(p.EnabledAuthMethods, m)
	slices.Sort(p.EnabledAuthMethods)
	return true, nil
}

// RequiresMFA reports whether login needs a second factor.
func (p *UserProfile) RequiresMFA() bool {
	return len(p.EnabledAuthMethods) > 1
}

// Clone returns a deep copy of p.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Age != nil {
		a := *p.Age
		cp.Age = &a
	}
	if p.LastLogin != nil {
		t := *p.LastLogin
		cp.LastLogin = &t
	}
	if p.LockedUntil != nil {
		t := *p.LockedUntil
		cp.LockedUntil = &t
	}
	cp.EnabledAuthMethods = slices.Clone(p.EnabledAuthMethods)
	cp.Preferences = maps.Clone(p.Preferences)
	return &cp
}
