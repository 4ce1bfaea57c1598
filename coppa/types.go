// Package coppa enforces the age-gated compliance policy for users under 13:
// parental-consent requests and verification, data-collection gating, daily
// play-time limits, content filters and social restrictions.
package coppa

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/helyxium/trustcore/trusterr"
)

const (
	// ConsentAge is the age below which a child profile is required.
	ConsentAge = 13
	// DefaultConsentTTL is how long a consent token stays redeemable.
	DefaultConsentTTL = 7 * 24 * time.Hour
)

// ConsentMethod is how a parent proves their identity.
type ConsentMethod string

const (
	ConsentEmail            ConsentMethod = "email_verification"
	ConsentCreditCard       ConsentMethod = "credit_card_verification"
	ConsentDigitalSignature ConsentMethod = "digital_signature"
	ConsentPhone            ConsentMethod = "phone_verification"
	ConsentPostalMail       ConsentMethod = "postal_mail"
)

func (m ConsentMethod) Valid() bool {
	switch m {
	case ConsentEmail, ConsentCreditCard, ConsentDigitalSignature, ConsentPhone, ConsentPostalMail:
		return true
	default:
		return false
	}
}

// ParseConsentMethod maps a wire value to a ConsentMethod.
func ParseConsentMethod(s string) (ConsentMethod, error) {
	m := ConsentMethod(s)
	if !m.Valid() {
		return "", trusterr.Validationf("unknown consent method %q", s)
	}
	return m, nil
}

// ConsentProof carries the out-of-band verification results reported by the
// caller. It is trusted at face value.
type ConsentProof struct {
	EmailConfirmed    bool `json:"email_confirmed"`
	ChargeVerified    bool `json:"charge_verified"`
	SignatureVerified bool `json:"signature_verified"`
	PhoneVerified     bool `json:"phone_verified"`
	PostalVerified    bool `json:"postal_verified"`
}

// Satisfies reports whether the proof flag for m is set.
func (p ConsentProof) Satisfies(m ConsentMethod) (bool, error) {
	switch m {
	case ConsentEmail:
		return p.EmailConfirmed, nil
	case ConsentCreditCard:
		return p.ChargeVerified, nil
	case ConsentDigitalSignature:
		return p.SignatureVerified, nil
	case ConsentPhone:
		return p.PhoneVerified, nil
	case ConsentPostalMail:
		return p.PostalVerified, nil
	default:
		return false, fmt.Errorf("consent method %q: %w", m, trusterr.ErrValidation)
	}
}

// DataCollectionType classifies what a feature collects about a child.
type DataCollectionType string

const (
	CollectNecessaryOperation DataCollectionType = "necessary_operation"
	CollectEnhancedFeatures   DataCollectionType = "enhanced_features"
	CollectAnalytics          DataCollectionType = "analytics"
	CollectMarketing          DataCollectionType = "marketing"
	CollectSocialFeatures     DataCollectionType = "social_features"
)

func (d DataCollectionType) Valid() bool {
	switch d {
	case CollectNecessaryOperation, CollectEnhancedFeatures, CollectAnalytics, CollectMarketing, CollectSocialFeatures:
		return true
	default:
		return false
	}
}

// ParseDataCollectionType maps a wire value to a DataCollectionType.
func ParseDataCollectionType(s string) (DataCollectionType, error) {
	d := DataCollectionType(s)
	if !d.Valid() {
		return "", trusterr.Validationf("unknown data collection type %q", s)
	}
	return d, nil
}

// SessionTimeLimits are in minutes.
type SessionTimeLimits struct {
	DailyLimit    int `json:"daily_limit"`
	SessionLimit  int `json:"session_limit"`
	BreakInterval int `json:"break_interval"`
}

func (l SessionTimeLimits) validate() error {
	if l.DailyLimit <= 0 || l.SessionLimit <= 0 || l.BreakInterval <= 0 {
		return trusterr.Validationf("session time limits must be positive")
	}
	if l.SessionLimit > l.DailyLimit {
		return trusterr.Validationf("session limit %d exceeds daily limit %d", l.SessionLimit, l.DailyLimit)
	}
	return nil
}

// DefaultSessionTimeLimits: 60 minutes a day, 30 per session, a break every 15.
func DefaultSessionTimeLimits() SessionTimeLimits {
	return SessionTimeLimits{DailyLimit: 60, SessionLimit: 30, BreakInterval: 15}
}

// SocialRestrictions are all false until a parent relaxes them.
type SocialRestrictions struct {
	CanChat              bool `json:"can_chat"`
	CanVoiceChat         bool `json:"can_voice_chat"`
	CanSharePersonalInfo bool `json:"can_share_personal_info"`
	CanAddFriends        bool `json:"can_add_friends"`
	CanJoinPublicWorlds  bool `json:"can_join_public_worlds"`
}

// DefaultContentFilters are applied to every new child profile.
func DefaultContentFilters() []string {
	return []string{"age_appropriate", "no_violence", "educational"}
}

// ParentalConsent is one consent request. Only the SHA-256 of its token is
// stored. REQUESTED -> VERIFIED is terminal; an expired unverified request
// is deleted by the sweep.
type ParentalConsent struct {
	ID          string        `json:"id"`
	ChildUserID string        `json:"child_user_id"`
	ParentEmail string        `json:"parent_email"`
	ParentName  string        `json:"parent_name"`
	Method      ConsentMethod `json:"method"`
	Granted     bool          `json:"granted"`
	Verified    bool          `json:"verified"`
	TokenHash   string        `json:"token_hash"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	VerifiedAt  *time.Time    `json:"verified_at,omitempty"`
}

// ExpiredAt reports whether the token can no longer be redeemed at now.
func (c *ParentalConsent) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c *ParentalConsent) clone() *ParentalConsent {
	cp := *c
	if c.VerifiedAt != nil {
		t := *c.VerifiedAt
		cp.VerifiedAt = &t
	}
	return &cp
}

// ChildProfile holds the restrictions applied to a user under 13.
// ConsentID references the child's latest consent request. ParentEmail is
// the contact of that request and survives the consent sweep.
type ChildProfile struct {
	UserID                string               `json:"user_id"`
	Age                   int                  `json:"age"`
	ConsentID             string               `json:"consent_id,omitempty"`
	ParentEmail           string               `json:"parent_email,omitempty"`
	AllowedDataCollection []DataCollectionType `json:"allowed_data_collection"`
	SessionTimeLimits     SessionTimeLimits    `json:"session_time_limits"`
	ContentFilters        []string             `json:"content_filters"`
	SocialRestrictions    SocialRestrictions   `json:"social_restrictions"`
	TotalSessionTimeToday int                  `json:"total_session_time_today"`
	LastActivity          time.Time            `json:"last_activity"`
	BreakRemindersEnabled bool                 `json:"break_reminders_enabled"`
}

// Allows reports whether collection of d is permitted.
func (p *ChildProfile) Allows(d DataCollectionType) bool {
	return slices.Contains(p.AllowedDataCollection, d)
}

func (p *ChildProfile) allow(d DataCollectionType) {
	if !p.Allows(d) {
		p.AllowedDataCollection = append(p.AllowedDataCollection, d)
	}
}

func (p *ChildProfile) clone() *ChildProfile {
	cp := *p
	cp.AllowedDataCollection = slices.Clone(p.AllowedDataCollection)
	cp.ContentFilters = slices.Clone(p.ContentFilters)
	return &cp
}

// SessionLimitStatus is the answer to "may this child keep playing".
type SessionLimitStatus struct {
	IsChild               bool `json:"is_child"`
	DailyLimit            int  `json:"daily_limit,omitempty"`
	SessionLimit          int  `json:"session_limit,omitempty"`
	BreakInterval         int  `json:"break_interval,omitempty"`
	TimeUsedToday         int  `json:"time_used_today"`
	RemainingDaily        int  `json:"remaining_daily"`
	CanStartSession       bool `json:"can_start_session"`
	BreakRemindersEnabled bool `json:"break_reminders_enabled"`
}

// ParentalSettings are parent-controlled overrides. Nil fields, at any
// depth, are left unchanged.
type ParentalSettings struct {
	SessionTimeLimits     SessionTimeLimitsUpdate  `json:"session_time_limits,omitzero"`
	ContentFilters        []string                 `json:"content_filters,omitempty"`
	SocialRestrictions    SocialRestrictionsUpdate `json:"social_restrictions,omitzero"`
	BreakRemindersEnabled *bool                    `json:"break_reminders_enabled,omitempty"`
}

// SessionTimeLimitsUpdate is a partial SessionTimeLimits.
type SessionTimeLimitsUpdate struct {
	DailyLimit    *int `json:"daily_limit,omitempty"`
	SessionLimit  *int `json:"session_limit,omitempty"`
	BreakInterval *int `json:"break_interval,omitempty"`
}

func (u SessionTimeLimitsUpdate) applyTo(l *SessionTimeLimits) bool {
	changed := setIfChanged(&l.DailyLimit, u.DailyLimit)
	changed = setIfChanged(&l.SessionLimit, u.SessionLimit) || changed
	return setIfChanged(&l.BreakInterval, u.BreakInterval) || changed
}

// SocialRestrictionsUpdate is a partial SocialRestrictions.
type SocialRestrictionsUpdate struct {
	CanChat              *bool `json:"can_chat,omitempty"`
	CanVoiceChat         *bool `json:"can_voice_chat,omitempty"`
	CanSharePersonalInfo *bool `json:"can_share_personal_info,omitempty"`
	CanAddFriends        *bool `json:"can_add_friends,omitempty"`
	CanJoinPublicWorlds  *bool `json:"can_join_public_worlds,omitempty"`
}

func (u SocialRestrictionsUpdate) applyTo(r *SocialRestrictions) bool {
	changed := setIfChanged(&r.CanChat, u.CanChat)
	changed = setIfChanged(&r.CanVoiceChat, u.CanVoiceChat) || changed
	changed = setIfChanged(&r.CanSharePersonalInfo, u.CanSharePersonalInfo) || changed
	changed = setIfChanged(&r.CanAddFriends, u.CanAddFriends) || changed
	return setIfChanged(&r.CanJoinPublicWorlds, u.CanJoinPublicWorlds) || changed
}

func setIfChanged[T comparable](dst *T, v *T) bool {
	if v == nil || *dst == *v {
		return false
	}
	*dst = *v
	return true
}

// ParentContact identifies the parent a consent request is sent to.
type ParentContact struct {
	Email  string        `json:"email"`
	Name   string        `json:"name"`
	Method ConsentMethod `json:"method"`
}

func (c ParentContact) validate() error {
	if c.Name == "" {
		return trusterr.Validationf("parent name is required")
	}
	at := strings.LastIndexByte(c.Email, '@')
	if at <= 0 || at == len(c.Email)-1 {
		return trusterr.Validationf("parent email is invalid")
	}
	if !c.Method.Valid() {
		return trusterr.Validationf("unknown consent method %q", c.Method)
	}
	return nil
}
