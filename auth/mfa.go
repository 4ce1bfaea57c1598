package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/credential"
	"github.com/helyxium/trustcore/internal/util"
	"github.com/helyxium/trustcore/storage"
	"github.com/helyxium/trustcore/trusterr"
)

const (
	// DefaultChallengeTTL bounds the time between the first and second factor.
	DefaultChallengeTTL = 5 * time.Minute

	// TOTPRecordType holds each user's sealed TOTP seed in the accounts namespace.
	TOTPRecordType = "TOTP"

	totpPeriod = 30
	totpSkew   = 1
)

type challenge struct {
	ID        string
	UserID    string
	Primary   account.AuthMethod
	ExpiresAt time.Time
}

// challengeStore tracks logins waiting for a second factor. Memory only.
type challengeStore struct {
	ttl time.Duration

	mu         sync.Mutex
	challenges map[string]*challenge
}

func newChallengeStore(ttl time.Duration) *challengeStore {
	return &challengeStore{ttl: ttl, challenges: make(map[string]*challenge)}
}

func (s *challengeStore) issue(userID string, primary account.AuthMethod, now time.Time) (challenge, error) {
	id, err := util.RandomToken()
	if err != nil {
		return challenge{}, fmt.Errorf("generating challenge id: %w", err)
	}
	ch := &challenge{ID: id, UserID: userID, Primary: primary, ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(s.challenges, k)
		}
	}
	s.challenges[id] = ch
	return *ch, nil
}

func (s *challengeStore) get(id string, now time.Time) (challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return challenge{}, false
	}
	if !now.Before(ch.ExpiresAt) {
		delete(s.challenges, id)
		return challenge{}, false
	}
	return *ch, true
}

func (s *challengeStore) remove(id string) {
	s.mu.Lock()
	delete(s.challenges, id)
	s.mu.Unlock()
}

// MFAEnrollment is returned by EnableMFA. Secret and ProvisioningURI are
// only set for TOTP and are shown to the user once.
type MFAEnrollment struct {
	Method          account.AuthMethod `json:"method"`
	Secret          string             `json:"secret,omitempty"`
	ProvisioningURI string             `json:"provisioning_uri,omitempty"`
}

// EnableMFA adds method to the user's enabled factors. Once more than one
// factor is enabled every login needs a second factor, so only methods
// this package can verify are accepted.
func (m *Manager) EnableMFA(ctx context.Context, userID string, method account.AuthMethod) (MFAEnrollment, error) {
	if !method.Valid() {
		return MFAEnrollment{}, trusterr.Validationf("unknown auth method %q", method)
	}
	if !locallyVerifiable(method) {
		return MFAEnrollment{}, trusterr.Validationf("auth method %s has no verifier and cannot be enabled", method)
	}
	p, err := m.accounts.Get(userID)
	if err != nil {
		return MFAEnrollment{}, err
	}
	enrollment := MFAEnrollment{Method: method}
	if p.HasMethod(method) {
		return enrollment, nil
	}

	if method == account.MethodTOTP {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      m.issuer,
			AccountName: p.Username,
			Period:      totpPeriod,
			Digits:      otp.DigitsSix,
			Algorithm:   otp.AlgorithmSHA1,
		})
		if err != nil {
			return MFAEnrollment{}, trusterr.Crypto("generating totp secret", err)
		}
		env, err := m.sealer.SealRecord(credential.Namespace, TOTPRecordType, userID, []byte(key.Secret()), 0)
		if err != nil {
			return MFAEnrollment{}, err
		}
		if err := m.repo.Put(credential.Namespace, TOTPRecordType, userID, env); err != nil {
			return MFAEnrollment{}, trusterr.Persistence("storing totp secret", err)
		}
		enrollment.Secret = key.Secret()
		enrollment.ProvisioningURI = key.URL()
	}

	if _, err := m.accounts.Update(userID, func(p *account.UserProfile) error {
		changed, err := p.EnableMethod(method)
		if err != nil {
			return err
		}
		if !changed {
			return account.ErrNoChange
		}
		return nil
	}); err != nil {
		return MFAEnrollment{}, err
	}
	m.audit.log(ctx, AuditMFAEnabled, userID, slog.String("method", string(method)))
	return enrollment, nil
}

func (m *Manager) verifyTOTP(userID, code string) (bool, error) {
	env, err := m.repo.Get(credential.Namespace, TOTPRecordType, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, trusterr.Persistence("loading totp secret", err)
	}
	secret, err := m.sealer.OpenRecord(credential.Namespace, TOTPRecordType, userID, env)
	if err != nil {
		return false, err
	}
	defer util.WipeBytes(secret)

	ok, err := totp.ValidateCustom(code, string(secret), m.clock.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// malformed code
		return false, nil
	}
	return ok, nil
}
