package coppa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/helyxium/trustcore/internal/clock"
	"github.com/helyxium/trustcore/internal/keylock"
	"github.com/helyxium/trustcore/internal/util"
	"github.com/helyxium/trustcore/internal/uuid"
	"github.com/helyxium/trustcore/storage"
	"github.com/helyxium/trustcore/trusterr"
)

const (
	Namespace         = "coppa"
	ChildRecordType   = "CHILD"
	ConsentRecordType = "CONSENT"
)

type childEntry struct {
	profile *ChildProfile
	version uint64
}

// Engine owns every child profile and consent record. Mutations for one
// child, including its consents, are serialized on that child's lock and
// are durable before they are visible.
type Engine struct {
	repo       storage.Repository
	clock      clock.Clock
	notifier   Notifier
	logger     *slog.Logger
	consentTTL time.Duration
	limits     SessionTimeLimits
	locks      *keylock.Map

	mu       sync.RWMutex
	children map[string]*childEntry
	consents map[string]*ParentalConsent
	byToken  map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithNotifier sets the consent-request delivery collaborator.
// Default: a LogNotifier on the engine's logger.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithConsentTTL overrides the 7 day token lifetime.
func WithConsentTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.consentTTL = ttl
		}
	}
}

// WithDefaultLimits sets the limits given to new child profiles.
func WithDefaultLimits(l SessionTimeLimits) Option {
	return func(e *Engine) {
		if l.validate() == nil {
			e.limits = l
		}
	}
}

// Load builds an Engine from the child profiles and consents in repo.
func Load(repo storage.Repository, opts ...Option) (*Engine, error) {
	e := &Engine{
		repo:       repo,
		clock:      clock.Real(),
		consentTTL: DefaultConsentTTL,
		limits:     DefaultSessionTimeLimits(),
		locks:      keylock.New(),
		children:   make(map[string]*childEntry),
		consents:   make(map[string]*ParentalConsent),
		byToken:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.logger = e.logger.With("component", "coppa")
	if e.notifier == nil {
		e.notifier = NewLogNotifier(e.logger)
	}

	childIDs, err := repo.List(Namespace, ChildRecordType)
	if err != nil {
		return nil, trusterr.Persistence("listing child profiles", err)
	}
	for _, id := range childIDs {
		var p ChildProfile
		version, err := e.load(ChildRecordType, id, &p)
		if err != nil {
			return nil, err
		}
		e.children[id] = &childEntry{profile: &p, version: version}
	}

	consentIDs, err := repo.List(Namespace, ConsentRecordType)
	if err != nil {
		return nil, trusterr.Persistence("listing consents", err)
	}
	for _, id := range consentIDs {
		var c ParentalConsent
		if _, err := e.load(ConsentRecordType, id, &c); err != nil {
			return nil, err
		}
		e.consents[id] = &c
		e.byToken[c.TokenHash] = id
	}
	return e, nil
}

func (e *Engine) load(recordType, id string, v any) (uint64, error) {
	env, err := e.repo.Get(Namespace, recordType, id)
	if err != nil {
		return 0, trusterr.Persistence("loading "+recordType+" "+id, err)
	}
	if err := storage.DecodePlain(env, v); err != nil {
		return 0, trusterr.Persistence("decoding "+recordType+" "+id, err)
	}
	return env.Version, nil
}

func (e *Engine) snapshotChild(userID string) (*ChildProfile, uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ce, ok := e.children[userID]
	if !ok {
		return nil, 0, false
	}
	return ce.profile.clone(), ce.version, true
}

func (e *Engine) childOrNotFound(userID string) (*ChildProfile, uint64, error) {
	p, v, ok := e.snapshotChild(userID)
	if !ok {
		return nil, 0, fmt.Errorf("child profile %s: %w", userID, trusterr.ErrNotFound)
	}
	return p, v, nil
}

func (e *Engine) newChildProfile(userID string, age int) *ChildProfile {
	return &ChildProfile{
		UserID:                userID,
		Age:                   age,
		AllowedDataCollection: []DataCollectionType{CollectNecessaryOperation},
		SessionTimeLimits:     e.limits,
		ContentFilters:        DefaultContentFilters(),
		LastActivity:          e.clock.Now().UTC(),
		BreakRemindersEnabled: true,
	}
}

func validateChild(userID string, age int) error {
	if userID == "" {
		return trusterr.Validationf("user id is required")
	}
	if age < 0 {
		return trusterr.Validationf("age must not be negative")
	}
	if age >= ConsentAge {
		return fmt.Errorf("%w: child profiles are only for users under %d", trusterr.ErrAgeRestricted, ConsentAge)
	}
	return nil
}

// CreateChildProfile stores a child profile with default restrictions.
func (e *Engine) CreateChildProfile(ctx context.Context, userID string, age int) (*ChildProfile, error) {
	if err := validateChild(userID, age); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(userID)
	defer unlock()

	if _, _, ok := e.snapshotChild(userID); ok {
		return nil, trusterr.Validationf("child profile for %s already exists", userID)
	}

	p := e.newChildProfile(userID, age)
	env, err := storage.PlainRecord(p, 1)
	if err != nil {
		return nil, err
	}
	if err := e.repo.PutCAS(Namespace, ChildRecordType, userID, 0, env); err != nil {
		return nil, trusterr.Persistence("creating child profile", err)
	}

	e.mu.Lock()
	e.children[userID] = &childEntry{profile: p, version: 1}
	e.mu.Unlock()
	e.logger.InfoContext(ctx, "child profile created", "user_id", userID, "age", age)
	return p.clone(), nil
}

// EnrollChild creates a child profile and its first consent request in one
// write, so a child never exists without a consent request in flight.
func (e *Engine) EnrollChild(ctx context.Context, userID string, age int, contact ParentContact) (string, error) {
	if err := validateChild(userID, age); err != nil {
		return "", err
	}
	if err := contact.validate(); err != nil {
		return "", err
	}
	unlock := e.locks.Lock(userID)
	defer unlock()

	if _, _, ok := e.snapshotChild(userID); ok {
		return "", trusterr.Validationf("child profile for %s already exists", userID)
	}
	return e.issueConsentLocked(ctx, e.newChildProfile(userID, age), 0, contact)
}

// RemoveChild deletes a child profile and all of its consents. Used to roll
// back an enrollment whose account could not be created.
func (e *Engine) RemoveChild(ctx context.Context, userID string) error {
	unlock := e.locks.Lock(userID)
	defer unlock()

	if _, _, ok := e.snapshotChild(userID); !ok {
		return nil
	}
	consents := e.consentsFor(userID, func(*ParentalConsent) bool { return true })

	err := e.repo.Batch(Namespace, func(tx storage.BatchTx) error {
		for _, c := range consents {
			if err := deleteIfPresent(tx, ConsentRecordType, c.ID); err != nil {
				return err
			}
		}
		return deleteIfPresent(tx, ChildRecordType, userID)
	})
	if err != nil {
		return trusterr.Persistence("removing child profile", err)
	}

	e.mu.Lock()
	for _, c := range consents {
		delete(e.consents, c.ID)
		delete(e.byToken, c.TokenHash)
	}
	delete(e.children, userID)
	e.mu.Unlock()
	e.logger.InfoContext(ctx, "child profile removed", "user_id", userID)
	return nil
}

func deleteIfPresent(tx storage.BatchTx, recordType, id string) error {
	if err := tx.Delete(recordType, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (e *Engine) consentsFor(userID string, keep func(*ParentalConsent) bool) []*ParentalConsent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*ParentalConsent
	for _, c := range e.consents {
		if c.ChildUserID == userID && keep(c) {
			out = append(out, c.clone())
		}
	}
	return out
}

// RequestParentalConsent issues a consent token for the child, valid for
// the consent TTL. Earlier unverified requests for the same child are
// superseded and their tokens stop working. The token is returned to the
// in-process caller and passed to the Notifier; only its hash is stored.
func (e *Engine) RequestParentalConsent(ctx context.Context, userID string, contact ParentContact) (string, error) {
	if err := contact.validate(); err != nil {
		return "", err
	}
	unlock := e.locks.Lock(userID)
	defer unlock()

	child, version, err := e.childOrNotFound(userID)
	if err != nil {
		return "", err
	}
	if e.HasVerifiedConsent(userID) {
		return "", trusterr.Validationf("parental consent for %s is already verified", userID)
	}
	return e.issueConsentLocked(ctx, child, version, contact)
}

// issueConsentLocked writes a new consent and the child pointing at it.
// version 0 creates the child.
func (e *Engine) issueConsentLocked(ctx context.Context, child *ChildProfile, version uint64, contact ParentContact) (string, error) {
	token, err := util.RandomToken()
	if err != nil {
		return "", fmt.Errorf("generating consent token: %w", err)
	}
	now := e.clock.Now().UTC()
	consent := &ParentalConsent{
		ID:          uuid.New(),
		ChildUserID: child.UserID,
		ParentEmail: contact.Email,
		ParentName:  contact.Name,
		Method:      contact.Method,
		TokenHash:   util.SHA256Hex(token),
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.consentTTL),
	}
	superseded := e.consentsFor(child.UserID, func(c *ParentalConsent) bool { return !c.Verified })

	next := child.clone()
	next.ConsentID = consent.ID
	next.ParentEmail = contact.Email
	childEnv, err := storage.PlainRecord(next, version+1)
	if err != nil {
		return "", err
	}
	consentEnv, err := storage.PlainRecord(consent, 0)
	if err != nil {
		return "", err
	}

	err = e.repo.Batch(Namespace, func(tx storage.BatchTx) error {
		for _, old := range superseded {
			if err := deleteIfPresent(tx, ConsentRecordType, old.ID); err != nil {
				return err
			}
		}
		if err := tx.Put(ConsentRecordType, consent.ID, consentEnv); err != nil {
			return err
		}
		return tx.PutCAS(ChildRecordType, child.UserID, version, childEnv)
	})
	if err != nil {
		return "", trusterr.Persistence("storing consent request", err)
	}

	e.mu.Lock()
	for _, old := range superseded {
		delete(e.consents, old.ID)
		delete(e.byToken, old.TokenHash)
	}
	e.consents[consent.ID] = consent
	e.byToken[consent.TokenHash] = consent.ID
	e.children[child.UserID] = &childEntry{profile: next, version: version + 1}
	e.mu.Unlock()

	if err := e.notifier.NotifyConsentRequest(ctx, ConsentRequest{
		ConsentID:   consent.ID,
		ChildUserID: child.UserID,
		ParentEmail: contact.Email,
		ParentName:  contact.Name,
		Method:      contact.Method,
		Token:       token,
		ExpiresAt:   consent.ExpiresAt,
	}); err != nil {
		e.logger.WarnContext(ctx, "consent notification failed", "consent_id", consent.ID, "error", err)
	}
	return token, nil
}

// VerifyParentalConsent redeems token with proof. Unknown or already used
// tokens fail with ErrTokenInvalid, expired ones with ErrTokenExpired, and
// an unsatisfied proof with ErrConsentProofRejected; none of these change
// any state. On success the consent is granted and verified, enhanced
// features are allowed, and chat and friend requests are enabled.
func (e *Engine) VerifyParentalConsent(ctx context.Context, token string, proof ConsentProof) (*ParentalConsent, error) {
	if token == "" {
		return nil, trusterr.ErrTokenInvalid
	}
	hash := util.SHA256Hex(token)

	e.mu.RLock()
	id, ok := e.byToken[hash]
	var childID string
	if ok {
		childID = e.consents[id].ChildUserID
	}
	e.mu.RUnlock()
	if !ok {
		return nil, trusterr.ErrTokenInvalid
	}

	unlock := e.locks.Lock(childID)
	defer unlock()

	e.mu.RLock()
	stored, ok := e.consents[id]
	var consent *ParentalConsent
	if ok {
		consent = stored.clone()
	}
	e.mu.RUnlock()
	if !ok {
		return nil, trusterr.ErrTokenInvalid
	}
	if consent.Verified {
		return nil, fmt.Errorf("%w: token already redeemed", trusterr.ErrTokenInvalid)
	}

	now := e.clock.Now().UTC()
	if consent.ExpiredAt(now) {
		return nil, trusterr.ErrTokenExpired
	}
	satisfied, err := proof.Satisfies(consent.Method)
	if err != nil {
		return nil, err
	}
	if !satisfied {
		return nil, fmt.Errorf("%w: %s not confirmed", trusterr.ErrConsentProofRejected, consent.Method)
	}

	child, version, err := e.childOrNotFound(childID)
	if err != nil {
		return nil, err
	}

	consent.Granted = true
	consent.Verified = true
	consent.VerifiedAt = &now
	next := child.clone()
	next.ConsentID = consent.ID
	next.allow(CollectEnhancedFeatures)
	next.SocialRestrictions.CanChat = true
	next.SocialRestrictions.CanAddFriends = true

	consentEnv, err := storage.PlainRecord(consent, 0)
	if err != nil {
		return nil, err
	}
	childEnv, err := storage.PlainRecord(next, version+1)
	if err != nil {
		return nil, err
	}
	err = e.repo.Batch(Namespace, func(tx storage.BatchTx) error {
		if err := tx.Put(ConsentRecordType, consent.ID, consentEnv); err != nil {
			return err
		}
		return tx.PutCAS(ChildRecordType, childID, version, childEnv)
	})
	if err != nil {
		return nil, trusterr.Persistence("storing consent grant", err)
	}

	e.mu.Lock()
	e.consents[consent.ID] = consent
	e.children[childID] = &childEntry{profile: next, version: version + 1}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "parental consent verified", "consent_id", consent.ID, "child_user_id", childID, "method", string(consent.Method))
	return consent.clone(), nil
}

// HasVerifiedConsent reports whether the child's latest consent is verified.
func (e *Engine) HasVerifiedConsent(userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ce, ok := e.children[userID]
	if !ok || ce.profile.ConsentID == "" {
		return false
	}
	c, ok := e.consents[ce.profile.ConsentID]
	return ok && c.Verified
}

// LatestConsent returns the child's most recent consent request.
func (e *Engine) LatestConsent(userID string) (*ParentalConsent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ce, ok := e.children[userID]
	if !ok {
		return nil, fmt.Errorf("child profile %s: %w", userID, trusterr.ErrNotFound)
	}
	c, ok := e.consents[ce.profile.ConsentID]
	if !ok {
		return nil, fmt.Errorf("consent for %s: %w", userID, trusterr.ErrNotFound)
	}
	return c.clone(), nil
}

// IsChildUser reports whether userID has a child profile.
func (e *Engine) IsChildUser(userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.children[userID]
	return ok
}

// GetChildProfile returns a copy of the child profile.
func (e *Engine) GetChildProfile(userID string) (*ChildProfile, error) {
	p, _, err := e.childOrNotFound(userID)
	return p, err
}

// IsDataCollectionAllowed gates collection of d. Users without a child
// profile are unrestricted.
func (e *Engine) IsDataCollectionAllowed(userID string, d DataCollectionType) (bool, error) {
	if !d.Valid() {
		return false, trusterr.Validationf("unknown data collection type %q", d)
	}
	p, _, ok := e.snapshotChild(userID)
	if !ok {
		return true, nil
	}
	return p.Allows(d), nil
}

// GetContentFilters returns the child's content filters.
func (e *Engine) GetContentFilters(userID string) ([]string, error) {
	p, _, err := e.childOrNotFound(userID)
	if err != nil {
		return nil, err
	}
	return p.ContentFilters, nil
}

// GetSocialRestrictions returns the child's social restrictions.
func (e *Engine) GetSocialRestrictions(userID string) (SocialRestrictions, error) {
	p, _, err := e.childOrNotFound(userID)
	if err != nil {
		return SocialRestrictions{}, err
	}
	return p.SocialRestrictions, nil
}
