package credential

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/helyxium/trustcore/internal/util"
	"github.com/helyxium/trustcore/storage"
	"github.com/helyxium/trustcore/trusterr"
)

const (
	// Namespace is the storage namespace shared with user profiles so a
	// profile and its credential can be written in one batch.
	Namespace  = "accounts"
	RecordType = "CREDENTIAL"

	// sealed payload: salt || derivedKey || iterations(uint32)
	payloadSize = util.PBKDF2SaltSize + util.PBKDF2KeySize + 4
)

// Sealer encrypts records at rest. *custodian.Custodian implements it.
type Sealer interface {
	SealRecord(namespace, recordType, recordID string, plaintext []byte, version uint64) (*storage.Envelope, error)
	OpenRecord(namespace, recordType, recordID string, env *storage.Envelope) ([]byte, error)
}

// Store persists one sealed password verifier per user.
type Store struct {
	repo   storage.Repository
	sealer Sealer
	hasher *Hasher
}

func NewStore(repo storage.Repository, sealer Sealer, hasher *Hasher) *Store {
	return &Store{repo: repo, sealer: sealer, hasher: hasher}
}

// Prepare derives a fresh verifier for password and seals it, without
// writing it. Callers combine the envelope with other writes via PutTx.
func (s *Store) Prepare(ctx context.Context, userID, password string) (*storage.Envelope, error) {
	salt, err := util.RandomBytes(util.PBKDF2SaltSize)
	if err != nil {
		return nil, trusterr.Crypto("generating salt", err)
	}
	key, err := s.hasher.Derive(ctx, password, salt)
	if err != nil {
		return nil, fmt.Errorf("deriving password key: %w", err)
	}
	defer util.WipeBytes(key)

	payload := make([]byte, 0, payloadSize)
	payload = append(payload, salt...)
	payload = append(payload, key...)
	payload = binary.BigEndian.AppendUint32(payload, uint32(s.hasher.Iterations()))
	defer util.WipeBytes(payload)

	return s.sealer.SealRecord(Namespace, RecordType, userID, payload, 0)
}

// PutTx stages a prepared verifier inside a batch.
func PutTx(tx storage.BatchTx, userID string, env *storage.Envelope) error {
	return tx.Put(RecordType, userID, env)
}

// Set derives and durably stores a new verifier for userID.
func (s *Store) Set(ctx context.Context, userID, password string) error {
	env, err := s.Prepare(ctx, userID, password)
	if err != nil {
		return err
	}
	if err := s.repo.Put(Namespace, RecordType, userID, env); err != nil {
		return trusterr.Persistence("storing credential", err)
	}
	return nil
}

// dummySalt feeds derivations whose result is discarded.
var dummySalt = make([]byte, util.PBKDF2SaltSize)

// VerifyAbsent spends one derivation at the configured cost on password and
// discards it. Callers use it when there is no verifier to check, so the
// miss takes as long as a real mismatch.
func (s *Store) VerifyAbsent(ctx context.Context, password string) error {
	key, err := s.hasher.Derive(ctx, password, dummySalt)
	if err != nil {
		return fmt.Errorf("deriving password key: %w", err)
	}
	util.WipeBytes(key)
	return nil
}

// Verify reports whether password matches the stored verifier. A user with
// no stored credential verifies as false after a dummy derivation.
func (s *Store) Verify(ctx context.Context, userID, password string) (bool, error) {
	env, err := s.repo.Get(Namespace, RecordType, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, s.VerifyAbsent(ctx, password)
	}
	if err != nil {
		return false, trusterr.Persistence("loading credential", err)
	}

	payload, err := s.sealer.OpenRecord(Namespace, RecordType, userID, env)
	if err != nil {
		return false, err
	}
	defer util.WipeBytes(payload)
	if len(payload) != payloadSize {
		return false, trusterr.Crypto("decoding credential", fmt.Errorf("payload is %d bytes", len(payload)))
	}

	salt := payload[:util.PBKDF2SaltSize]
	stored := payload[util.PBKDF2SaltSize : util.PBKDF2SaltSize+util.PBKDF2KeySize]
	iterations := int(binary.BigEndian.Uint32(payload[util.PBKDF2SaltSize+util.PBKDF2KeySize:]))

	derived, err := s.hasher.deriveWith(ctx, password, salt, iterations)
	if err != nil {
		return false, fmt.Errorf("deriving password key: %w", err)
	}
	defer util.WipeBytes(derived)

	return subtle.ConstantTimeCompare(derived, stored) == 1, nil
}

// Delete removes userID's verifier.
func (s *Store) Delete(userID string) error {
	if err := s.repo.Delete(Namespace, RecordType, userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return trusterr.Persistence("deleting credential", err)
	}
	return nil
}
