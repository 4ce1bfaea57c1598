package storage

import (
	"encoding/json"
	"fmt"

	"github.com/helyxium/trustcore/internal/util"
)

const (
	envelopeVer = 1

	// SchemeAESGCM marks a record sealed with AES-256-GCM.
	SchemeAESGCM = "aes256gcm"
	// SchemePlain marks a plaintext JSON metadata record.
	SchemePlain = "json"
)

// Envelope is a stored record. Sealed records carry Nonce and Ciphertext;
// plaintext metadata records carry Payload.
type Envelope struct {
	Ver        int             `json:"ver"`
	Scheme     string          `json:"scheme"`
	Nonce      []byte          `json:"nonce,omitempty"`
	Ciphertext []byte          `json:"ciphertext,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Version    uint64          `json:"version,omitempty"`
}

// Clone returns a deep copy of env.
func (env *Envelope) Clone() *Envelope {
	if env == nil {
		return nil
	}
	return &Envelope{
		Ver:        env.Ver,
		Scheme:     env.Scheme,
		Nonce:      util.CopyBytes(env.Nonce),
		Ciphertext: util.CopyBytes(env.Ciphertext),
		Payload:    util.CopyBytes(env.Payload),
		Version:    env.Version,
	}
}

// SealRecord encrypts plaintext into an Envelope using the given record key and AAD.
func SealRecord(recordKey, plaintext, aad []byte, version ...uint64) (*Envelope, error) {
	sealed, err := util.EncryptAESWithAAD(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Ver:        envelopeVer,
		Scheme:     SchemeAESGCM,
		Nonce:      sealed[:util.GCMNonceSize],
		Ciphertext: sealed[util.GCMNonceSize:],
	}
	if len(version) > 0 {
		env.Version = version[0]
	}
	return env, nil
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != envelopeVer {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemeAESGCM {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	return util.DecryptAESWithAAD(util.Concat(envelope.Nonce, envelope.Ciphertext), recordKey, aad)
}

// PlainRecord encodes v as a plaintext JSON Envelope.
func PlainRecord(v any, version uint64) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Envelope{Ver: envelopeVer, Scheme: SchemePlain, Payload: data, Version: version}, nil
}

// DecodePlain decodes a plaintext JSON Envelope into v.
func DecodePlain(envelope *Envelope, v any) error {
	if envelope.Ver != envelopeVer {
		return fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemePlain {
		return fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	if err := json.Unmarshal(envelope.Payload, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}
