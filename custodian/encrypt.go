package custodian

import (
	"encoding/json"
	"fmt"

	icrypto "github.com/helyxium/trustcore/internal/crypto"
	"github.com/helyxium/trustcore/internal/util"
	"github.com/helyxium/trustcore/storage"
	"github.com/helyxium/trustcore/trusterr"
)

const (
	localTokenVer   = 1
	peerEnvelopeVer = 1
	sessionTokenVer = 1
	recordAADVer    = 1
)

// EncryptLocal seals plaintext under the local key. The token is
// base64url(version || nonce || ciphertext).
func (c *Custodian) EncryptLocal(plaintext []byte) (string, error) {
	var token string
	err := c.withLocalKey(func(key []byte) error {
		sealed, err := util.EncryptAESWithAAD(plaintext, key, icrypto.AADLocal(localTokenVer))
		if err != nil {
			return trusterr.Crypto("encrypt local", err)
		}
		token = util.Base64URLEncode(util.Concat([]byte{localTokenVer}, sealed))
		return nil
	})
	return token, err
}

// DecryptLocal reverses EncryptLocal. Tampering, truncation or a different
// key yields ErrCryptoFailure.
func (c *Custodian) DecryptLocal(token string) ([]byte, error) {
	raw, err := util.Base64URLDecode(token)
	if err != nil {
		return nil, trusterr.Crypto("decode local token", err)
	}
	if len(raw) < 1 || raw[0] != localTokenVer {
		return nil, trusterr.Crypto("decrypt local", fmt.Errorf("unsupported token version"))
	}

	var plaintext []byte
	err = c.withLocalKey(func(key []byte) error {
		pt, err := util.DecryptAESWithAAD(raw[1:], key, icrypto.AADLocal(localTokenVer))
		if err != nil {
			return trusterr.Crypto("decrypt local", err)
		}
		plaintext = pt
		return nil
	})
	return plaintext, err
}

// peerEnvelope bundles the OAEP-wrapped ephemeral key with the payload
// sealed under it.
type peerEnvelope struct {
	Ver  int    `json:"ver"`
	Key  []byte `json:"key"`
	Data []byte `json:"data"`
}

// EncryptForPeer encrypts plaintext for the holder of peerPublicKeyPEM using
// an ephemeral AES-256 key wrapped with RSA-OAEP(SHA-256).
func (c *Custodian) EncryptForPeer(plaintext, peerPublicKeyPEM []byte) (string, error) {
	if _, err := c.privateKey(); err != nil {
		return "", err
	}
	pub, err := util.ParsePublicKeyPEM(peerPublicKeyPEM)
	if err != nil {
		return "", trusterr.Crypto("parse peer public key", err)
	}

	ephemeral, err := util.NewAESKey()
	if err != nil {
		return "", trusterr.Crypto("generate ephemeral key", err)
	}
	defer util.WipeBytes(ephemeral)

	wrapped, err := util.WrapKeyOAEP(pub, ephemeral)
	if err != nil {
		return "", trusterr.Crypto("wrap ephemeral key", err)
	}
	sealed, err := util.EncryptAESWithAAD(plaintext, ephemeral, icrypto.AADPeer(wrapped, peerEnvelopeVer))
	if err != nil {
		return "", trusterr.Crypto("encrypt peer payload", err)
	}

	data, err := json.Marshal(peerEnvelope{Ver: peerEnvelopeVer, Key: wrapped, Data: sealed})
	if err != nil {
		return "", trusterr.Crypto("encode peer envelope", err)
	}
	return util.Base64URLEncode(data), nil
}

// DecryptFromPeer opens an envelope produced by EncryptForPeer against this
// custodian's public key.
func (c *Custodian) DecryptFromPeer(envelope string) ([]byte, error) {
	priv, err := c.privateKey()
	if err != nil {
		return nil, err
	}

	raw, err := util.Base64URLDecode(envelope)
	if err != nil {
		return nil, trusterr.Crypto("decode peer envelope", err)
	}
	var env peerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, trusterr.Crypto("decode peer envelope", err)
	}
	if env.Ver != peerEnvelopeVer || len(env.Key) == 0 || len(env.Data) == 0 {
		return nil, trusterr.Crypto("decode peer envelope", fmt.Errorf("malformed envelope"))
	}

	ephemeral, err := util.UnwrapKeyOAEP(priv, env.Key)
	if err != nil {
		return nil, trusterr.Crypto("unwrap ephemeral key", err)
	}
	defer util.WipeBytes(ephemeral)

	plaintext, err := util.DecryptAESWithAAD(env.Data, ephemeral, icrypto.AADPeer(env.Key, env.Ver))
	if err != nil {
		return nil, trusterr.Crypto("decrypt peer payload", err)
	}
	return plaintext, nil
}

// GenerateSessionKey returns fresh 256-bit key material, base64url encoded.
func (c *Custodian) GenerateSessionKey() (string, error) {
	key, err := util.NewAESKey()
	if err != nil {
		return "", trusterr.Crypto("generate session key", err)
	}
	defer util.WipeBytes(key)
	return util.Base64URLEncode(key), nil
}

func decodeSessionKey(sessionKey string) ([]byte, error) {
	key, err := util.Base64URLDecode(sessionKey)
	if err != nil {
		return nil, trusterr.Crypto("decode session key", err)
	}
	if len(key) != util.AESKeySize {
		return nil, trusterr.Crypto("decode session key", fmt.Errorf("session key is %d bytes", len(key)))
	}
	return key, nil
}

// EncryptWithSessionKey seals plaintext under an ephemeral key from GenerateSessionKey.
func (c *Custodian) EncryptWithSessionKey(sessionKey string, plaintext []byte) (string, error) {
	key, err := decodeSessionKey(sessionKey)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)

	sealed, err := util.EncryptAESWithAAD(plaintext, key, icrypto.AADSession(sessionTokenVer))
	if err != nil {
		return "", trusterr.Crypto("encrypt with session key", err)
	}
	return util.Base64URLEncode(sealed), nil
}

func (c *Custodian) DecryptWithSessionKey(sessionKey, ciphertext string) ([]byte, error) {
	key, err := decodeSessionKey(sessionKey)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	sealed, err := util.Base64URLDecode(ciphertext)
	if err != nil {
		return nil, trusterr.Crypto("decode session ciphertext", err)
	}
	plaintext, err := util.DecryptAESWithAAD(sealed, key, icrypto.AADSession(sessionTokenVer))
	if err != nil {
		return nil, trusterr.Crypto("decrypt with session key", err)
	}
	return plaintext, nil
}

// SealRecord encrypts a storage record under a key derived for namespace,
// bound to its record type and id.
func (c *Custodian) SealRecord(namespace, recordType, recordID string, plaintext []byte, version uint64) (*storage.Envelope, error) {
	var env *storage.Envelope
	err := c.withLocalKey(func(key []byte) error {
		recordKey, err := icrypto.DeriveRecordKey(key, namespace)
		if err != nil {
			return trusterr.Crypto("derive record key", err)
		}
		defer util.WipeBytes(recordKey)

		env, err = storage.SealRecord(recordKey, plaintext, icrypto.AADRecord(namespace, recordType, recordID, recordAADVer), version)
		if err != nil {
			return trusterr.Crypto("seal record", err)
		}
		return nil
	})
	return env, err
}

// OpenRecord decrypts an envelope produced by SealRecord for the same slot.
func (c *Custodian) OpenRecord(namespace, recordType, recordID string, env *storage.Envelope) ([]byte, error) {
	var plaintext []byte
	err := c.withLocalKey(func(key []byte) error {
		recordKey, err := icrypto.DeriveRecordKey(key, namespace)
		if err != nil {
			return trusterr.Crypto("derive record key", err)
		}
		defer util.WipeBytes(recordKey)

		plaintext, err = storage.OpenRecord(recordKey, env, icrypto.AADRecord(namespace, recordType, recordID, recordAADVer))
		if err != nil {
			return trusterr.Crypto("open record", err)
		}
		return nil
	})
	return plaintext, err
}
