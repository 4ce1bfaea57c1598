package icrypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// RecordKeyLength is the size of a derived record key (AES-256).
const RecordKeyLength = 32

const recordKeyInfo = "trustcore:record-key:v1"

// DeriveRecordKey expands the local key into a key bound to one storage
// namespace, so a record sealed under "accounts" cannot be opened as
// "coppa" even with identical type and id.
func DeriveRecordKey(localKey []byte, namespace string) ([]byte, error) {
	if len(localKey) == 0 {
		return nil, errors.New("empty local key")
	}
	r := hkdf.New(sha256.New, localKey, []byte(namespace), []byte(recordKeyInfo))
	key := make([]byte, RecordKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving record key: %w", err)
	}
	return key, nil
}
