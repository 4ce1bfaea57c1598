package util

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	PBKDF2MinIterations = 100_000
	PBKDF2SaltSize      = 32
	PBKDF2KeySize       = 32
)

// PBKDF2SHA256 derives a PBKDF2KeySize key from password and salt.
func PBKDF2SHA256(password string, salt []byte, iterations int) ([]byte, error) {
	if iterations < PBKDF2MinIterations {
		return nil, fmt.Errorf("pbkdf2 iterations %d below minimum %d", iterations, PBKDF2MinIterations)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("pbkdf2 salt is empty")
	}
	return pbkdf2.Key([]byte(Normalize(password)), salt, iterations, PBKDF2KeySize, sha256.New), nil
}
