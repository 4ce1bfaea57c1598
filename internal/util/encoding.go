package util

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD so visually identical passwords derive the same key.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// FoldIdentifier returns the case-insensitive lookup form of a username or
// email. A Caser is not safe for concurrent use, so one is built per call.
func FoldIdentifier(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// SHA256Hex returns the hex SHA-256 digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
