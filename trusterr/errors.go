// Package trusterr defines the failure taxonomy shared by every trust core
// component. Callers match with errors.Is; components wrap with %w.
package trusterr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a malformed or missing input field.
	ErrValidation = errors.New("validation error")
	// ErrDuplicateUser indicates the username or email is already registered.
	ErrDuplicateUser = errors.New("duplicate user")
	// ErrWeakPassword indicates the password fails the strength policy.
	ErrWeakPassword = errors.New("weak password")
	// ErrAgeRestricted indicates the operation is not permitted for the given age.
	ErrAgeRestricted = errors.New("age restricted")
	// ErrUnauthorized indicates a credential did not verify.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller is authenticated but not the party
	// the operation belongs to.
	ErrForbidden = errors.New("forbidden")
	// ErrAccountLocked indicates too many failed attempts.
	ErrAccountLocked = errors.New("account locked")
	// ErrMFARequired indicates a second factor must be completed.
	ErrMFARequired = errors.New("mfa required")
	// ErrSessionExpired indicates the session passed its absolute expiry or was logged out.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotFound indicates no session exists for the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenExpired indicates a consent token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid indicates a consent token is unknown or already used.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrConsentProofRejected indicates the proof for the consent method was not satisfied.
	ErrConsentProofRejected = errors.New("consent proof rejected")
	// ErrCryptoFailure indicates a ciphertext failed to authenticate or decode.
	ErrCryptoFailure = errors.New("crypto failure")
	// ErrPersistence indicates a durable write or read failed.
	ErrPersistence = errors.New("persistence error")
	// ErrNotFound indicates the referenced user or child profile does not exist.
	ErrNotFound = errors.New("not found")
)

// Validationf returns an ErrValidation describing the offending input.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence wraps err as ErrPersistence, keeping err in the chain.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Crypto wraps err as ErrCryptoFailure, keeping err in the chain.
func Crypto(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrCryptoFailure, op, err)
}
