// Package credential validates password strength and stores PBKDF2-derived
// password verifiers sealed by the key custodian.
package credential

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/helyxium/trustcore/trusterr"
)

const (
	MinPasswordLength   = 8
	MinCharacterClasses = 3

	// SpecialCharacters is the set counted as the "special" character class.
	SpecialCharacters = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// ValidatePasswordStrength requires at least MinPasswordLength characters
// drawn from at least MinCharacterClasses of upper, lower, digit, special.
func ValidatePasswordStrength(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", trusterr.ErrWeakPassword, MinPasswordLength)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(SpecialCharacters, r):
			special = true
		}
	}

	classes := 0
	for _, ok := range []bool{upper, lower, digit, special} {
		if ok {
			classes++
		}
	}
	if classes < MinCharacterClasses {
		return fmt.Errorf("%w: must mix at least %d of upper, lower, digit, special", trusterr.ErrWeakPassword, MinCharacterClasses)
	}
	return nil
}
