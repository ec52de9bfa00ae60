package models

import (
	"fmt"
	"time"
)

// CodePurpose selects the policy a secret code is issued under
type CodePurpose string

const (
	PurposeEmailVerification CodePurpose = "email_verification"
	PurposePasswordRecovery  CodePurpose = "password_recovery"
	PurposeAccountUnlock     CodePurpose = "account_unlock"
)

// Valid reports whether p is a known purpose
func (p CodePurpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposePasswordRecovery, PurposeAccountUnlock:
		return true
	}
	return false
}

// Character sets used by the default alphabets
const (
	CharsetDigits  = "0123456789"
	CharsetLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	CharsetHex     = "0123456789ABCDEF"
	CharsetAlnum   = CharsetDigits + CharsetLetters
)

// CharClass requires at least Min characters drawn from Charset
type CharClass struct {
	Charset string
	Min     int
}

// AlphabetSpec describes the composition of a generated code.
// Required classes are placed first, the rest is padded from Fill, then shuffled.
type AlphabetSpec struct {
	Length   int
	Required []CharClass
	Fill     string
}

// Validate checks that the alphabet can always be satisfied
func (a AlphabetSpec) Validate() error {
	if a.Length <= 0 {
		return fmt.Errorf("%w: alphabet length must be positive", ErrInvalidInput)
	}

	required := 0
	for _, class := range a.Required {
		if class.Charset == "" || class.Min < 0 {
			return fmt.Errorf("%w: malformed character class", ErrInvalidInput)
		}
		required += class.Min
	}

	if required > a.Length {
		return fmt.Errorf("%w: required characters exceed length %d", ErrInvalidInput, a.Length)
	}
	if required < a.Length && a.Fill == "" {
		return fmt.Errorf("%w: fill charset required to pad %d characters", ErrInvalidInput, a.Length-required)
	}

	return nil
}

// Allowed returns every character the alphabet may emit
func (a AlphabetSpec) Allowed() string {
	allowed := a.Fill
	for _, class := range a.Required {
		allowed += class.Charset
	}
	return allowed
}

// CodePolicy bundles everything that varies between code purposes
type CodePolicy struct {
	Purpose     CodePurpose
	Alphabet    AlphabetSpec
	TTL         time.Duration
	MaxAttempts int
	Cooldown    time.Duration
	SingleUse   bool
}

// Validate checks that the policy is usable for issuance
func (p CodePolicy) Validate() error {
	if !p.Purpose.Valid() {
		return fmt.Errorf("%w: unknown purpose %q", ErrInvalidInput, p.Purpose)
	}
	if p.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidInput)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown cannot be negative", ErrInvalidInput)
	}
	return p.Alphabet.Validate()
}

// VerificationPolicy: 2 digits + 4 letters, shuffled
func VerificationPolicy() CodePolicy {
	return CodePolicy{
		Purpose: PurposeEmailVerification,
		Alphabet: AlphabetSpec{
			Length: 6,
			Required: []CharClass{
				{Charset: CharsetDigits, Min: 2},
				{Charset: CharsetLetters, Min: 4},
			},
		},
		TTL:         15 * time.Minute,
		MaxAttempts: 5,
		Cooldown:    15 * time.Minute,
		SingleUse:   true,
	}
}

// TemporaryPasswordPolicy: 6 alphanumerics with at least one digit and one letter.
// The code stays valid until expiry or explicit revocation.
func TemporaryPasswordPolicy() CodePolicy {
	return CodePolicy{
		Purpose: PurposePasswordRecovery,
		Alphabet: AlphabetSpec{
			Length: 6,
			Required: []CharClass{
				{Charset: CharsetDigits, Min: 1},
				{Charset: CharsetLetters, Min: 1},
			},
			Fill: CharsetAlnum,
		},
		TTL:         24 * time.Hour,
		MaxAttempts: 5,
		Cooldown:    15 * time.Minute,
		SingleUse:   false,
	}
}

// UnlockPolicy: 8 uppercase hex characters
func UnlockPolicy(maxAttempts int) CodePolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return CodePolicy{
		Purpose: PurposeAccountUnlock,
		Alphabet: AlphabetSpec{
			Length: 8,
			Fill:   CharsetHex,
		},
		TTL:         60 * time.Minute,
		MaxAttempts: maxAttempts,
		Cooldown:    30 * time.Minute,
		SingleUse:   true,
	}
}

// SubjectKey identifies the resource a code protects, e.g. "user:42:account_unlock"
func SubjectKey(userID string, purpose CodePurpose) string {
	return "user:" + userID + ":" + string(purpose)
}

// SecretCode is a single issuance record. Only the bcrypt hash of the code is kept.
type SecretCode struct {
	ID                string
	SubjectKey        string
	Purpose           CodePurpose
	CodeHash          string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	MaxAttempts       int
	RemainingAttempts int
	Cooldown          time.Duration
	CooldownUntil     *time.Time
	SingleUse         bool
	Consumed          bool
	ConsumedAt        *time.Time
	SupersededAt      *time.Time
}

// IsExpired reports whether the code is expired at now. A code whose
// expiry equals now is already expired.
func (c *SecretCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// InCooldown reports whether validation is blocked at now
func (c *SecretCode) InCooldown(now time.Time) bool {
	return c.CooldownUntil != nil && now.Before(*c.CooldownUntil)
}

// IsActive reports whether the code can still be validated
func (c *SecretCode) IsActive(now time.Time) bool {
	return !c.Consumed && c.SupersededAt == nil && !c.IsExpired(now)
}

// IssuedCode is returned from issuance; Plaintext is never persisted
type IssuedCode struct {
	Record    *SecretCode
	Plaintext string
}
