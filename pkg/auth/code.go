package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/BradenHooton/loanguard/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCodeHashCost keeps verification latency low; codes are short-lived and attempt-capped
const DefaultCodeHashCost = 10

// GenerateCode builds a code satisfying spec. Required classes are drawn first,
// the remainder is padded from Fill, then the whole code is shuffled.
func GenerateCode(spec models.AlphabetSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	code := make([]byte, 0, spec.Length)
	for _, class := range spec.Required {
		for i := 0; i < class.Min; i++ {
			c, err := randomChar(class.Charset)
			if err != nil {
				return "", err
			}
			code = append(code, c)
		}
	}

	for len(code) < spec.Length {
		c, err := randomChar(spec.Fill)
		if err != nil {
			return "", err
		}
		code = append(code, c)
	}

	if err := shuffle(code); err != nil {
		return "", err
	}

	return string(code), nil
}

// Matches reports whether code has the length, charset and class composition of spec
func Matches(spec models.AlphabetSpec, code string) bool {
	if len(code) != spec.Length {
		return false
	}

	allowed := spec.Allowed()
	for i := 0; i < len(code); i++ {
		if !containsByte(allowed, code[i]) {
			return false
		}
	}

	for _, class := range spec.Required {
		count := 0
		for i := 0; i < len(code); i++ {
			if containsByte(class.Charset, code[i]) {
				count++
			}
		}
		if count < class.Min {
			return false
		}
	}

	return true
}

// HashCode hashes a code for storage
func HashCode(code string, cost int) (string, error) {
	if code == "" {
		return "", fmt.Errorf("code cannot be empty")
	}
	if cost == 0 {
		cost = DefaultCodeHashCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	return string(hashed), nil
}

// CompareCode reports whether code matches the stored hash
func CompareCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

func randomChar(charset string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random character: %w", err)
	}
	return charset[n.Int64()], nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("failed to shuffle code: %w", err)
		}
		j := n.Int64()
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func containsByte(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return true
		}
	}
	return false
}
