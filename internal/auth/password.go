// Password hashing for email sign-up.
//
// WHY BCRYPT?
// bcrypt is deliberately slow, generates its own salt and embeds it (and the
// cost) in the output, so the whole hash fits in one column:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version

package auth

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost takes roughly 250ms per hash on a small VPS.
const defaultCost = 12

// Password length limits. bcrypt silently truncates past 72 bytes, so longer
// passwords are rejected instead.
const (
	MinPasswordLength = 8
	MaxPasswordBytes  = 72
)

var (
	// ErrInvalidPassword means the password did not match the stored hash.
	ErrInvalidPassword = errors.New("auth: invalid password")
	// ErrWeakPassword means the password breaks the length policy.
	ErrWeakPassword = errors.New("auth: password does not meet policy")
)

// PasswordService hashes and verifies passwords. The cost is a field so tests
// can run at bcrypt.MinCost.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with a custom cost.
// Use bcrypt.MinCost (4) from tests in other packages; never in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// CheckPolicy reports whether plaintext is acceptable for a new account.
func CheckPolicy(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if len(plaintext) > MaxPasswordBytes {
		return fmt.Errorf("%w: must be %d bytes or fewer", ErrWeakPassword, MaxPasswordBytes)
	}
	return nil
}

// Hash hashes plaintext with bcrypt. The result is stored as-is.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", fmt.Errorf("%w: must be %d bytes or fewer", ErrWeakPassword, MaxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and ErrInvalidPassword when
// it does not. The comparison is constant-time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
