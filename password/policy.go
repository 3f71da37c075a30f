// Package password provides credential hashing and the password
// lifecycle rules: complexity requirements, reuse history, and expiry.
package password

import (
	"errors"
	"time"
	"unicode"
)

// Sentinel errors reported by policy checks.
var (
	ErrTooShort       = errors.New("password must be at least the minimum length")
	ErrMissingUpper   = errors.New("password must contain an uppercase letter")
	ErrMissingLower   = errors.New("password must contain a lowercase letter")
	ErrMissingDigit   = errors.New("password must contain a digit")
	ErrMissingSpecial = errors.New("password must contain a special character")
	ErrRecentlyUsed   = errors.New("password was used recently")
)

const (
	// DefaultMinLength is the minimum accepted password length.
	DefaultMinLength = 12
	// DefaultHistorySize is how many previous hashes are retained and
	// checked against on change.
	DefaultHistorySize = 5
	// DefaultExpiry is how long a password stays valid after it is set.
	DefaultExpiry = 90 * 24 * time.Hour
)

// Policy applies complexity, history and expiry rules on top of a
// Hasher. Zero-valued fields fall back to the package defaults.
type Policy struct {
	hasher      *Hasher
	minLength   int
	historySize int
	expiry      time.Duration
}

// NewPolicy returns a Policy backed by hasher. minLength, historySize
// and expiry may be zero to take the defaults.
func NewPolicy(hasher *Hasher, minLength, historySize int, expiry time.Duration) (*Policy, error) {
	if hasher == nil {
		return nil, errors.New("password policy requires a hasher")
	}
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Policy{
		hasher:      hasher,
		minLength:   minLength,
		historySize: historySize,
		expiry:      expiry,
	}, nil
}

// Verify compares a candidate against a stored hash.
func (p *Policy) Verify(candidate, encodedHash string) (bool, error) {
	return p.hasher.Verify(candidate, encodedHash)
}

// CheckComplexity validates the candidate against the length and
// character-class rules. The first failed rule is returned.
func (p *Policy) CheckComplexity(candidate string) error {
	if len([]rune(candidate)) < p.minLength {
		return ErrTooShort
	}
	var upper, lower, digit, special bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	switch {
	case !upper:
		return ErrMissingUpper
	case !lower:
		return ErrMissingLower
	case !digit:
		return ErrMissingDigit
	case !special:
		return ErrMissingSpecial
	}
	return nil
}

// CheckHistory verifies the candidate against each retained hash and
// returns ErrRecentlyUsed on a match. Only the newest historySize
// entries are considered, so a hash that has rotated out of the window
// no longer blocks reuse. Unparseable history entries are skipped.
func (p *Policy) CheckHistory(candidate string, history []string) error {
	if len(history) > p.historySize {
		history = history[len(history)-p.historySize:]
	}
	for _, encoded := range history {
		ok, err := p.hasher.Verify(candidate, encoded)
		if err != nil {
			continue
		}
		if ok {
			return ErrRecentlyUsed
		}
	}
	return nil
}

// PushHistory appends hash to history and trims to the retained
// window, oldest first out.
func (p *Policy) PushHistory(history []string, hash string) []string {
	history = append(history, hash)
	if len(history) > p.historySize {
		history = history[len(history)-p.historySize:]
	}
	return history
}

// ExpiresAt returns when a password set at the given time stops being
// valid for sensitive operations.
func (p *Policy) ExpiresAt(setAt time.Time) time.Time {
	return setAt.Add(p.expiry)
}

// Expired reports whether a password set to expire at expiresAt has
// passed its validity window. A zero expiresAt never expires.
func (p *Policy) Expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
}

// Set validates candidate against complexity and history, hashes it,
// and returns the new hash plus the updated history window.
func (p *Policy) Set(candidate string, history []string) (hash string, updated []string, err error) {
	if err := p.CheckComplexity(candidate); err != nil {
		return "", nil, err
	}
	if err := p.CheckHistory(candidate, history); err != nil {
		return "", nil, err
	}
	hash, err = p.hasher.Hash(candidate)
	if err != nil {
		return "", nil, err
	}
	return hash, p.PushHistory(history, hash), nil
}
