// Package otp issues and verifies one-time passcodes for challenged transactions.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// DefaultDigits is the stock code length.
const DefaultDigits = 6

var (
	ErrMismatch = errors.New("otp code mismatch")
	ErrExpired  = errors.New("otp code expired")
)

// Config tunes issued codes. A zero TTL never expires.
type Config struct {
	TTL    time.Duration
	Digits int
}

// Challenge is the OTP state stored on a pending entry.
// It is a value type: the owner copies it in and out under its own lock.
type Challenge struct {
	Code       string    `json:"-"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Verified   bool      `json:"verified"`
	VerifiedAt time.Time `json:"verified_at,omitempty"`
	Attempts   int       `json:"attempts"`
}

// Expired reports whether an unverified challenge is past its TTL.
func (c Challenge) Expired(now time.Time) bool {
	return !c.Verified && !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Manager issues and checks codes.
type Manager struct {
	cfg Config
	now func() time.Time
}

// NewManager builds a Manager. A nil clock uses time.Now.
func NewManager(cfg Config, now func() time.Time) *Manager {
	if cfg.Digits <= 0 {
		cfg.Digits = DefaultDigits
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{cfg: cfg, now: now}
}

// Issue generates a uniformly random numeric code.
func (m *Manager) Issue() (Challenge, error) {
	code, err := generate(m.cfg.Digits)
	if err != nil {
		return Challenge{}, err
	}
	issued := m.now().UTC()
	c := Challenge{Code: code, IssuedAt: issued}
	if m.cfg.TTL > 0 {
		c.ExpiresAt = issued.Add(m.cfg.TTL)
	}
	return c, nil
}

// Verify checks code against c and marks it verified on success.
// A verified challenge stays verified and is never compared again.
func (m *Manager) Verify(c *Challenge, code string) error {
	if c.Verified {
		return nil
	}
	c.Attempts++
	now := m.now().UTC()
	if c.Expired(now) {
		return ErrExpired
	}
	if c.Code == "" || subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		return ErrMismatch
	}
	c.Verified = true
	c.VerifiedAt = now
	c.Code = ""
	return nil
}

func generate(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
