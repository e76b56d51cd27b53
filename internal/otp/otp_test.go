package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestIssue_Format(t *testing.T) {
	m := NewManager(Config{}, nil)
	for i := 0; i < 200; i++ {
		c, err := m.Issue()
		require.NoError(t, err)
		require.Len(t, c.Code, DefaultDigits)
		for _, r := range c.Code {
			require.True(t, r >= '0' && r <= '9', "non-digit in %q", c.Code)
		}
		assert.True(t, c.ExpiresAt.IsZero())
	}

	c, err := NewManager(Config{Digits: 8}, nil).Issue()
	require.NoError(t, err)
	assert.Len(t, c.Code, 8)
}

func TestVerify(t *testing.T) {
	m := NewManager(Config{}, nil)
	c, err := m.Issue()
	require.NoError(t, err)
	code := c.Code

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, m.Verify(&c, wrong), ErrMismatch)
	assert.False(t, c.Verified)

	require.NoError(t, m.Verify(&c, code))
	assert.True(t, c.Verified)
	assert.Empty(t, c.Code)
	assert.Equal(t, 2, c.Attempts)

	// already verified: no re-challenge
	require.NoError(t, m.Verify(&c, "anything"))
	assert.Equal(t, 2, c.Attempts)
}

func TestVerify_TTL(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(Config{TTL: time.Minute}, clk.now)

	c, err := m.Issue()
	require.NoError(t, err)
	assert.Equal(t, clk.t.Add(time.Minute), c.ExpiresAt)

	clk.t = clk.t.Add(time.Minute)
	assert.False(t, c.Expired(clk.t))

	clk.t = clk.t.Add(time.Second)
	assert.True(t, c.Expired(clk.t))
	assert.ErrorIs(t, m.Verify(&c, c.Code), ErrExpired)
	assert.False(t, c.Verified)
}

func TestVerify_VerifiedNeverExpires(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(Config{TTL: time.Minute}, clk.now)
	c, err := m.Issue()
	require.NoError(t, err)
	require.NoError(t, m.Verify(&c, c.Code))

	clk.t = clk.t.Add(time.Hour)
	assert.False(t, c.Expired(clk.t))
	assert.NoError(t, m.Verify(&c, ""))
}
