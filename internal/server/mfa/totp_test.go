package mfa

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnroll_ProducesUsableSecret(t *testing.T) {
	a := NewAuthenticator("MSA")
	e, err := a.Enroll("alice")
	require.NoError(t, err)

	assert.NotEmpty(t, e.Secret)
	assert.Contains(t, e.URL, "otpauth://totp/")
	assert.Contains(t, e.URL, "issuer=MSA")

	code, err := totp.GenerateCode(e.Secret, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, a.Verify(code, e.Secret))
}

func TestVerify_SkewWindow(t *testing.T) {
	a := NewAuthenticator("MSA")
	e, err := a.Enroll("alice")
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 15, 0, time.UTC)
	a.now = func() time.Time { return now }

	prev, err := totp.GenerateCode(e.Secret, now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, a.Verify(prev, e.Secret), "one step back is tolerated")

	old, err := totp.GenerateCode(e.Secret, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.False(t, a.Verify(old, e.Secret))
}

func TestVerify_BadInputIsFalse(t *testing.T) {
	a := NewAuthenticator("MSA")
	e, err := a.Enroll("alice")
	require.NoError(t, err)

	assert.False(t, a.Verify("", e.Secret))
	assert.False(t, a.Verify("123456", ""))
	assert.False(t, a.Verify("abc", e.Secret))
	assert.False(t, a.Verify("123456", "not-base32!!"))
}
