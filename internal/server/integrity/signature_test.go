package integrity

import (
	"strconv"
	"testing"
	"time"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/stretchr/testify/assert"
)

type staticSecrets map[string]string

func (s staticSecrets) ConfigValue(key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", common.ErrSystemLocked
	}
	return v, nil
}

func TestSign_KnownVector(t *testing.T) {
	// md5("idsecret123")
	assert.Equal(t, "90f72a38410e8630bb9ee3e1e9cffe9a", Sign("id", "secret", "123"))
}

func TestVerifySignature(t *testing.T) {
	ts := "1700000000000"
	sig := Sign("client", "s3cret", ts)

	assert.NoError(t, VerifySignature(sig, ts, "client", "s3cret"))

	flip := func(s string, i int) string {
		b := []byte(s)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		return string(b)
	}

	for i := range sig {
		assert.ErrorIs(t, VerifySignature(flip(sig, i), ts, "client", "s3cret"), common.ErrInvalidSignature)
	}
	for i := range ts {
		assert.ErrorIs(t, VerifySignature(sig, flip(ts, i), "client", "s3cret"), common.ErrInvalidSignature)
	}

	assert.ErrorIs(t, VerifySignature("", ts, "client", "s3cret"), common.ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(sig, "", "client", "s3cret"), common.ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(sig, ts, "client", "other"), common.ErrInvalidSignature)
}

func TestGuard_Freshness(t *testing.T) {
	secrets := staticSecrets{common.ConfigClientID: "client", common.ConfigClientSecret: "s3cret"}
	now := time.UnixMilli(1_700_000_000_000)

	g := NewGuard(secrets, time.Minute)
	g.now = func() time.Time { return now }

	fresh := strconv.FormatInt(now.Add(-30*time.Second).UnixMilli(), 10)
	assert.NoError(t, g.Verify(Sign("client", "s3cret", fresh), fresh))

	future := strconv.FormatInt(now.Add(30*time.Second).UnixMilli(), 10)
	assert.NoError(t, g.Verify(Sign("client", "s3cret", future), future))

	stale := strconv.FormatInt(now.Add(-2*time.Minute).UnixMilli(), 10)
	assert.ErrorIs(t, g.Verify(Sign("client", "s3cret", stale), stale), common.ErrInvalidSignature)

	assert.ErrorIs(t, g.Verify(Sign("client", "s3cret", "abc"), "abc"), common.ErrInvalidSignature)
}

func TestGuard_WindowDisabled(t *testing.T) {
	secrets := staticSecrets{common.ConfigClientID: "client", common.ConfigClientSecret: "s3cret"}
	g := NewGuard(secrets, 0)

	assert.NoError(t, g.Verify(Sign("client", "s3cret", "42"), "42"))
}

func TestGuard_LockedKeyring(t *testing.T) {
	g := NewGuard(staticSecrets{}, time.Minute)
	assert.ErrorIs(t, g.Verify("x", "1"), common.ErrSystemLocked)
}
