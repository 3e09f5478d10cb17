package payload

import (
	"bytes"
	"testing"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSecrets map[string]string

func (s staticSecrets) ConfigValue(key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", common.ErrSystemLocked
	}
	return v, nil
}

func TestOpenMasterFields(t *testing.T) {
	priv, err := cryptox.GenerateRSAKey()
	require.NoError(t, err)
	pemBytes, err := cryptox.EncodePrivateKeyPEM(priv)
	require.NoError(t, err)
	d := NewDecryptor(staticSecrets{common.ConfigMasterPrivateKey: string(pemBytes)})

	user, err := SealMasterField(&priv.PublicKey, "alice")
	require.NoError(t, err)
	pass, err := SealMasterField(&priv.PublicKey, "hunter2")
	require.NoError(t, err)
	empty := ""

	require.NoError(t, d.OpenMasterFields(&user, &pass, &empty, nil))
	assert.Equal(t, "alice", user)
	assert.Equal(t, "hunter2", pass)
	assert.Empty(t, empty)

	bad := "aGVsbG8="
	assert.ErrorIs(t, d.OpenMasterFields(&bad), common.ErrCipher)
	notB64 := "%%%"
	assert.ErrorIs(t, d.OpenMasterFields(&notB64), common.ErrCipher)
}

func TestOpenMasterFields_Locked(t *testing.T) {
	d := NewDecryptor(staticSecrets{})
	v := "abc"
	assert.ErrorIs(t, d.OpenMasterFields(&v), common.ErrSystemLocked)

	empty := ""
	assert.NoError(t, d.OpenMasterFields(&empty), "nothing to open, no key needed")
}

func TestOpenRequestFields(t *testing.T) {
	key := bytes.Repeat([]byte{5}, 32)
	pw, err := SealRequestField(key, "hunter2")
	require.NoError(t, err)

	require.NoError(t, OpenRequestFields(key, &pw))
	assert.Equal(t, "hunter2", pw)

	other, err := SealRequestField(bytes.Repeat([]byte{6}, 32), "x")
	require.NoError(t, err)
	assert.ErrorIs(t, OpenRequestFields(key, &other), common.ErrCipher)
}
