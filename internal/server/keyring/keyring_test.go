package keyring

import (
	"context"
	"errors"
	"testing"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSource struct {
	data    []byte
	loadErr error
}

func (s *memSource) Load(context.Context) ([]byte, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.data, nil
}

func (s *memSource) Store(_ context.Context, data []byte) error {
	s.data = data
	return nil
}

func sealedSource(t *testing.T, masterKey string) *memSource {
	t.Helper()
	b, err := Seal([]byte(masterKey), Properties{
		common.ConfigCommonKey: NewCommonKey(),
		common.ConfigJWTSecret: "jwt-secret",
	})
	require.NoError(t, err)
	raw, err := MarshalBlob(b)
	require.NoError(t, err)
	return &memSource{data: raw}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	props := Properties{common.ConfigCommonKey: NewCommonKey(), "X": "y"}
	b, err := Seal([]byte("master"), props)
	require.NoError(t, err)
	assert.Equal(t, "argon2id", b.KDF)

	got, err := Open([]byte("master"), b)
	require.NoError(t, err)
	assert.Equal(t, props, got)

	_, err = Open([]byte("wrong"), b)
	assert.Error(t, err)
}

func TestSeal_RequiresCommonKey(t *testing.T) {
	_, err := Seal([]byte("m"), Properties{"X": "y"})
	assert.Error(t, err)

	_, err = Seal([]byte("m"), Properties{common.ConfigCommonKey: "c2hvcnQ="})
	assert.Error(t, err)
}

func TestOpen_RejectsUnknownFormat(t *testing.T) {
	_, err := Open([]byte("m"), &Blob{V: 2, KDF: "argon2id", Salt: []byte("s")})
	assert.ErrorIs(t, err, errBlobFormat)
	_, err = Open([]byte("m"), nil)
	assert.ErrorIs(t, err, errBlobFormat)
}

func TestManager_WrongKeyStaysLocked(t *testing.T) {
	m := NewManager(sealedSource(t, "correct"), logging.Nop{}, nil)

	err := m.SetMasterKey(context.Background(), "wrong")
	require.ErrorIs(t, err, common.ErrInvalidMasterKey)
	assert.False(t, m.Unlocked())

	_, err = m.ConfigValue(common.ConfigJWTSecret)
	assert.ErrorIs(t, err, common.ErrSystemLocked)
	_, err = m.CommonKey()
	assert.ErrorIs(t, err, common.ErrSystemLocked)
}

func TestManager_CorrectKeyUnlocks(t *testing.T) {
	m := NewManager(sealedSource(t, "correct"), logging.Nop{}, nil)

	require.NoError(t, m.SetMasterKey(context.Background(), "correct"))
	assert.True(t, m.Unlocked())

	v, err := m.ConfigValue(common.ConfigJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "jwt-secret", v)

	_, err = m.ConfigValue("NOPE")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	ck, err := m.CommonKey()
	require.NoError(t, err)
	assert.Len(t, ck, 32)

	// the copy is the caller's to wipe
	common.WipeByteArray(ck)
	ck2, err := m.CommonKey()
	require.NoError(t, err)
	assert.NotEqual(t, ck, ck2)
}

func TestManager_FailedAttemptClearsPreviousUnlock(t *testing.T) {
	m := NewManager(sealedSource(t, "correct"), logging.Nop{}, nil)
	require.NoError(t, m.SetMasterKey(context.Background(), "correct"))

	require.ErrorIs(t, m.SetMasterKey(context.Background(), "wrong"), common.ErrInvalidMasterKey)
	assert.False(t, m.Unlocked())
}

func TestManager_EmptyAndUnavailable(t *testing.T) {
	m := NewManager(&memSource{loadErr: errors.New("gone")}, logging.Nop{}, nil)

	assert.ErrorIs(t, m.SetMasterKey(context.Background(), ""), common.ErrInvalidMasterKey)
	assert.ErrorIs(t, m.SetMasterKey(context.Background(), "k"), common.ErrInvalidMasterKey)

	m = NewManager(&memSource{data: []byte("{garbage")}, logging.Nop{}, nil)
	assert.ErrorIs(t, m.SetMasterKey(context.Background(), "k"), common.ErrInvalidMasterKey)
}

func TestManager_ClearIsIdempotent(t *testing.T) {
	m := NewManager(sealedSource(t, "correct"), logging.Nop{}, nil)
	require.NoError(t, m.SetMasterKey(context.Background(), "correct"))

	m.ClearMasterKey()
	m.ClearMasterKey()
	assert.False(t, m.Unlocked())
}
