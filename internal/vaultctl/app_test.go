package vaultctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/integrity"
	"github.com/kaytervn/msa-backend/internal/server/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPasswords makes readPassword return entries in order.
func stubPasswords(t *testing.T, entries ...string) {
	t.Helper()
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) {
		if len(entries) == 0 {
			return nil, errors.New("no more input")
		}
		next := entries[0]
		entries = entries[1:]
		return []byte(next), nil
	}
}

func newTestApp() (*App, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewApp(&out, &errOut), &out, &errOut
}

func TestGetNewPassword(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    string
		wantErr bool
	}{
		{name: "matching", entries: []string{"k3y", "k3y"}, want: "k3y"},
		{name: "mismatch", entries: []string{"k3y", "key"}, wantErr: true},
		{name: "empty", entries: []string{"", ""}, wantErr: true},
		{name: "read error", entries: []string{"k3y"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubPasswords(t, tt.entries...)
			var out bytes.Buffer
			got, err := GetNewPassword(&out, "Master key")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
			assert.Contains(t, out.String(), "Repeat Master key: ")
		})
	}
}

func TestInit_WritesOpenableBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "keyring.json")
	stubPasswords(t, "correct horse", "correct horse")

	app, out, errOut := newTestApp()
	code := app.Run(context.Background(), []string{"init", "-o", path, "-mail-user", "ops@example.com", "-mail-pass", "pw"})
	require.Equal(t, 0, code, errOut.String())

	settings := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		k, v, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		settings[k] = v
	}
	require.Contains(t, settings, common.ConfigClientID)
	require.Contains(t, settings, common.ConfigMasterPublicKey)
	assert.NotContains(t, out.String(), "PRIVATE KEY")

	m := keyring.NewManager(keyring.NewFileSource(path), logging.Nop{}, nil)
	require.NoError(t, m.SetMasterKey(context.Background(), "correct horse"))

	id, err := m.ConfigValue(common.ConfigClientID)
	require.NoError(t, err)
	assert.Equal(t, settings[common.ConfigClientID], id)

	user, err := m.ConfigValue(common.ConfigMailUser)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", user)

	priv, err := m.ConfigValue(common.ConfigMasterPrivateKey)
	require.NoError(t, err)
	assert.Contains(t, priv, "PRIVATE KEY")

	assert.ErrorIs(t, m.SetMasterKey(context.Background(), "wrong"), common.ErrInvalidMasterKey)
}

func TestInit_MismatchedKeysWriteNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring.json")
	stubPasswords(t, "one", "two")

	app, _, errOut := newTestApp()
	code := app.Run(context.Background(), []string{"init", "-o", path})
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), errKeyMismatch.Error())
	assert.NoFileExists(t, path)
}

func TestInit_UnknownSource(t *testing.T) {
	app, _, errOut := newTestApp()
	code := app.Run(context.Background(), []string{"init", "-k", "vault"})
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "unknown key source")
}

func TestUnlock(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/key", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["key"] != "master" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"code":"INVALID_MASTER_KEY","message":"Invalid key"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Input key success"}`))
	}))
	t.Cleanup(srv.Close)

	stubPasswords(t, "master")
	app, out, _ := newTestApp()
	require.Equal(t, 0, app.Run(context.Background(), []string{"unlock", "-a", srv.URL + "/"}))
	assert.Equal(t, "unlocked\n", out.String())

	stubPasswords(t, "guess")
	app, _, errOut := newTestApp()
	assert.Equal(t, 1, app.Run(context.Background(), []string{"unlock", "-a", srv.URL}))
	assert.Contains(t, errOut.String(), "INVALID_MASTER_KEY")
}

func TestLock_SendsClientCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/key/clear", r.URL.Path)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "cid" || secret != "csecret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"code":"UNAUTHORIZED","message":"no"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Clear key success"}`))
	}))
	t.Cleanup(srv.Close)

	app, out, errOut := newTestApp()
	require.Equal(t, 0, app.Run(context.Background(), []string{"lock", "-a", srv.URL, "-id", "cid", "-secret", "csecret"}), errOut.String())
	assert.Equal(t, "locked\n", out.String())

	app, _, errOut = newTestApp()
	assert.Equal(t, 1, app.Run(context.Background(), []string{"lock", "-a", srv.URL, "-id", "cid", "-secret", "bad"}))
	assert.Contains(t, errOut.String(), "UNAUTHORIZED")
}

func TestRemote_NonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	err := NewRemote(srv.URL).Unlock(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSign(t *testing.T) {
	app, out, _ := newTestApp()
	app.now = func() time.Time { return time.UnixMilli(1700000000123) }

	require.Equal(t, 0, app.Run(context.Background(), []string{"sign", "-id", "cid", "-secret", "csecret"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, common.TimestampHeaderName+": 1700000000123", lines[0])
	sig := strings.TrimPrefix(lines[1], common.SignatureHeaderName+": ")
	assert.NoError(t, integrity.VerifySignature(sig, "1700000000123", "cid", "csecret"))
}

func TestSign_RequiresCredentials(t *testing.T) {
	t.Setenv("MSA_CLIENT_ID", "")
	t.Setenv("MSA_CLIENT_SECRET", "")
	app, _, _ := newTestApp()
	assert.Equal(t, 2, app.Run(context.Background(), []string{"sign"}))
}

func TestRun_Usage(t *testing.T) {
	app, _, errOut := newTestApp()
	assert.Equal(t, 2, app.Run(context.Background(), nil))
	assert.Contains(t, errOut.String(), "Usage: vaultctl")

	app, _, errOut = newTestApp()
	assert.Equal(t, 2, app.Run(context.Background(), []string{"rotate"}))
	assert.Contains(t, errOut.String(), `unknown command "rotate"`)

	app, out, _ := newTestApp()
	assert.Equal(t, 0, app.Run(context.Background(), []string{"help"}))
	assert.Contains(t, out.String(), "Commands:")
}
