package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"http_addr":           "www.example:9000",
		"database_dsn":        "postgres://db",
		"redis_url":           "redis://cache:6379/1",
		"key_source":          "s3",
		"s3_key_object":       "keys/blob.json",
		"token_validity":      "2h",
		"signature_max_age":   "0s",
		"reset_code_validity": 300000000000,
		"totp_issuer":         "Vault",
		"smtp_host":           "mail",
		"smtp_port":           465,
		"smtp_encryption":     "ssl",
		"allowed_origins":     []string{"vault.example.com"},
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.HTTPAddr)
		assert.Equal(t, "postgres://db", cfg.DatabaseDSN)
		assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
		assert.Equal(t, KeySourceS3, cfg.KeySource)
		assert.Equal(t, "keys/blob.json", cfg.S3KeyObject)
		assert.Equal(t, 2*time.Hour, cfg.TokenValidity)
		assert.Equal(t, time.Duration(0), cfg.SignatureMaxAge, "explicit zero disables the window")
		assert.Equal(t, 5*time.Minute, cfg.ResetCodeValidity)
		assert.Equal(t, "Vault", cfg.TOTPIssuer)
		assert.Equal(t, "mail", cfg.SMTPHost)
		assert.Equal(t, 465, cfg.SMTPPort)
		assert.Equal(t, "ssl", cfg.SMTPEncryption)
		assert.Equal(t, []string{"vault.example.com"}, cfg.AllowedOrigins)

		// untouched keys keep their defaults
		assert.Equal(t, "keyring.json", cfg.KeyBlobPath)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			HTTPAddr:        "defaults:1234",
			DatabaseDSN:     "vault.db",
			TokenValidity:   2 * time.Minute,
			SignatureMaxAge: 3 * time.Minute,
			S3Bucket:        "s3bucket",
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.HTTPAddr)
		assert.Equal(t, "vault.db", cfg.DatabaseDSN)
		assert.Equal(t, 2*time.Minute, cfg.TokenValidity)
		assert.Equal(t, 3*time.Minute, cfg.SignatureMaxAge)
		assert.Equal(t, "s3bucket", cfg.S3Bucket)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "nope.json")}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
