package config

import (
	"encoding/json"
	"os"

	"github.com/kaytervn/msa-backend/internal/flagx"
	"github.com/kaytervn/msa-backend/internal/timex"
)

// JsonConfig is the on-disk DTO for configuration files. Interval fields use
// timex.Duration so both "1m" and integer nanoseconds are accepted.
// Absent fields keep the value already present in Config.
type JsonConfig struct {
	HTTPAddr          string          `json:"http_addr"`
	DatabaseDSN       string          `json:"database_dsn"`
	RedisURL          string          `json:"redis_url"`
	KeySource         string          `json:"key_source"`
	KeyBlobPath       string          `json:"key_blob_path"`
	S3KeyObject       string          `json:"s3_key_object"`
	S3RootUser        string          `json:"s3_root_user"`
	S3RootPassword    string          `json:"s3_root_password"`
	S3Bucket          string          `json:"s3_bucket"`
	S3Region          string          `json:"s3_region"`
	S3BaseEndpoint    string          `json:"s3_base_endpoint"`
	TokenValidity     timex.Duration  `json:"token_validity"`
	SignatureMaxAge   *timex.Duration `json:"signature_max_age"`
	ResetCodeValidity timex.Duration  `json:"reset_code_validity"`
	TOTPIssuer        string          `json:"totp_issuer"`
	SMTPHost          string          `json:"smtp_host"`
	SMTPPort          int             `json:"smtp_port"`
	SMTPFrom          string          `json:"smtp_from"`
	SMTPEncryption    string          `json:"smtp_encryption"`
	LogLevel          string          `json:"log_level"`
	AllowedOrigins    []string        `json:"allowed_origins"`
}

// parseJson loads configuration values from the JSON file named by the
// -c or -config flag. Without the flag nothing is loaded. An unreadable or
// invalid file panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.RedisURL, c.RedisURL)
	setString(&config.KeySource, c.KeySource)
	setString(&config.KeyBlobPath, c.KeyBlobPath)
	setString(&config.S3KeyObject, c.S3KeyObject)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.TOTPIssuer, c.TOTPIssuer)
	setString(&config.SMTPHost, c.SMTPHost)
	setString(&config.SMTPFrom, c.SMTPFrom)
	setString(&config.SMTPEncryption, c.SMTPEncryption)
	setString(&config.LogLevel, c.LogLevel)

	if c.TokenValidity.Duration > 0 {
		config.TokenValidity = c.TokenValidity.Duration
	}
	// zero is meaningful here: it disables the window
	if c.SignatureMaxAge != nil {
		config.SignatureMaxAge = c.SignatureMaxAge.Duration
	}
	if c.ResetCodeValidity.Duration > 0 {
		config.ResetCodeValidity = c.ResetCodeValidity.Duration
	}
	if c.SMTPPort > 0 {
		config.SMTPPort = c.SMTPPort
	}
	if len(c.AllowedOrigins) > 0 {
		config.AllowedOrigins = c.AllowedOrigins
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
