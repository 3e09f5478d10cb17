package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/kaytervn/msa-backend/internal/flagx"
)

var serverFlags = []string{
	"-a", "-d", "-r", "-k", "-f", "-t", "-w", "-o", "-l",
	"-u", "-p", "-b", "-g", "-e", "-s", "-x",
}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":6677")
//	-d string   PostgreSQL DSN
//	-r string   Redis URL for the shared session registry (empty = in-process)
//	-k string   key blob source: file or s3
//	-f string   key blob path (file source)
//	-t int      session token validity, minutes
//	-w int      request signature freshness window, seconds (0 disables)
//	-o int      password/MFA reset validity, minutes
//	-l string   log level
//	-u/-p/-b/-g/-e  S3 user, password, bucket, region, base endpoint
//	-s string   SMTP host (empty = log-only mail)
//	-x string   comma-separated websocket origin patterns
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "redis URL")
	fs.StringVar(&config.KeySource, "k", config.KeySource, "key blob source (file|s3)")
	fs.StringVar(&config.KeyBlobPath, "f", config.KeyBlobPath, "key blob path")

	tokenValidity := fs.Int("t", int(config.TokenValidity.Minutes()), "token validity (in minutes)")
	signatureMaxAge := fs.Int("w", int(config.SignatureMaxAge.Seconds()), "signature window (in seconds)")
	resetValidity := fs.Int("o", int(config.ResetCodeValidity.Minutes()), "reset code validity (in minutes)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.SMTPHost, "s", config.SMTPHost, "SMTP host")

	origins := fs.String("x", strings.Join(config.AllowedOrigins, ","), "websocket origin patterns")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidity = time.Duration(*tokenValidity) * time.Minute
	config.SignatureMaxAge = time.Duration(*signatureMaxAge) * time.Second
	config.ResetCodeValidity = time.Duration(*resetValidity) * time.Minute
	config.AllowedOrigins = splitCSV(*origins)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
