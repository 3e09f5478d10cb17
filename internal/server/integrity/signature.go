// Package integrity checks the per-request signature headers.
//
// signature = hex(md5(clientId + clientSecret + timestamp)). The digest is
// fixed by deployed clients; freshness of timestamp (unix milliseconds) is
// enforced separately when a window is configured.
package integrity

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/kaytervn/msa-backend/internal/common"
)

// Sign computes the signature clients send in the message-signature header.
func Sign(clientID, clientSecret, timestamp string) string {
	sum := md5.Sum([]byte(clientID + clientSecret + timestamp))
	return hex.EncodeToString(sum[:])
}

// VerifySignature fails closed with ErrInvalidSignature when either header is
// missing or the digest does not match.
func VerifySignature(signature, timestamp, clientID, clientSecret string) error {
	if signature == "" || timestamp == "" {
		return common.ErrInvalidSignature
	}
	want := Sign(clientID, clientSecret, timestamp)
	if subtle.ConstantTimeCompare([]byte(want), []byte(signature)) != 1 {
		return common.ErrInvalidSignature
	}
	return nil
}

// Secrets reads the client credentials from the key hierarchy.
type Secrets interface {
	ConfigValue(key string) (string, error)
}

type Guard struct {
	secrets Secrets
	maxAge  time.Duration
	now     func() time.Time
}

// NewGuard returns a Guard. maxAge of zero disables the freshness check.
func NewGuard(secrets Secrets, maxAge time.Duration) *Guard {
	return &Guard{secrets: secrets, maxAge: maxAge, now: time.Now}
}

// Verify checks the headers against the sealed client credentials.
func (g *Guard) Verify(signature, timestamp string) error {
	clientID, err := g.secrets.ConfigValue(common.ConfigClientID)
	if err != nil {
		return err
	}
	clientSecret, err := g.secrets.ConfigValue(common.ConfigClientSecret)
	if err != nil {
		return err
	}
	if err := VerifySignature(signature, timestamp, clientID, clientSecret); err != nil {
		return err
	}
	return g.checkFreshness(timestamp)
}

func (g *Guard) checkFreshness(timestamp string) error {
	if g.maxAge <= 0 {
		return nil
	}
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp", common.ErrInvalidSignature)
	}
	age := g.now().Sub(time.UnixMilli(ms))
	if age < 0 {
		age = -age
	}
	if age > g.maxAge {
		return fmt.Errorf("%w: stale timestamp", common.ErrInvalidSignature)
	}
	return nil
}
