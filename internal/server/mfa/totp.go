// Package mfa wraps TOTP enrollment and verification.
package mfa

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Enrollment is a freshly generated secret plus its otpauth:// URL for QR setup.
type Enrollment struct {
	Secret string
	URL    string
}

type Authenticator struct {
	issuer string
	now    func() time.Time
}

func NewAuthenticator(issuer string) *Authenticator {
	return &Authenticator{issuer: issuer, now: time.Now}
}

// Enroll generates a new secret for account. It does not persist anything.
func (a *Authenticator) Enroll(account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.issuer,
		AccountName: account,
	})
	if err != nil {
		return nil, err
	}
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Verify checks code against secret allowing one step of clock skew.
// Malformed input simply fails.
func (a *Authenticator) Verify(code, secret string) bool {
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, a.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
