// Package services contains server-side business logic: credential login and
// second-factor enrollment, account recovery, per-user key exchange and the
// master key lifecycle.
package services

import (
	"context"
	"sync"

	"github.com/kaytervn/msa-backend/internal/server/mfa"
	"github.com/kaytervn/msa-backend/internal/server/session"
	"golang.org/x/crypto/bcrypt"
)

type FieldCipher interface {
	EncryptDeterministic(plain string) (string, error)
	EncryptRandom(plain string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type Sessions interface {
	Login(ctx context.Context, userID, username string) (*session.Session, error)
	SecretKey(claims *session.Claims) (string, error)
	RevokeAll(ctx context.Context) error
}

type SecondFactor interface {
	Enroll(account string) (*mfa.Enrollment, error)
	Verify(code, secret string) bool
}

// bcryptCost is lowered in tests.
var bcryptCost = bcrypt.DefaultCost

func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// dummyHash is compared against when the user does not exist so that lookups
// for unknown accounts cost the same as for known ones.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("msa-dummy-password"), bcryptCost)
	return h
})

func checkPassword(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
