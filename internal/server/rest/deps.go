package rest

import (
	"context"

	"github.com/kaytervn/msa-backend/internal/server/models"
	"github.com/kaytervn/msa-backend/internal/server/session"
)

type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	Login(ctx context.Context, username, password, code string) (*session.Session, error)
	VerifyCredential(ctx context.Context, username, password string) (string, error)
}

type RecoveryService interface {
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ConfirmPasswordReset(ctx context.Context, token, otp, newPassword string) error
	RequestMfaReset(ctx context.Context, email, password string) (string, error)
	ConfirmMfaReset(ctx context.Context, token, otp string) error
}

type KeyExchange interface {
	HasKeyPair(ctx context.Context, username string) (bool, error)
	RequestKeyPair(ctx context.Context, claims *session.Claims, password string) ([]byte, error)
	FetchSecretKey(ctx context.Context, claims *session.Claims) (string, error)
	DeriveRequestKey(claims *session.Claims) ([]byte, error)
}

type KeyService interface {
	Unlock(ctx context.Context, masterKey string) error
	Lock(ctx context.Context) error
}

// Decryptor opens fields encrypted under the master transport key.
type Decryptor interface {
	OpenMasterFields(fields ...*string) error
}

type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*session.Claims, error)
}

type SignatureGuard interface {
	Verify(signature, timestamp string) error
}

type Secrets interface {
	ConfigValue(key string) (string, error)
}
