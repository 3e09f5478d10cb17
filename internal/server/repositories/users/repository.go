package users

import (
	"context"

	"github.com/kaytervn/msa-backend/internal/server/models"
)

// Repository stores users. Lookup arguments are field ciphertext, never
// plaintext.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateSecret(ctx context.Context, id, secret string) error
	SetResetCode(ctx context.Context, id, code string) error
	SetMfaOtp(ctx context.Context, id, otp string) error
	// ConfirmPasswordReset replaces the password and clears the reset code
	// only while the stored code still equals code. It reports whether a row
	// was updated.
	ConfirmPasswordReset(ctx context.Context, id, code, passwordHash string) (bool, error)
	// ConfirmMfaReset clears the TOTP secret and the reset otp only while the
	// stored otp still equals otp.
	ConfirmMfaReset(ctx context.Context, id, otp string) (bool, error)
}
