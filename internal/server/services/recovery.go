package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/dbx"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/mail"
	"github.com/kaytervn/msa-backend/internal/server/models"
	"github.com/kaytervn/msa-backend/internal/server/repositories/repomanager"
)

const otpDigits = 6

type resetFlow struct {
	separator string
	subject   string
}

var (
	passwordFlow = resetFlow{separator: ";", subject: "RESET PASSWORD"}
	mfaFlow      = resetFlow{separator: "&", subject: "RESET MFA"}
)

// RecoveryService runs the emailed-OTP password and MFA reset flows.
//
// The opaque token handed to the caller encrypts only the record id and the
// issue time. The OTP travels by email alone.
type RecoveryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      FieldCipher
	mailer      mail.Sender
	validity    time.Duration
	now         func() time.Time
	logger      logging.Logger
}

func NewRecoveryService(db *sql.DB, m repomanager.RepositoryManager, cipher FieldCipher, mailer mail.Sender,
	validity time.Duration, logger logging.Logger) *RecoveryService {
	return &RecoveryService{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		mailer:      mailer,
		validity:    validity,
		now:         time.Now,
		logger:      logger.With("module", "recovery"),
	}
}

func (s *RecoveryService) findByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, common.ErrValidation
	}
	encEmail, err := s.cipher.EncryptDeterministic(email)
	if err != nil {
		return nil, err
	}
	return s.repomanager.Users(s.db).GetByEmail(ctx, encEmail)
}

func (s *RecoveryService) issue(ctx context.Context, flow resetFlow, user *models.User, email string,
	store func(ctx context.Context, id, otp string) error) (string, error) {
	otp, err := common.MakeOTP(otpDigits)
	if err != nil {
		return "", fmt.Errorf("otp: %w", err)
	}
	encOtp, err := s.cipher.EncryptRandom(otp)
	if err != nil {
		return "", err
	}
	if err := store(ctx, user.ID, encOtp); err != nil {
		return "", fmt.Errorf("error saving otp: %w", err)
	}

	body := fmt.Sprintf("Your verification code is %s. It expires in %s.", otp, s.validity)
	if err := s.mailer.Send(ctx, email, flow.subject, body); err != nil {
		return "", fmt.Errorf("error sending email: %w", err)
	}

	token, err := s.cipher.EncryptRandom(user.ID + flow.separator + strconv.FormatInt(s.now().UnixMilli(), 10))
	if err != nil {
		return "", err
	}
	s.logger.Info(ctx, "reset code issued", "user_id", user.ID, "subject", flow.subject)
	return token, nil
}

// recordID opens a reset token of the given flow and checks its age.
func (s *RecoveryService) recordID(flow resetFlow, token string) (string, error) {
	plain, err := s.cipher.Decrypt(token)
	if err != nil {
		return "", err
	}
	id, issued, ok := strings.Cut(plain, flow.separator)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: reset token", common.ErrValidation)
	}
	ms, err := strconv.ParseInt(issued, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: reset token", common.ErrValidation)
	}
	age := s.now().Sub(time.UnixMilli(ms))
	if age < 0 || age > s.validity {
		return "", common.ErrInvalidOtp
	}
	return id, nil
}

func (s *RecoveryService) matches(stored, otp string) (bool, error) {
	if stored == "" || otp == "" {
		return false, nil
	}
	plain, err := s.cipher.Decrypt(stored)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(plain), []byte(otp)) == 1, nil
}

// RequestPasswordReset emails a code to the account registered under email.
func (s *RecoveryService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	repo := s.repomanager.Users(s.db)
	return s.issue(ctx, passwordFlow, user, email, repo.SetResetCode)
}

// ConfirmPasswordReset sets newPassword when otp matches the stored code. The
// code is consumed, so a second confirmation fails.
func (s *RecoveryService) ConfirmPasswordReset(ctx context.Context, token, otp, newPassword string) error {
	if token == "" || otp == "" || newPassword == "" {
		return common.ErrValidation
	}
	id, err := s.recordID(passwordFlow, token)
	if err != nil {
		return err
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		user, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		ok, err := s.matches(user.Code, otp)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrInvalidOtp
		}
		updated, err := repo.ConfirmPasswordReset(ctx, user.ID, user.Code, hash)
		if err != nil {
			return err
		}
		if !updated {
			return common.ErrInvalidOtp
		}
		s.logger.Info(ctx, "password reset", "user_id", user.ID)
		return nil
	})
}

// RequestMfaReset emails a code after re-checking the account password.
func (s *RecoveryService) RequestMfaReset(ctx context.Context, email, password string) (string, error) {
	if password == "" {
		return "", common.ErrValidation
	}
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if !checkPassword(user.Password, password) {
		return "", common.ErrInvalidPassword
	}
	repo := s.repomanager.Users(s.db)
	return s.issue(ctx, mfaFlow, user, email, repo.SetMfaOtp)
}

// ConfirmMfaReset drops the enrolled TOTP secret when otp matches, so the
// next credential verification enrolls a new one.
func (s *RecoveryService) ConfirmMfaReset(ctx context.Context, token, otp string) error {
	if token == "" || otp == "" {
		return common.ErrValidation
	}
	id, err := s.recordID(mfaFlow, token)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		user, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		ok, err := s.matches(user.Otp, otp)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrInvalidOtp
		}
		updated, err := repo.ConfirmMfaReset(ctx, user.ID, user.Otp)
		if err != nil {
			return err
		}
		if !updated {
			return common.ErrInvalidOtp
		}
		s.logger.Info(ctx, "second factor reset", "user_id", user.ID)
		return nil
	})
}

