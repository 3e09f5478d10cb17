package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/models"
	"github.com/kaytervn/msa-backend/internal/server/repositories/repomanager"
	"github.com/kaytervn/msa-backend/internal/server/session"
)

// AuthService handles registration, credential verification with TOTP
// enrollment, and login.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      FieldCipher
	sessions    Sessions
	totp        SecondFactor
	logger      logging.Logger
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cipher FieldCipher, sessions Sessions,
	totp SecondFactor, logger logging.Logger) *AuthService {
	return &AuthService{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		sessions:    sessions,
		totp:        totp,
		logger:      logger.With("module", "auth"),
	}
}

// Register creates a user. Username and email are stored deterministically
// encrypted, the password as a bcrypt hash.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, common.ErrValidation
	}
	if _, err := netmail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email", common.ErrValidation)
	}

	encUsername, err := s.cipher.EncryptDeterministic(username)
	if err != nil {
		return nil, err
	}
	encEmail, err := s.cipher.EncryptDeterministic(email)
	if err != nil {
		return nil, err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, &models.User{Username: encUsername, Email: encEmail, Password: hash})
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	s.logger.Info(ctx, "user registered", "user_id", u.ID)
	return u, nil
}

func (s *AuthService) authenticate(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, common.ErrValidation
	}
	encUsername, err := s.cipher.EncryptDeterministic(username)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByUsername(ctx, encUsername)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			checkPassword("", password)
			return nil, common.ErrInvalidCredential
		}
		return nil, err
	}
	if !checkPassword(user.Password, password) {
		return nil, common.ErrInvalidCredential
	}
	return user, nil
}

// Login checks password and TOTP and opens a new session, superseding any
// previous one. An account without an enrolled second factor cannot log in.
func (s *AuthService) Login(ctx context.Context, username, password, code string) (*session.Session, error) {
	user, err := s.authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if user.Secret == "" {
		return nil, common.ErrInvalidCredential
	}

	secret, err := s.cipher.Decrypt(user.Secret)
	if err != nil {
		return nil, err
	}
	if !s.totp.Verify(code, secret) {
		return nil, common.ErrInvalidOtp
	}

	return s.sessions.Login(ctx, user.ID, username)
}

// VerifyCredential checks username and password. When the account has no
// second factor yet, a TOTP secret is enrolled and its provisioning URL
// returned; otherwise the URL is empty.
func (s *AuthService) VerifyCredential(ctx context.Context, username, password string) (string, error) {
	user, err := s.authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}
	if user.Secret != "" {
		return "", nil
	}

	enrollment, err := s.totp.Enroll(username)
	if err != nil {
		return "", fmt.Errorf("totp enroll: %w", err)
	}
	encSecret, err := s.cipher.EncryptRandom(enrollment.Secret)
	if err != nil {
		return "", err
	}
	repo := s.repomanager.Users(s.db)
	if err := repo.UpdateSecret(ctx, user.ID, encSecret); err != nil {
		return "", fmt.Errorf("error saving secret: %w", err)
	}

	s.logger.Info(ctx, "second factor enrolled", "user_id", user.ID)
	return enrollment.URL, nil
}
