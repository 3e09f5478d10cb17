package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/cryptox"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/kvstore"
	"github.com/kaytervn/msa-backend/internal/server/repositories/repomanager"
	"github.com/kaytervn/msa-backend/internal/server/session"
)

const requestKeyInfo = "msa/request/v1"

// RequestKey derives the key that protects authenticated request payloads
// from the session secret. Clients compute the same value after recovering
// the secret with their private key.
func RequestKey(secretKey, sessionID string) ([]byte, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("%w: empty session secret", common.ErrCipher)
	}
	return cryptox.DeriveSubkey([]byte(secretKey), []byte(sessionID), requestKeyInfo)
}

// KeyExchangeService issues per-user RSA key pairs and delivers the session
// secret encrypted to the cached public half. The private half leaves the
// server once and is never stored.
type KeyExchangeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      FieldCipher
	sessions    Sessions
	publicKeys  kvstore.Store
	logger      logging.Logger
}

func NewKeyExchangeService(db *sql.DB, m repomanager.RepositoryManager, cipher FieldCipher, sessions Sessions,
	publicKeys kvstore.Store, logger logging.Logger) *KeyExchangeService {
	return &KeyExchangeService{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		sessions:    sessions,
		publicKeys:  publicKeys,
		logger:      logger.With("module", "keyexchange"),
	}
}

// HasKeyPair reports whether a public key is cached for username.
func (s *KeyExchangeService) HasKeyPair(ctx context.Context, username string) (bool, error) {
	_, ok, err := s.publicKeys.Get(ctx, username)
	return ok, err
}

// RequestKeyPair re-checks the caller's password, replaces the cached public
// key and returns the PEM encoded private key.
func (s *KeyExchangeService) RequestKeyPair(ctx context.Context, claims *session.Claims, password string) ([]byte, error) {
	if password == "" {
		return nil, common.ErrValidation
	}
	encUsername, err := s.cipher.EncryptDeterministic(claims.Username)
	if err != nil {
		return nil, err
	}
	user, err := s.repomanager.Users(s.db).GetByUsername(ctx, encUsername)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	hash := ""
	if user != nil {
		hash = user.Password
	}
	if !checkPassword(hash, password) {
		return nil, common.ErrInvalidPassword
	}

	priv, err := cryptox.GenerateRSAKey()
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	pub, err := cryptox.EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}
	pemBytes, err := cryptox.EncodePrivateKeyPEM(priv)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}
	if err := s.publicKeys.Put(ctx, claims.Username, pub); err != nil {
		return nil, fmt.Errorf("cache public key: %w", err)
	}

	s.logger.Info(ctx, "key pair issued", "username", claims.Username)
	return pemBytes, nil
}

// FetchSecretKey returns the session secret RSA-OAEP encrypted under the
// caller's cached public key, base64 encoded.
func (s *KeyExchangeService) FetchSecretKey(ctx context.Context, claims *session.Claims) (string, error) {
	encoded, ok, err := s.publicKeys.Get(ctx, claims.Username)
	if err != nil {
		return "", fmt.Errorf("load public key: %w", err)
	}
	if !ok {
		return "", common.ErrNoKeyPair
	}
	pub, err := cryptox.DecodePublicKey(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCipher, err)
	}

	secret, err := s.sessions.SecretKey(claims)
	if err != nil {
		return "", err
	}
	ct, err := cryptox.EncryptOAEP(pub, []byte(secret))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCipher, err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DeriveRequestKey returns the payload key of the session behind claims.
func (s *KeyExchangeService) DeriveRequestKey(claims *session.Claims) ([]byte, error) {
	secret, err := s.sessions.SecretKey(claims)
	if err != nil {
		return nil, err
	}
	return RequestKey(secret, claims.SessionID)
}
