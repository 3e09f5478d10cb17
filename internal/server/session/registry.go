// Package session issues bearer tokens and keeps the single authoritative
// session per username. A token is only valid while its sessionId is the one
// the registry currently holds for that username.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/kvstore"
	"github.com/kaytervn/msa-backend/internal/server/metrics"
)

const secretKeyLength = 32

// Claims is the token payload. SecretKey holds the field-cipher ciphertext of
// the session secret, never the secret itself.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"id"`
	Username  string `json:"username"`
	SecretKey string `json:"secretKey"`
	SessionID string `json:"sessionId"`
}

// Session is what a successful login hands back to the caller.
type Session struct {
	UserID    string
	Username  string
	SessionID string
	SecretKey string
	Token     string
	ExpiresAt time.Time
}

// Secrets reads sealed configuration properties.
type Secrets interface {
	ConfigValue(key string) (string, error)
}

// FieldCipher encrypts the session secret embedded in the token.
type FieldCipher interface {
	EncryptRandom(plain string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Notifier is told when a username's previous sessions must be evicted.
type Notifier interface {
	ForceLogout(ctx context.Context, username string)
}

type Registry struct {
	store    kvstore.Store
	secrets  Secrets
	cipher   FieldCipher
	notifier Notifier
	validity time.Duration
	now      func() time.Time

	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewRegistry builds a registry. notifier may be nil when nothing listens
// for evictions.
func NewRegistry(store kvstore.Store, secrets Secrets, cipher FieldCipher, notifier Notifier, validity time.Duration, logger logging.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		store:    store,
		secrets:  secrets,
		cipher:   cipher,
		notifier: notifier,
		validity: validity,
		now:      time.Now,
		logger:   logger.With("module", "session"),
		metrics:  m,
	}
}

// Login creates a fresh session for username, replacing any previous one,
// and then evicts devices still bound to the old session.
func (r *Registry) Login(ctx context.Context, userID, username string) (*Session, error) {
	jwtSecret, err := r.secrets.ConfigValue(common.ConfigJWTSecret)
	if err != nil {
		return nil, err
	}

	secretKey, err := common.MakeRandString(secretKeyLength)
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}
	sessionID, err := newSessionID(username, r.now())
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	sealedSecret, err := r.cipher.EncryptRandom(secretKey)
	if err != nil {
		return nil, err
	}

	expires := r.now().Add(r.validity)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(r.now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID:    userID,
		Username:  username,
		SecretKey: sealedSecret,
		SessionID: sessionID,
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	if err := r.store.Put(ctx, username, sessionID); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	// the new session is authoritative before the old device hears about it
	if r.notifier != nil {
		r.notifier.ForceLogout(ctx, username)
	}

	r.metrics.IncLogins()
	r.logger.Info(ctx, "session issued", "username", username)

	return &Session{
		UserID:    userID,
		Username:  username,
		SessionID: sessionID,
		SecretKey: secretKey,
		Token:     signed,
		ExpiresAt: expires,
	}, nil
}

func newSessionID(username string, at time.Time) (string, error) {
	nonce, err := common.MakeRandHexString(16)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(username + strconv.FormatInt(at.UnixNano(), 10) + nonce))
	return hex.EncodeToString(sum[:]), nil
}

// Verify checks signature and expiry and that the token's session is still
// the current one for its username.
func (r *Registry) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, common.ErrInvalidSession
	}
	jwtSecret, err := r.secrets.ConfigValue(common.ConfigJWTSecret)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(r.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidSession, err)
	}
	if !token.Valid || claims.Username == "" || claims.SessionID == "" {
		return nil, common.ErrInvalidSession
	}

	ok, err := r.IsValidSession(ctx, claims.Username, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrInvalidSession
	}
	return claims, nil
}

// IsValidSession reports whether sessionID is the current one for username.
func (r *Registry) IsValidSession(ctx context.Context, username, sessionID string) (bool, error) {
	current, ok, err := r.store.Get(ctx, username)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	return ok && current == sessionID, nil
}

// SecretKey recovers the session secret embedded in verified claims.
func (r *Registry) SecretKey(claims *Claims) (string, error) {
	if claims == nil {
		return "", errors.New("nil claims")
	}
	return r.cipher.Decrypt(claims.SecretKey)
}

// Revoke drops the session of username.
func (r *Registry) Revoke(ctx context.Context, username string) error {
	return r.store.Delete(ctx, username)
}

// RevokeAll drops every session.
func (r *Registry) RevokeAll(ctx context.Context) error {
	return r.store.Clear(ctx)
}
