package services

import (
	"bytes"
	"context"
	"database/sql"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/dbx"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/fieldcipher"
	"github.com/kaytervn/msa-backend/internal/server/kvstore"
	"github.com/kaytervn/msa-backend/internal/server/models"
	usersrepo "github.com/kaytervn/msa-backend/internal/server/repositories/users"
	"github.com/kaytervn/msa-backend/internal/server/session"
	"golang.org/x/crypto/bcrypt"
)

func init() { bcryptCost = bcrypt.MinCost }

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

type staticKeys struct {
	key []byte
}

func (s *staticKeys) CommonKey() ([]byte, error) {
	if s.key == nil {
		return nil, common.ErrSystemLocked
	}
	return bytes.Clone(s.key), nil
}

type staticSecrets map[string]string

func (s staticSecrets) ConfigValue(key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", common.ErrorNotFound
	}
	return v, nil
}

func newCipher() (*fieldcipher.Cipher, *staticKeys) {
	keys := &staticKeys{key: bytes.Repeat([]byte{3}, 32)}
	return fieldcipher.New(keys), keys
}

func newSessions(cipher *fieldcipher.Cipher) *session.Registry {
	return session.NewRegistry(kvstore.NewMemoryStore(), staticSecrets{common.ConfigJWTSecret: "jwt"}, cipher,
		nil, time.Hour, logging.Nop{}, nil)
}

// memUsers is an in-memory users.Repository with injectable failures.
type memUsers struct {
	mu   sync.Mutex
	rows map[string]*models.User

	getErr    error
	updateErr error
}

func newMemUsers() *memUsers {
	return &memUsers{rows: make(map[string]*models.User)}
}

func (m *memUsers) find(pred func(u *models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.rows {
		if pred(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Username == u.Username || row.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	if u.ID == "" {
		u.ID = "u-" + string(rune('a'+len(m.rows)))
	}
	u.CreatedAt = time.Now()
	cp := *u
	m.rows[u.ID] = &cp
	return u, nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Username == username })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *memUsers) update(id string, fn func(u *models.User) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return false, m.updateErr
	}
	u, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	return fn(u), nil
}

func (m *memUsers) set(id string, fn func(u *models.User)) error {
	ok, err := m.update(id, func(u *models.User) bool { fn(u); return true })
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}

func (m *memUsers) UpdateSecret(_ context.Context, id, secret string) error {
	return m.set(id, func(u *models.User) { u.Secret = secret })
}

func (m *memUsers) SetResetCode(_ context.Context, id, code string) error {
	return m.set(id, func(u *models.User) { u.Code = code })
}

func (m *memUsers) SetMfaOtp(_ context.Context, id, otp string) error {
	return m.set(id, func(u *models.User) { u.Otp = otp })
}

func (m *memUsers) ConfirmPasswordReset(_ context.Context, id, code, hash string) (bool, error) {
	return m.update(id, func(u *models.User) bool {
		if u.Code == "" || u.Code != code {
			return false
		}
		u.Password, u.Code = hash, ""
		return true
	})
}

func (m *memUsers) ConfirmMfaReset(_ context.Context, id, otp string) (bool, error) {
	return m.update(id, func(u *models.User) bool {
		if u.Otp == "" || u.Otp != otp {
			return false
		}
		u.Secret, u.Otp = "", ""
		return true
	})
}

type fakeRepoManager struct {
	u *memUsers
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository       { return m.u }

// captureMailer records the last message sent.
type captureMailer struct {
	to, subject, body string
	err               error
}

func (c *captureMailer) Send(_ context.Context, to, subject, body string) error {
	if c.err != nil {
		return c.err
	}
	c.to, c.subject, c.body = to, subject, body
	return nil
}

var otpInBody = regexp.MustCompile(`\b(\d{6})\b`)

func (c *captureMailer) otp(t *testing.T) string {
	t.Helper()
	m := otpInBody.FindStringSubmatch(c.body)
	if m == nil {
		t.Fatalf("no otp in mail body %q", c.body)
	}
	return m[1]
}

// seedUser stores a user the way Register would.
func seedUser(t *testing.T, repo *memUsers, cipher *fieldcipher.Cipher, username, email, password string) *models.User {
	t.Helper()
	encU, err := cipher.EncryptDeterministic(username)
	if err != nil {
		t.Fatal(err)
	}
	encE, err := cipher.EncryptDeterministic(email)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	u, err := repo.Create(context.Background(), &models.User{Username: encU, Email: encE, Password: hash})
	if err != nil {
		t.Fatal(err)
	}
	return u
}
