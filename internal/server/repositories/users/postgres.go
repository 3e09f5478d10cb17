package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/dbx"
	"github.com/kaytervn/msa-backend/internal/server/models"
)

const uniqueViolation = "23505"

const selectUser = `SELECT id, username, email, password, COALESCE(secret, ''), COALESCE(code, ''), COALESCE(otp, ''), created_at
		 FROM users
		 `

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO users (id, username, email, password)
         VALUES ($1, $2, $3, $4)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.Username, user.Email, user.Password).Scan(&user.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg string) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, selectUser+where, arg).Scan(&user.ID, &user.Username, &user.Email,
		&user.Password, &user.Secret, &user.Code, &user.Otp, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, `WHERE username = $1`, username)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `WHERE email = $1`, email)
}

func (r *PostgresRepository) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	ok, err := dbx.RowsAffectedOne(res)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateSecret(ctx context.Context, id, secret string) error {
	return r.updateOne(ctx, `UPDATE users SET secret = $2 WHERE id = $1`, id, secret)
}

func (r *PostgresRepository) SetResetCode(ctx context.Context, id, code string) error {
	return r.updateOne(ctx, `UPDATE users SET code = $2 WHERE id = $1`, id, code)
}

func (r *PostgresRepository) SetMfaOtp(ctx context.Context, id, otp string) error {
	return r.updateOne(ctx, `UPDATE users SET otp = $2 WHERE id = $1`, id, otp)
}

func (r *PostgresRepository) ConfirmPasswordReset(ctx context.Context, id, code, passwordHash string) (bool, error) {
	query :=
		`UPDATE users SET password = $3, code = NULL
		 WHERE id = $1 AND code = $2
		 `

	res, err := r.db.ExecContext(ctx, query, id, code, passwordHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return dbx.RowsAffectedOne(res)
}

func (r *PostgresRepository) ConfirmMfaReset(ctx context.Context, id, otp string) (bool, error) {
	query :=
		`UPDATE users SET secret = NULL, otp = NULL
		 WHERE id = $1 AND otp = $2
		 `

	res, err := r.db.ExecContext(ctx, query, id, otp)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return dbx.RowsAffectedOne(res)
}
