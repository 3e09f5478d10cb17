package repomanager

import (
	"context"
	"database/sql"

	"github.com/kaytervn/msa-backend/internal/dbx"
	"github.com/kaytervn/msa-backend/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}
