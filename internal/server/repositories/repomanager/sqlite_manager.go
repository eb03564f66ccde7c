package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/filerelay/internal/server/repositories/records"
	_ "modernc.org/sqlite"
)

// SQLiteRepositoryManager vends SQLite-backed repositories for
// single-node deployments.
type SQLiteRepositoryManager struct{}

func (m *SQLiteRepositoryManager) Records(db *sql.DB) records.Repository {
	return records.NewSQLRepository(db, records.Question)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db, "sqlite3", "sqlite")
}
