package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/filerelay/internal/server/repositories/records"
)

// RepositoryManager vends repositories for one database driver and owns
// its schema migrations.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Records(db *sql.DB) records.Repository
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// New returns the manager for driver ("memory", "postgres" or "sqlite").
func New(driver string) (RepositoryManager, error) {
	switch driver {
	case "memory":
		return NewMemoryRepositoryManager(), nil
	case "postgres":
		return &PostgresRepositoryManager{}, nil
	case "sqlite":
		return &SQLiteRepositoryManager{}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// Open connects to the database for driver. The memory driver needs no
// connection and yields a nil *sql.DB.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var name string
	switch driver {
	case "memory":
		return nil, nil
	case "postgres":
		name = "pgx"
	case "sqlite":
		name = "sqlite"
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	db, err := sqlOpen(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if driver == "sqlite" {
		// one writer at a time; the file lock would reject the rest
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	return db, nil
}
