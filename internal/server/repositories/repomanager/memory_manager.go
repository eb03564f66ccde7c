package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/filerelay/internal/server/repositories/records"
)

// MemoryRepositoryManager keeps everything in process memory. Records are
// lost on restart.
type MemoryRepositoryManager struct {
	records *records.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{records: records.NewMemoryRepository()}
}

// Records ignores db and always returns the same repository.
func (m *MemoryRepositoryManager) Records(*sql.DB) records.Repository {
	return m.records
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}
