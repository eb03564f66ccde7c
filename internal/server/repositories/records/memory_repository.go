package records

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps records in process memory. A single mutex
// serializes every call, which also serializes UpdateStatus per id.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]models.TransferRecord
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]models.TransferRecord), now: time.Now}
}

func clone(rec models.TransferRecord) *models.TransferRecord {
	if rec.TransferredAt != nil {
		t := *rec.TransferredAt
		rec.TransferredAt = &t
	}
	return &rec
}

func (r *MemoryRepository) Create(ctx context.Context, rec *models.TransferRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := r.records[rec.ID]; exists {
		return "", fmt.Errorf("%w: transfer %s", common.ErrAlreadyExists, rec.ID)
	}
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}

	r.records[rec.ID] = *clone(*rec)
	return rec.ID, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(rec), nil
}

func (r *MemoryRepository) ListFor(ctx context.Context, identity string) ([]*models.TransferRecord, error) {
	r.mu.Lock()
	result := []*models.TransferRecord{}
	for _, rec := range r.records {
		if rec.SenderID == identity || rec.RecipientID == identity {
			result = append(result, clone(rec))
		}
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status models.TransferStatus, at *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return common.ErrorNotFound
	}
	if !rec.Status.CanMoveTo(status) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, rec.Status, status)
	}

	rec.Status = status
	if at != nil {
		t := at.UTC()
		rec.TransferredAt = &t
	}
	r.records[id] = rec
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *MemoryRepository) HandleInUse(ctx context.Context, handle string) (bool, error) {
	if handle == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.StorageHandle == handle {
			return true, nil
		}
	}
	return false, nil
}
