// Package records stores TransferRecords. Access control is the caller's
// job; the store only guarantees that statuses move forward.
package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/server/models"
)

type Repository interface {
	// Create assigns an id when rec.ID is empty and returns it.
	Create(ctx context.Context, rec *models.TransferRecord) (string, error)
	Get(ctx context.Context, id string) (*models.TransferRecord, error)
	// ListFor returns the records identity sent or received, newest first.
	ListFor(ctx context.Context, identity string) ([]*models.TransferRecord, error)
	// UpdateStatus moves the record forward; any other move fails with
	// common.ErrInvalidTransition. at, when non-nil, sets TransferredAt.
	UpdateStatus(ctx context.Context, id string, status models.TransferStatus, at *time.Time) error
	Delete(ctx context.Context, id string) error
	// HandleInUse reports whether any record references the stored object.
	HandleInUse(ctx context.Context, handle string) (bool, error)
}
