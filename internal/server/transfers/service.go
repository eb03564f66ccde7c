// Package transfers is the caller-facing layer over the transfer record
// store: it validates new records, enforces that only the sender or the
// recipient can see or delete a record, and keeps stored content in step
// with record deletion.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/logging"
	"github.com/dmitrijs2005/filerelay/internal/server/models"
	"github.com/dmitrijs2005/filerelay/internal/server/repositories/records"
	"github.com/dmitrijs2005/filerelay/internal/server/storage"
)

// Storage is what the service needs from the encrypted storage manager.
type Storage interface {
	Retrieve(ctx context.Context, handle string) (*storage.Plaintext, func(), error)
	Delete(ctx context.Context, handle string) error
	Owner(ctx context.Context, handle string) (string, error)
	Allowed(mimeType string) bool
}

// RecordRequest describes a transfer the caller wants on record.
type RecordRequest struct {
	RecipientID   string `json:"recipientId"`
	FileName      string `json:"fileName"`
	FileSize      int64  `json:"fileSize"`
	FileType      string `json:"fileType"`
	StorageHandle string `json:"storageHandle,omitempty"`
}

type Service struct {
	// handleMu serializes the ownership check and insert of records that
	// reference stored content.
	handleMu sync.Mutex

	repo    records.Repository
	storage Storage
	logger  logging.Logger
	now     func() time.Time
}

func NewService(repo records.Repository, st Storage, logger logging.Logger) *Service {
	return &Service{repo: repo, storage: st, logger: logger.With("module", "transfers"), now: time.Now}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

// Record stores a pending transfer sent by caller.
func (s *Service) Record(ctx context.Context, caller string, req RecordRequest) (*models.TransferRecord, error) {
	req.RecipientID = strings.TrimSpace(req.RecipientID)
	req.FileName = strings.TrimSpace(req.FileName)

	switch {
	case caller == "":
		return nil, common.ErrorUnauthorized
	case req.RecipientID == "":
		return nil, validationf("recipientId is required")
	case req.RecipientID == caller:
		return nil, validationf("cannot send a file to yourself")
	case req.FileName == "":
		return nil, validationf("fileName is required")
	case req.FileSize <= 0:
		return nil, validationf("fileSize must be positive")
	case !s.storage.Allowed(req.FileType):
		return nil, fmt.Errorf("%w: %w: %q", common.ErrValidation, common.ErrTypeNotAllowed, req.FileType)
	}

	if req.StorageHandle != "" {
		s.handleMu.Lock()
		defer s.handleMu.Unlock()

		if err := s.checkHandle(ctx, caller, req.StorageHandle); err != nil {
			return nil, err
		}
	}

	rec := &models.TransferRecord{
		SenderID:      caller,
		RecipientID:   req.RecipientID,
		FileName:      req.FileName,
		FileSize:      req.FileSize,
		FileType:      req.FileType,
		StorageHandle: req.StorageHandle,
		Status:        models.StatusPending,
		CreatedAt:     s.now().UTC(),
	}

	if _, err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "transfer recorded", "transfer_id", rec.ID, "sender", caller, "recipient", rec.RecipientID, "file_name", rec.FileName)
	return rec, nil
}

// checkHandle allows a stored object on one record only, and only on a
// record sent by whoever uploaded it.
func (s *Service) checkHandle(ctx context.Context, caller, handle string) error {
	owner, err := s.storage.Owner(ctx, handle)
	if errors.Is(err, common.ErrorNotFound) {
		return validationf("unknown storage handle %q", handle)
	}
	if err != nil {
		return err
	}
	if owner != caller {
		return fmt.Errorf("storage handle %q was uploaded by another user: %w", handle, common.ErrForbidden)
	}

	used, err := s.repo.HandleInUse(ctx, handle)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("storage handle %q is already on record: %w", handle, common.ErrAlreadyExists)
	}
	return nil
}

// List returns caller's transfers, newest first.
func (s *Service) List(ctx context.Context, caller string) ([]*models.TransferRecord, error) {
	if caller == "" {
		return nil, common.ErrorUnauthorized
	}
	return s.repo.ListFor(ctx, caller)
}

// Get returns the record if caller sent or received it.
func (s *Service) Get(ctx context.Context, caller, id string) (*models.TransferRecord, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Involves(caller) {
		return nil, common.ErrForbidden
	}
	return rec, nil
}

// Delete removes the stored content and then the record.
func (s *Service) Delete(ctx context.Context, caller, id string) error {
	rec, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}

	if rec.StorageHandle != "" {
		if err := s.storage.Delete(ctx, rec.StorageHandle); err != nil {
			return err
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info(ctx, "transfer deleted", "transfer_id", id, "by", caller)
	return nil
}

// Download opens the stored content of a record for caller. The returned
// release func must be called once the content has been consumed.
func (s *Service) Download(ctx context.Context, caller, id string) (*models.TransferRecord, *storage.Plaintext, func(), error) {
	rec, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if rec.StorageHandle == "" {
		return nil, nil, nil, fmt.Errorf("transfer %s has no stored content: %w", id, common.ErrorNotFound)
	}

	pt, release, err := s.storage.Retrieve(ctx, rec.StorageHandle)
	if err != nil {
		return nil, nil, nil, err
	}
	return rec, pt, release, nil
}

// RelayRecords adapts the service for the relay state machine.
func (s *Service) RelayRecords() *RelayRecords {
	return &RelayRecords{repo: s.repo}
}

// RelayRecords applies session outcomes to records. Failing a record that
// already finished is a no-op.
type RelayRecords struct {
	repo records.Repository
}

func (r *RelayRecords) Lookup(ctx context.Context, id string) (*models.TransferRecord, error) {
	return r.repo.Get(ctx, id)
}

func (r *RelayRecords) MarkAccepted(ctx context.Context, id string) error {
	return r.repo.UpdateStatus(ctx, id, models.StatusAccepted, nil)
}

func (r *RelayRecords) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return r.repo.UpdateStatus(ctx, id, models.StatusCompleted, &at)
}

func (r *RelayRecords) MarkFailed(ctx context.Context, id string) error {
	err := r.repo.UpdateStatus(ctx, id, models.StatusFailed, nil)
	if errors.Is(err, common.ErrInvalidTransition) {
		return nil
	}
	return err
}
