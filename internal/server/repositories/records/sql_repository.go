package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/dbx"
	"github.com/dmitrijs2005/filerelay/internal/server/models"
	"github.com/google/uuid"
)

// Placeholder styles.
const (
	Dollar   = iota // $1, $2 (postgres)
	Question        // ?, ? (sqlite)
)

// SQLRepository is the database/sql implementation shared by the postgres
// and sqlite drivers.
type SQLRepository struct {
	db          *sql.DB
	placeholder int
	now         func() time.Time
}

func NewSQLRepository(db *sql.DB, placeholder int) *SQLRepository {
	return &SQLRepository{db: db, placeholder: placeholder, now: time.Now}
}

// rebind rewrites ? placeholders for the driver.
func (r *SQLRepository) rebind(query string) string {
	if r.placeholder == Question {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

const selectColumns = `id, sender_id, recipient_id, file_name, file_size, file_type, storage_handle, status, created_at, transferred_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.TransferRecord, error) {
	var (
		rec         models.TransferRecord
		status      string
		transferred sql.NullTime
	)
	err := s.Scan(&rec.ID, &rec.SenderID, &rec.RecipientID, &rec.FileName, &rec.FileSize,
		&rec.FileType, &rec.StorageHandle, &status, &rec.CreatedAt, &transferred)
	if err != nil {
		return nil, err
	}
	rec.Status = models.TransferStatus(status)
	if transferred.Valid {
		t := transferred.Time
		rec.TransferredAt = &t
	}
	return &rec, nil
}

func (r *SQLRepository) Create(ctx context.Context, rec *models.TransferRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := rec.Status
	if status == "" {
		status = models.StatusPending
	}
	createdAt := rec.CreatedAt.UTC()
	if rec.CreatedAt.IsZero() {
		createdAt = r.now().UTC()
	}

	query := r.rebind(`INSERT INTO transfers (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var transferred sql.NullTime
	if rec.TransferredAt != nil {
		transferred = sql.NullTime{Time: *rec.TransferredAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query, id, rec.SenderID, rec.RecipientID, rec.FileName, rec.FileSize,
		rec.FileType, rec.StorageHandle, string(status), createdAt, transferred)
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}

	rec.ID, rec.Status, rec.CreatedAt = id, status, createdAt
	return id, nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.TransferRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}

	query := r.rebind(`SELECT ` + selectColumns + ` FROM transfers WHERE id = ?`)

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select transfer: %w", err)
	}
	return rec, nil
}

func (r *SQLRepository) ListFor(ctx context.Context, identity string) ([]*models.TransferRecord, error) {
	query := r.rebind(`SELECT ` + selectColumns + ` FROM transfers
		WHERE sender_id = ? OR recipient_id = ?
		ORDER BY created_at DESC, id DESC`)

	rows, err := r.db.QueryContext(ctx, query, identity, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to select transfers: %w", err)
	}
	defer rows.Close()

	result := []*models.TransferRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateStatus reads the current status and swaps it in one transaction.
// The UPDATE is guarded by the status it read, so a concurrent writer that
// got there first turns this call into ErrInvalidTransition instead of a
// lost update.
func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, status models.TransferStatus, at *time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", common.ErrInvalidTransition, status)
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var current string
		err := tx.QueryRowContext(ctx, r.rebind(`SELECT status FROM transfers WHERE id = ?`), id).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrorNotFound
			}
			return fmt.Errorf("failed to select status: %w", err)
		}

		from := models.TransferStatus(current)
		if !from.CanMoveTo(status) {
			return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, from, status)
		}

		var transferred sql.NullTime
		if at != nil {
			transferred = sql.NullTime{Time: at.UTC(), Valid: true}
		}

		res, err := tx.ExecContext(ctx, r.rebind(`UPDATE transfers
			SET status = ?, transferred_at = COALESCE(?, transferred_at)
			WHERE id = ? AND status = ?`), string(status), transferred, id, current)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected error: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("%w: %s changed concurrently", common.ErrInvalidTransition, id)
		}
		return nil
	})
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM transfers WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func (r *SQLRepository) HandleInUse(ctx context.Context, handle string) (bool, error) {
	if handle == "" {
		return false, nil
	}

	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM transfers WHERE storage_handle = ?`), handle).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count handle references: %w", err)
	}
	return n > 0, nil
}
