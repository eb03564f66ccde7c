package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "7d3c1a9e-1111-4000-8000-000000000001"

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQLRepository(db, Dollar), mock, db
}

var recordColumns = []string{"id", "sender_id", "recipient_id", "file_name", "file_size", "file_type", "storage_handle", "status", "created_at", "transferred_at"}

func TestRebind(t *testing.T) {
	r := &SQLRepository{placeholder: Dollar}
	assert.Equal(t, "a = $1 AND b = $2", r.rebind("a = ? AND b = ?"))

	r.placeholder = Question
	assert.Equal(t, "a = ? AND b = ?", r.rebind("a = ? AND b = ?"))
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+transfers\s*\(.*\)\s*VALUES\s*\(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10\)$`).
		WithArgs(sqlmock.AnyArg(), "alice", "bob", "a.pdf", int64(10), "application/pdf", "h", "pending", now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := &models.TransferRecord{SenderID: "alice", RecipientID: "bob", FileName: "a.pdf", FileSize: 10, FileType: "application/pdf", StorageHandle: "h"}
	id, err := repo.Create(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, now, rec.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO transfers`).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.TransferRecord{SenderID: "a"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGet_NotFoundAndError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	ctx := context.Background()

	_, err := repo.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	mock.ExpectQuery(`SELECT .* FROM transfers WHERE id = \$1`).WithArgs(testID).WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(ctx, testID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	mock.ExpectQuery(`SELECT .* FROM transfers WHERE id = \$1`).WithArgs(testID).WillReturnError(errors.New("boom"))
	_, err = repo.Get(ctx, testID)
	assert.ErrorContains(t, err, "failed to select transfer: boom")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_ScansNullableTransferredAt(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	done := created.Add(time.Hour)
	mock.ExpectQuery(`SELECT .* FROM transfers WHERE id = \$1`).WithArgs(testID).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(testID, "alice", "bob", "a.pdf", int64(10), "application/pdf", "h", "completed", created, done))

	rec, err := repo.Get(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	require.NotNil(t, rec.TransferredAt)
	assert.Equal(t, done, *rec.TransferredAt)
}

func TestListFor_OrderAndErrors(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)SELECT .* FROM transfers\s+WHERE sender_id = \$1 OR recipient_id = \$2\s+ORDER BY created_at DESC, id DESC`).
		WithArgs("alice", "alice").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("2", "alice", "bob", "b", int64(1), "text/plain", "", "pending", created.Add(time.Minute), nil).
			AddRow("1", "bob", "alice", "a", int64(1), "text/plain", "", "failed", created, nil))

	list, err := repo.ListFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].ID)
	assert.Nil(t, list[1].TransferredAt)

	mock.ExpectQuery(`SELECT .* FROM transfers`).WillReturnError(errors.New("boom"))
	_, err = repo.ListFor(ctx, "alice")
	assert.ErrorContains(t, err, "failed to select transfers")

	mock.ExpectQuery(`SELECT .* FROM transfers`).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("1", "bob", "alice", "a", int64(1), "text/plain", "", "pending", created, nil).
			RowError(0, errors.New("row-err")))
	_, err = repo.ListFor(ctx, "alice")
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM transfers WHERE id = \$1`).WithArgs(testID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("accepted"))
	mock.ExpectExec(`(?s)UPDATE transfers\s+SET status = \$1, transferred_at = COALESCE\(\$2, transferred_at\)\s+WHERE id = \$3 AND status = \$4`).
		WithArgs("completed", at, testID, "accepted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateStatus(context.Background(), testID, models.StatusCompleted, &at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_RejectsBackwardMove(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM transfers WHERE id = \$1`).WithArgs(testID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	err := repo.UpdateStatus(context.Background(), testID, models.StatusPending, nil)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_LostRace(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM transfers`).WithArgs(testID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec(`UPDATE transfers`).
		WithArgs("failed", nil, testID, "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdateStatus(context.Background(), testID, models.StatusFailed, nil)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NotFoundAndInvalid(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	ctx := context.Background()

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "bad", models.StatusFailed, nil), common.ErrorNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, testID, "archived", nil), common.ErrInvalidTransition)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM transfers`).WithArgs(testID).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.UpdateStatus(ctx, testID, models.StatusFailed, nil), common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM transfers WHERE id = \$1`).WithArgs(testID).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(ctx, testID))

	mock.ExpectExec(`DELETE FROM transfers`).WithArgs(testID).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(ctx, testID), common.ErrorNotFound)

	mock.ExpectExec(`DELETE FROM transfers`).WithArgs(testID).WillReturnError(errors.New("boom"))
	assert.ErrorContains(t, repo.Delete(ctx, testID), "failed to delete transfer")

	mock.ExpectExec(`DELETE FROM transfers`).WithArgs(testID).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))
	assert.ErrorContains(t, repo.Delete(ctx, testID), "failed to get rows affected")

	assert.ErrorIs(t, repo.Delete(ctx, "bad"), common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleInUse(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	ctx := context.Background()

	q := regexp.QuoteMeta(`SELECT COUNT(*) FROM transfers WHERE storage_handle = $1`)

	mock.ExpectQuery(q).WithArgs("h1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	used, err := repo.HandleInUse(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, used)

	mock.ExpectQuery(q).WithArgs("h2").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	used, err = repo.HandleInUse(ctx, "h2")
	require.NoError(t, err)
	assert.False(t, used)

	mock.ExpectQuery(q).WithArgs("h3").WillReturnError(errors.New("boom"))
	_, err = repo.HandleInUse(ctx, "h3")
	assert.ErrorContains(t, err, "failed to count handle references")

	used, err = repo.HandleInUse(ctx, "")
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, mock.ExpectationsWereMet())
}
