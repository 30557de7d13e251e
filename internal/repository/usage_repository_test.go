package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/aicollect/internal/models"
)

func usageRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "company_id", "content_label", "is_free", "pending_charge", "stripe_invoice_item_id", "created_at",
	})
}

func TestUsageFindByLabel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUsageRepository(db)
	created := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM usage_logs WHERE company_id").
		WithArgs(int64(1), "AI予定秘書").
		WillReturnRows(usageRows().AddRow(int64(5), int64(1), "AI予定秘書", 1, 0, "", created))

	entry, err := repo.FindByLabel(context.Background(), 1, "AI予定秘書")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(5), entry.ID)
	assert.True(t, entry.IsFree)
	assert.False(t, entry.PendingCharge)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageFindByLabelMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUsageRepository(db)
	mock.ExpectQuery("SELECT (.+) FROM usage_logs WHERE company_id").
		WithArgs(int64(1), "AI経理秘書").
		WillReturnRows(usageRows())

	entry, err := repo.FindByLabel(context.Background(), 1, "AI経理秘書")
	require.NoError(t, err)
	assert.Nil(t, entry, "missing entry is nil, not an error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageInsertSetsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUsageRepository(db)
	mock.ExpectExec("INSERT INTO usage_logs").
		WithArgs(int64(1), "AI経理秘書", 0, 1, "").
		WillReturnResult(sqlmock.NewResult(7, 1))

	entry := &models.UsageLogEntry{CompanyID: 1, ContentLabel: "AI経理秘書", PendingCharge: true}
	require.NoError(t, repo.Insert(context.Background(), entry))
	assert.Equal(t, int64(7), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageInsertDuplicateKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUsageRepository(db)
	mock.ExpectExec("INSERT INTO usage_logs").
		WithArgs(int64(1), "AI経理秘書", 0, 0, "").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	entry := &models.UsageLogEntry{CompanyID: 1, ContentLabel: "AI経理秘書"}
	err = repo.Insert(context.Background(), entry)
	assert.ErrorIs(t, err, ErrDuplicateEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageMarkChargedGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUsageRepository(db)

	mock.ExpectExec("UPDATE usage_logs SET pending_charge = 0, stripe_invoice_item_id").
		WithArgs("ii_1", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	cleared, err := repo.MarkCharged(context.Background(), 5, "ii_1")
	require.NoError(t, err)
	assert.True(t, cleared)

	// A second run hits zero rows: the flag is already cleared.
	mock.ExpectExec("UPDATE usage_logs SET pending_charge = 0, stripe_invoice_item_id").
		WithArgs("ii_1", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	cleared, err = repo.MarkCharged(context.Background(), 5, "ii_1")
	require.NoError(t, err)
	assert.False(t, cleared)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageListPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUsageRepository(db)
	created := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM usage_logs WHERE company_id = \\? AND pending_charge = 1").
		WithArgs(int64(1)).
		WillReturnRows(usageRows().
			AddRow(int64(2), int64(1), "AI経理秘書", 0, 1, "", created).
			AddRow(int64(3), int64(1), "AIタスクコンシェルジュ", 0, 1, "", created))

	entries, err := repo.ListPending(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].PendingCharge)
	assert.NoError(t, mock.ExpectationsWereMet())
}
