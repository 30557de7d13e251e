package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"bare", "user:pw@tcp(db:3306)/aicollect", "user:pw@tcp(db:3306)/aicollect?parseTime=true"},
		{"existing params", "user:pw@tcp(db:3306)/aicollect?charset=utf8mb4", "user:pw@tcp(db:3306)/aicollect?charset=utf8mb4&parseTime=true"},
		{"already set", "user:pw@tcp(db:3306)/aicollect?parseTime=true", "user:pw@tcp(db:3306)/aicollect?parseTime=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeDSN(tt.dsn))
		})
	}
}

func TestMigrateRunsStatementsIndividually(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS companies").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS company_subscriptions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS usage_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversation_state").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
