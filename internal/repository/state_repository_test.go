package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/aicollect/internal/models"
)

func TestStateGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewStateRepository(db)
	mock.ExpectQuery("SELECT step FROM conversation_state").
		WithArgs("U1").
		WillReturnRows(sqlmock.NewRows([]string{"step"}).AddRow("add_select"))

	step, err := repo.Get(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, models.StepAddSelect, step)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateGetMissingDefaultsToWelcome(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewStateRepository(db)
	mock.ExpectQuery("SELECT step FROM conversation_state").
		WithArgs("U9").
		WillReturnRows(sqlmock.NewRows([]string{"step"}))

	step, err := repo.Get(context.Background(), "U9")
	require.NoError(t, err)
	assert.Equal(t, models.StepWelcomeSent, step)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateSetUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewStateRepository(db)
	mock.ExpectExec("INSERT INTO conversation_state").
		WithArgs("U1", "cancel_confirm_2").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Set(context.Background(), "U1", models.CancelConfirmStep(2)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateClear(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewStateRepository(db)
	mock.ExpectExec("DELETE FROM conversation_state").
		WithArgs("U1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Clear(context.Background(), "U1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
