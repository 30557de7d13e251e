package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/aicollect/internal/models"
)

// StateRepository persists the per-user conversation step. Chat providers can
// redeliver events across process restarts, so the step lives in the store
// rather than in memory.
type StateRepository struct {
	db *sql.DB
}

func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get returns StepWelcomeSent for users with no stored state.
func (r *StateRepository) Get(ctx context.Context, lineUserID string) (models.Step, error) {
	const query = `SELECT step FROM conversation_state WHERE line_user_id = ?`
	var step string
	if err := r.db.QueryRowContext(ctx, query, lineUserID).Scan(&step); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.StepWelcomeSent, nil
		}
		return "", fmt.Errorf("get conversation state: %w", err)
	}
	return models.Step(step), nil
}

func (r *StateRepository) Set(ctx context.Context, lineUserID string, step models.Step) error {
	const query = `
INSERT INTO conversation_state (line_user_id, step)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE step = VALUES(step), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, lineUserID, string(step)); err != nil {
		return fmt.Errorf("set conversation state: %w", err)
	}
	return nil
}

func (r *StateRepository) Clear(ctx context.Context, lineUserID string) error {
	const query = `DELETE FROM conversation_state WHERE line_user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, lineUserID); err != nil {
		return fmt.Errorf("clear conversation state: %w", err)
	}
	return nil
}
