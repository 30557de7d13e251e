package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/aicollect/internal/models"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, company_id, content_label, COALESCE(stripe_subscription_id, ''), status, current_period_end, created_at, updated_at`

func scanSubscription(scan func(dest ...any) error) (*models.ContentSubscription, error) {
	var s models.ContentSubscription
	var periodEnd sql.NullTime
	if err := scan(&s.ID, &s.CompanyID, &s.ContentLabel, &s.StripeSubscriptionID, &s.Status, &periodEnd, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		t := periodEnd.Time
		s.CurrentPeriodEnd = &t
	}
	return &s, nil
}

// UpsertBase maintains the single monthly base-subscription row per company.
// On conflict only status and period end are overwritten, so redelivered
// webhooks never duplicate the row.
func (r *SubscriptionRepository) UpsertBase(ctx context.Context, companyID int64, stripeSubscriptionID, status string, periodEnd sql.NullTime) error {
	const query = `
INSERT INTO company_subscriptions (company_id, content_label, stripe_subscription_id, status, current_period_end)
VALUES (?, ?, NULLIF(?, ''), ?, ?)
ON DUPLICATE KEY UPDATE
    stripe_subscription_id = VALUES(stripe_subscription_id),
    status = VALUES(status),
    current_period_end = VALUES(current_period_end),
    updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, companyID, models.BaseContentLabel, stripeSubscriptionID, status, periodEnd); err != nil {
		return fmt.Errorf("upsert base subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) FindByLabel(ctx context.Context, companyID int64, label string) (*models.ContentSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM company_subscriptions WHERE company_id = ? AND content_label = ?`
	row := r.db.QueryRowContext(ctx, query, companyID, label)
	sub, err := scanSubscription(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return sub, nil
}

func (r *SubscriptionRepository) CreateContent(ctx context.Context, companyID int64, label, stripeSubscriptionID string, periodEnd *time.Time) error {
	const query = `
INSERT INTO company_subscriptions (company_id, content_label, stripe_subscription_id, status, current_period_end)
VALUES (?, ?, NULLIF(?, ''), ?, ?)`
	var end sql.NullTime
	if periodEnd != nil {
		end = sql.NullTime{Time: *periodEnd, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, companyID, label, stripeSubscriptionID, models.StatusActive, end); err != nil {
		return fmt.Errorf("insert content subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) SetStatus(ctx context.Context, id int64, status string) error {
	const query = `UPDATE company_subscriptions SET status = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	return nil
}

// Reactivate flips an inactive content row back to active and refreshes its
// billing anchor.
func (r *SubscriptionRepository) Reactivate(ctx context.Context, id int64, periodEnd *time.Time) error {
	const query = `UPDATE company_subscriptions SET status = ?, current_period_end = ?, updated_at = NOW() WHERE id = ?`
	var end sql.NullTime
	if periodEnd != nil {
		end = sql.NullTime{Time: *periodEnd, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, models.StatusActive, end, id); err != nil {
		return fmt.Errorf("reactivate subscription: %w", err)
	}
	return nil
}

// DisableAllForCompany marks every row inactive without deleting history.
func (r *SubscriptionRepository) DisableAllForCompany(ctx context.Context, companyID int64) error {
	const query = `UPDATE company_subscriptions SET status = ?, updated_at = NOW() WHERE company_id = ?`
	if _, err := r.db.ExecContext(ctx, query, models.StatusInactive, companyID); err != nil {
		return fmt.Errorf("disable subscriptions: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) ListByCompany(ctx context.Context, companyID int64) ([]models.ContentSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM company_subscriptions WHERE company_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.ContentSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan subscription list: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
