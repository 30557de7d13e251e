package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/aicollect/internal/models"
)

type CompanyRepository struct {
	db *sql.DB
}

func NewCompanyRepository(db *sql.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

const companyColumns = `id, company_name, email, COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''), trial_end, COALESCE(line_user_id, ''), status, welcome_pending, created_at, updated_at`

func (r *CompanyRepository) scanCompany(row *sql.Row) (*models.Company, error) {
	var c models.Company
	var trialEnd sql.NullTime
	var pending int
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.StripeCustomerID, &c.StripeSubscriptionID, &trialEnd, &c.LineUserID, &c.Status, &pending, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan company: %w", err)
	}
	if trialEnd.Valid {
		t := trialEnd.Time
		c.TrialEnd = &t
	}
	c.WelcomePending = pending != 0
	return &c, nil
}

func (r *CompanyRepository) FindByLineUserID(ctx context.Context, lineUserID string) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE line_user_id = ?`
	return r.scanCompany(r.db.QueryRowContext(ctx, query, lineUserID))
}

func (r *CompanyRepository) FindByID(ctx context.Context, id int64) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = ?`
	return r.scanCompany(r.db.QueryRowContext(ctx, query, id))
}

func (r *CompanyRepository) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE stripe_subscription_id = ?`
	return r.scanCompany(r.db.QueryRowContext(ctx, query, subscriptionID))
}

// FindByEmail expects the caller to pass an already-normalized address.
func (r *CompanyRepository) FindByEmail(ctx context.Context, email string) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE email = ?`
	return r.scanCompany(r.db.QueryRowContext(ctx, query, email))
}

// FindOldestUnlinkedPending returns the oldest company that paid before ever
// opening the chat: no chat link yet and a welcome still owed. Used to attach
// a fresh follow event to its company.
func (r *CompanyRepository) FindOldestUnlinkedPending(ctx context.Context) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE line_user_id IS NULL AND welcome_pending = 1 AND status != 'canceled' ORDER BY id LIMIT 1`
	return r.scanCompany(r.db.QueryRowContext(ctx, query))
}

func (r *CompanyRepository) Create(ctx context.Context, company *models.Company) (*models.Company, error) {
	const query = `
INSERT INTO companies (company_name, email, stripe_customer_id, stripe_subscription_id, trial_end, line_user_id, status, welcome_pending)
VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?)`
	pending := 0
	if company.WelcomePending {
		pending = 1
	}
	status := company.Status
	if status == "" {
		status = models.StatusActive
	}
	res, err := r.db.ExecContext(ctx, query, company.Name, company.Email, company.StripeCustomerID, company.StripeSubscriptionID, company.TrialEnd, company.LineUserID, status, pending)
	if err != nil {
		return nil, fmt.Errorf("insert company: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	company.ID = id
	company.Status = status
	return company, nil
}

func (r *CompanyRepository) UpdateBillingLink(ctx context.Context, companyID int64, customerID, subscriptionID string) error {
	const query = `
UPDATE companies SET stripe_customer_id = NULLIF(?, ''), stripe_subscription_id = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, customerID, subscriptionID, companyID); err != nil {
		return fmt.Errorf("update billing link: %w", err)
	}
	return nil
}

func (r *CompanyRepository) SetTrialEnd(ctx context.Context, companyID int64, trialEnd sql.NullTime) error {
	const query = `UPDATE companies SET trial_end = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, trialEnd, companyID); err != nil {
		return fmt.Errorf("set trial end: %w", err)
	}
	return nil
}

func (r *CompanyRepository) SetStatus(ctx context.Context, companyID int64, status string) error {
	const query = `UPDATE companies SET status = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, companyID); err != nil {
		return fmt.Errorf("set company status: %w", err)
	}
	return nil
}

// LinkLineUser claims the chat user id for a company. The unique constraint
// on line_user_id rejects a second link for the same chat user.
func (r *CompanyRepository) LinkLineUser(ctx context.Context, companyID int64, lineUserID string) error {
	const query = `UPDATE companies SET line_user_id = ?, welcome_pending = 0, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, lineUserID, companyID); err != nil {
		return fmt.Errorf("link line user: %w", err)
	}
	return nil
}

// UnlinkLineUser releases the chat link and marks the company claimable
// again, so a later follow can pick it back up.
func (r *CompanyRepository) UnlinkLineUser(ctx context.Context, lineUserID string) error {
	const query = `UPDATE companies SET line_user_id = NULL, welcome_pending = 1, updated_at = NOW() WHERE line_user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, lineUserID); err != nil {
		return fmt.Errorf("unlink line user: %w", err)
	}
	return nil
}

func (r *CompanyRepository) SetWelcomePending(ctx context.Context, companyID int64, pending bool) error {
	value := 0
	if pending {
		value = 1
	}
	const query = `UPDATE companies SET welcome_pending = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, value, companyID); err != nil {
		return fmt.Errorf("set welcome pending: %w", err)
	}
	return nil
}

func (r *CompanyRepository) List(ctx context.Context) ([]models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var companies []models.Company
	for rows.Next() {
		var c models.Company
		var trialEnd sql.NullTime
		var pending int
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.StripeCustomerID, &c.StripeSubscriptionID, &trialEnd, &c.LineUserID, &c.Status, &pending, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan company list: %w", err)
		}
		if trialEnd.Valid {
			t := trialEnd.Time
			c.TrialEnd = &t
		}
		c.WelcomePending = pending != 0
		companies = append(companies, c)
	}
	return companies, rows.Err()
}
