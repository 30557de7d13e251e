package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/digkill/aicollect/internal/models"
)

// ErrDuplicateEntry reports a unique-key rejection on insert.
var ErrDuplicateEntry = errors.New("duplicate usage entry")

type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

const usageColumns = `id, company_id, content_label, is_free, pending_charge, COALESCE(stripe_invoice_item_id, ''), created_at`

func scanUsage(scan func(dest ...any) error) (*models.UsageLogEntry, error) {
	var e models.UsageLogEntry
	var isFree, pending int
	if err := scan(&e.ID, &e.CompanyID, &e.ContentLabel, &isFree, &pending, &e.StripeInvoiceItemID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.IsFree = isFree != 0
	e.PendingCharge = pending != 0
	return &e, nil
}

func (r *UsageRepository) FindByLabel(ctx context.Context, companyID int64, label string) (*models.UsageLogEntry, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_logs WHERE company_id = ? AND content_label = ?`
	row := r.db.QueryRowContext(ctx, query, companyID, label)
	entry, err := scanUsage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan usage entry: %w", err)
	}
	return entry, nil
}

func (r *UsageRepository) CountByCompany(ctx context.Context, companyID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM usage_logs WHERE company_id = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, companyID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count usage entries: %w", err)
	}
	return count, nil
}

func (r *UsageRepository) Insert(ctx context.Context, entry *models.UsageLogEntry) error {
	const query = `
INSERT INTO usage_logs (company_id, content_label, is_free, pending_charge, stripe_invoice_item_id)
VALUES (?, ?, ?, ?, NULLIF(?, ''))`
	isFree, pending := 0, 0
	if entry.IsFree {
		isFree = 1
	}
	if entry.PendingCharge {
		pending = 1
	}
	res, err := r.db.ExecContext(ctx, query, entry.CompanyID, entry.ContentLabel, isFree, pending, entry.StripeInvoiceItemID)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("insert usage entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

func (r *UsageRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM usage_logs WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete usage entry: %w", err)
	}
	return nil
}

// ListByCompany returns entries in creation order; the index in this slice
// plus one is the billing position.
func (r *UsageRepository) ListByCompany(ctx context.Context, companyID int64) ([]models.UsageLogEntry, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_logs WHERE company_id = ? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("list usage entries: %w", err)
	}
	defer rows.Close()

	var entries []models.UsageLogEntry
	for rows.Next() {
		entry, err := scanUsage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan usage list: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (r *UsageRepository) ListPending(ctx context.Context, companyID int64) ([]models.UsageLogEntry, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_logs WHERE company_id = ? AND pending_charge = 1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer rows.Close()

	var entries []models.UsageLogEntry
	for rows.Next() {
		entry, err := scanUsage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan pending list: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// MarkCharged clears the pending flag and records the invoice item, but only
// if the entry is still pending. The rows-affected result guards invoice-item
// creation against webhook redelivery races.
func (r *UsageRepository) MarkCharged(ctx context.Context, id int64, invoiceItemID string) (bool, error) {
	const query = `
UPDATE usage_logs SET pending_charge = 0, stripe_invoice_item_id = ?
WHERE id = ? AND pending_charge = 1`
	res, err := r.db.ExecContext(ctx, query, invoiceItemID, id)
	if err != nil {
		return false, fmt.Errorf("mark usage charged: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark charged rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearPending voids a deferred charge without deleting the row.
func (r *UsageRepository) ClearPending(ctx context.Context, id int64) error {
	const query = `UPDATE usage_logs SET pending_charge = 0 WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("clear pending charge: %w", err)
	}
	return nil
}

func (r *UsageRepository) SetInvoiceItem(ctx context.Context, id int64, invoiceItemID string) error {
	const query = `UPDATE usage_logs SET stripe_invoice_item_id = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, invoiceItemID, id); err != nil {
		return fmt.Errorf("set invoice item: %w", err)
	}
	return nil
}
